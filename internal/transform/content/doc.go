// Package content converts GitLab issues, merge requests and comments into
// their GitHub form: attribution header, mention and reference rewriting,
// label sanitizing and state mapping.
package content
