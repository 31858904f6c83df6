// Package stages provides the concrete pipeline stage handlers: discovery and export
// against GitLab, the transform engines over exported artifacts, an inspectable plan,
// and its application to and verification against GitHub.
package stages
