// Package gitlab reads projects, repository files, issues, merge requests and notes
// from the GitLab REST API.
//
// Non-success responses are returned as *failures.StatusError so stage handlers can
// classify them without inspecting HTTP details.
package gitlab
