// Package githubcli talks to the GitHub REST API through `gh api`.
//
// Every request runs `gh api --include` via execshell so the HTTP status and headers
// come back with the body. Non-success statuses surface as *failures.StatusError,
// including the Retry-After or rate-limit reset time when GitHub reports one.
package githubcli
