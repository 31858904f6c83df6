// Package transform exposes the CI/CD, content and submodule transformation engines
// as standalone file-based commands.
package transform
