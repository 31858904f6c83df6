// Package cicd converts a .gitlab-ci.yml document into a GitHub Actions
// workflow. Constructs without a faithful equivalent are reported as
// conversion gaps in the result metadata instead of being approximated.
package cicd
