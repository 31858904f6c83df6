// Package transform holds the outcome type shared by the CI/CD, content and
// submodule engines. Engines never panic or return Go errors; every failure is
// reported through Result.Errors with Success false and no Data.
package transform
