// Package submodule rewrites .gitmodules so submodule URLs point at migrated
// repositories. Unmapped submodules stay untouched and are reported as external.
package submodule
