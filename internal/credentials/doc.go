// Package credentials resolves platform access tokens from the environment for
// configurations that leave them empty.
package credentials
