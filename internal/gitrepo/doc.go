// Package gitrepo parses and rewrites git remote URLs and maintains bare
// mirror clones used to move repository history between platforms.
//
// Remote URLs are understood in https, http, ssh:// and scp-like forms with
// nested namespaces; NormalizedKey gives the protocol-independent lookup key.
package gitrepo
