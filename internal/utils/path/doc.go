// Package pathutils expands user-facing filesystem paths such as the run database
// and artifact root.
package pathutils
