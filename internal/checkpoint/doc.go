// Package checkpoint persists resumable progress for one export operation.
//
// A Store keeps one record per exported component and rewrites the whole JSON
// document atomically after every mutation. A missing or unreadable document
// loads as a fresh checkpoint.
package checkpoint
