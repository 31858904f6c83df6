// Package migrate provides the migrate and resume commands, which run batches of
// GitLab projects through the migration pipeline and continue stored runs.
package migrate
