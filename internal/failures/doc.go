// Package failures classifies raw platform, transport, and validation errors into the
// fixed migration error taxonomy (auth, permission, validation, rate_limit, network,
// unknown) so stage handlers never leak platform-specific failures into the pipeline.
package failures
