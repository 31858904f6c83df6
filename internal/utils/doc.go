// Package utils holds the ambient plumbing shared by every gl2gh command: the
// layered Viper configuration loader, the zap logger factory and a writer that
// flushes progress output as it is produced.
package utils
