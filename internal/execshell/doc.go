// Package execshell runs git and gh as child processes.
//
// ShellExecutor logs every invocation with credentials stripped from URLs,
// reports non-zero exits as CommandFailedError, and delegates process
// creation to a CommandRunner so callers can substitute a fake in tests.
package execshell
