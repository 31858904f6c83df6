package execshell

import "sync"

// CommandEventObserver receives lifecycle notifications for shell command execution.
// Commands passed to observers have credentials redacted.
type CommandEventObserver interface {
	CommandStarted(command ShellCommand)
	CommandCompleted(command ShellCommand, result ExecutionResult)
	CommandExecutionFailed(command ShellCommand, failure error)
}

type noopCommandEventObserver struct{}

func (noopCommandEventObserver) CommandStarted(ShellCommand) {}

func (noopCommandEventObserver) CommandCompleted(ShellCommand, ExecutionResult) {}

func (noopCommandEventObserver) CommandExecutionFailed(ShellCommand, error) {}

// CommandCounter is an observer that tallies completed commands per executable.
type CommandCounter struct {
	mutex  sync.Mutex
	counts map[CommandName]int
}

// NewCommandCounter creates an empty counter.
func NewCommandCounter() *CommandCounter {
	return &CommandCounter{counts: map[CommandName]int{}}
}

// CommandStarted is a no-op.
func (counter *CommandCounter) CommandStarted(ShellCommand) {}

// CommandCompleted counts a finished command regardless of exit code.
func (counter *CommandCounter) CommandCompleted(command ShellCommand, _ ExecutionResult) {
	counter.mutex.Lock()
	defer counter.mutex.Unlock()
	counter.counts[command.Name]++
}

// CommandExecutionFailed is a no-op.
func (counter *CommandCounter) CommandExecutionFailed(ShellCommand, error) {}

// Count returns the number of completed commands for the executable.
func (counter *CommandCounter) Count(name CommandName) int {
	counter.mutex.Lock()
	defer counter.mutex.Unlock()
	return counter.counts[name]
}
