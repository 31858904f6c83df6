package pipeline

import (
	"time"

	"github.com/moti-malka/gl2gh/internal/migration"
)

// Transition describes one stage status change.
type Transition struct {
	RunID      string                `json:"run_id"`
	Project    string                `json:"project"`
	Stage      migration.Stage       `json:"stage"`
	From       migration.StageStatus `json:"from"`
	To         migration.StageStatus `json:"to"`
	OccurredAt time.Time             `json:"occurred_at"`
}

// TransitionObserver is notified after every stage transition. An error aborts the advance.
type TransitionObserver interface {
	StageTransitioned(transition Transition) error
}

// TransitionObserverFunc adapts a function to TransitionObserver.
type TransitionObserverFunc func(transition Transition) error

// StageTransitioned calls the function.
func (observerFunc TransitionObserverFunc) StageTransitioned(transition Transition) error {
	return observerFunc(transition)
}

type noopTransitionObserver struct{}

func (noopTransitionObserver) StageTransitioned(Transition) error {
	return nil
}
