package progress

import (
	"time"

	"github.com/moti-malka/gl2gh/internal/migration"
)

// Update is one progress event of a run.
type Update struct {
	RunID        string                `json:"run_id"`
	Status       migration.RunStatus   `json:"status"`
	Stage        string                `json:"stage"`
	Project      string                `json:"project,omitempty"`
	ProjectStage migration.Stage       `json:"project_stage,omitempty"`
	StageStatus  migration.StageStatus `json:"stage_status,omitempty"`
	Stats        migration.RunStats    `json:"stats"`
	OccurredAt   time.Time             `json:"occurred_at"`
}

// Terminal reports whether the update closes the run's stream.
func (update Update) Terminal() bool {
	return update.Status.Terminal()
}

// Publisher receives progress updates. Implementations must not block the caller.
type Publisher interface {
	Publish(update Update)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(update Update)

// Publish calls the function.
func (publisherFunc PublisherFunc) Publish(update Update) {
	publisherFunc(update)
}

// NoopPublisher discards updates.
type NoopPublisher struct{}

// Publish does nothing.
func (NoopPublisher) Publish(Update) {}

// Fanout returns a Publisher that forwards every update to each non-nil publisher in order.
func Fanout(publishers ...Publisher) Publisher {
	targets := make([]Publisher, 0, len(publishers))
	for _, publisher := range publishers {
		if publisher != nil {
			targets = append(targets, publisher)
		}
	}
	return PublisherFunc(func(update Update) {
		for _, target := range targets {
			target.Publish(update)
		}
	})
}
