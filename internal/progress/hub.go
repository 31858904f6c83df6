package progress

import (
	"sync"

	"go.uber.org/zap"
)

const (
	defaultSubscriberBufferConstant = 64
	updateDroppedMessageConstant    = "Progress update dropped for slow subscriber"
	runIDFieldConstant              = "run_id"
)

type subscription struct {
	runID   string
	updates chan Update
}

// Hub fans progress updates out to per-run subscribers. A subscriber whose buffer is
// full misses the update; the publisher never waits.
type Hub struct {
	mutex         sync.Mutex
	logger        *zap.Logger
	bufferSize    int
	subscriptions map[*subscription]struct{}
	dropped       int
}

// NewHub constructs a Hub. A non-positive buffer size selects the default.
func NewHub(logger *zap.Logger, bufferSize int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBufferConstant
	}
	return &Hub{
		logger:        logger,
		bufferSize:    bufferSize,
		subscriptions: map[*subscription]struct{}{},
	}
}

// Subscribe registers for updates of the run. An empty run identifier receives every run.
// The returned function unsubscribes and closes the channel; it is safe to call twice.
func (hub *Hub) Subscribe(runID string) (<-chan Update, func()) {
	registered := &subscription{runID: runID, updates: make(chan Update, hub.bufferSize)}
	hub.mutex.Lock()
	hub.subscriptions[registered] = struct{}{}
	hub.mutex.Unlock()

	var unsubscribeOnce sync.Once
	return registered.updates, func() {
		unsubscribeOnce.Do(func() {
			hub.mutex.Lock()
			delete(hub.subscriptions, registered)
			hub.mutex.Unlock()
			close(registered.updates)
		})
	}
}

// Publish delivers the update to every matching subscriber.
func (hub *Hub) Publish(update Update) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	for registered := range hub.subscriptions {
		if len(registered.runID) > 0 && registered.runID != update.RunID {
			continue
		}
		select {
		case registered.updates <- update:
		default:
			hub.dropped++
			hub.logger.Debug(updateDroppedMessageConstant, zap.String(runIDFieldConstant, update.RunID))
		}
	}
}

// Dropped returns the number of updates lost to full subscriber buffers.
func (hub *Hub) Dropped() int {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	return hub.dropped
}

// Subscribers returns the number of active subscriptions.
func (hub *Hub) Subscribers() int {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	return len(hub.subscriptions)
}
