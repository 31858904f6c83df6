package checkpoint

import (
	"maps"
	"time"
)

// DocumentVersion is the checkpoint format written by this package.
const DocumentVersion = 1

// ComponentStatus describes the state of one exported component.
type ComponentStatus string

// Component statuses.
const (
	ComponentStatusInProgress ComponentStatus = ComponentStatus("in_progress")
	ComponentStatusCompleted  ComponentStatus = ComponentStatus("completed")
	ComponentStatusFailed     ComponentStatus = ComponentStatus("failed")
)

// ErrorEntry is one recorded component failure.
type ErrorEntry struct {
	Component  string    `json:"component"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ComponentCheckpoint is the resumability record of one component.
//
// LastItem is an opaque cursor owned by the exporting component.
type ComponentCheckpoint struct {
	Status         ComponentStatus `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	LastItem       *string         `json:"last_item,omitempty"`
	TotalItems     *int            `json:"total_items,omitempty"`
	ProcessedItems int             `json:"processed_items"`
	Errors         []ErrorEntry    `json:"errors"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// Document is the persisted checkpoint file.
type Document struct {
	Version    int                             `json:"version"`
	CreatedAt  time.Time                       `json:"created_at"`
	UpdatedAt  time.Time                       `json:"updated_at"`
	Components map[string]*ComponentCheckpoint `json:"components"`
	Errors     []ErrorEntry                    `json:"errors"`
}

func newDocument(createdAt time.Time) Document {
	return Document{
		Version:    DocumentVersion,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
		Components: map[string]*ComponentCheckpoint{},
		Errors:     []ErrorEntry{},
	}
}

func (document Document) clone() Document {
	cloned := document
	cloned.Components = make(map[string]*ComponentCheckpoint, len(document.Components))
	for component, record := range document.Components {
		cloned.Components[component] = record.clone()
	}
	cloned.Errors = append([]ErrorEntry{}, document.Errors...)
	return cloned
}

func (record *ComponentCheckpoint) clone() *ComponentCheckpoint {
	cloned := *record
	if record.CompletedAt != nil {
		completedAt := *record.CompletedAt
		cloned.CompletedAt = &completedAt
	}
	if record.LastItem != nil {
		lastItem := *record.LastItem
		cloned.LastItem = &lastItem
	}
	if record.TotalItems != nil {
		totalItems := *record.TotalItems
		cloned.TotalItems = &totalItems
	}
	cloned.Errors = append([]ErrorEntry{}, record.Errors...)
	cloned.Metadata = maps.Clone(record.Metadata)
	return &cloned
}
