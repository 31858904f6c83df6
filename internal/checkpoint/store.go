package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// MaxComponentErrors bounds the error history kept per component.
	MaxComponentErrors = 50
	// MaxGlobalErrors bounds the error history kept for the whole checkpoint.
	MaxGlobalErrors    = 100

	checkpointDirectoryPermissionsConstant = fs.FileMode(0o755)
	checkpointFilePermissionsConstant      = fs.FileMode(0o644)
	temporaryFilePatternTemplateConstant   = ".%s.*.tmp"
	unknownComponentFailureMessageConstant = "component failed"

	loadMissingMessageConstant        = "No checkpoint found, starting fresh"
	loadCorruptMessageConstant        = "Checkpoint unreadable, starting fresh"
	loadNewerVersionMessageConstant   = "Checkpoint written by a newer format version"
	loadedMessageConstant             = "Checkpoint loaded"
	componentStartedMessageConstant   = "Checkpoint component started"
	componentResumedMessageConstant   = "Checkpoint component resumed"
	componentCompletedMessageConstant = "Checkpoint component completed"
	componentFailedMessageConstant    = "Checkpoint component failed"
	clearedMessageConstant            = "Checkpoint cleared"
	pathFieldNameConstant             = "checkpoint_path"
	componentFieldNameConstant        = "component"
	processedFieldNameConstant        = "processed_items"
	versionFieldNameConstant          = "version"
	errorFieldNameConstant            = "error"

	createDirectoryErrorTemplateConstant = "create directory %s: %w"
	encodeErrorTemplateConstant          = "encode checkpoint: %w"
	createTemporaryErrorTemplateConstant = "create temporary file: %w"
	writeTemporaryErrorTemplateConstant  = "write temporary file: %w"
	syncTemporaryErrorTemplateConstant   = "sync temporary file: %w"
	closeTemporaryErrorTemplateConstant  = "close temporary file: %w"
	renameErrorTemplateConstant          = "replace %s: %w"
	removeErrorTemplateConstant          = "remove checkpoint %s: %w"
)

// ErrCheckpointPathRequired reports a store created without a file path.
var ErrCheckpointPathRequired = errors.New("checkpoint path required")

// RenameFunction replaces newPath with oldPath.
type RenameFunction func(oldPath string, newPath string) error

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(store *Store) {
		if clock != nil {
			store.clock = clock
		}
	}
}

// WithRenameFunction overrides the final rename of the atomic write.
func WithRenameFunction(rename RenameFunction) Option {
	return func(store *Store) {
		if rename != nil {
			store.rename = rename
		}
	}
}

// Store is the checkpoint of one export operation. One writer per file.
type Store struct {
	filePath string
	logger   *zap.Logger
	clock    func() time.Time
	rename   RenameFunction
	mutex    sync.Mutex
	document Document
}

// NewStore creates a store for the file and loads any existing checkpoint.
func NewStore(filePath string, logger *zap.Logger, options ...Option) (*Store, error) {
	if len(filePath) == 0 {
		return nil, ErrCheckpointPathRequired
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &Store{
		filePath: filePath,
		logger:   logger,
		clock:    time.Now,
		rename:   os.Rename,
	}
	for _, option := range options {
		option(store)
	}
	store.Load()
	return store, nil
}

// Path returns the checkpoint file location.
func (store *Store) Path() string {
	return store.filePath
}

// Load replaces the in-memory state with the file contents, falling back to a fresh checkpoint.
func (store *Store) Load() {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.document = newDocument(store.clock())

	contents, readError := os.ReadFile(store.filePath)
	if readError != nil {
		if errors.Is(readError, fs.ErrNotExist) {
			store.logger.Debug(loadMissingMessageConstant, zap.String(pathFieldNameConstant, store.filePath))
		} else {
			store.logger.Warn(loadCorruptMessageConstant, zap.String(pathFieldNameConstant, store.filePath), zap.Error(readError))
		}
		return
	}

	var loaded Document
	if decodeError := json.Unmarshal(contents, &loaded); decodeError != nil {
		store.logger.Warn(loadCorruptMessageConstant, zap.String(pathFieldNameConstant, store.filePath), zap.Error(decodeError))
		return
	}
	if loaded.Version > DocumentVersion {
		store.logger.Warn(loadNewerVersionMessageConstant, zap.String(pathFieldNameConstant, store.filePath), zap.Int(versionFieldNameConstant, loaded.Version))
	}
	if loaded.Components == nil {
		loaded.Components = map[string]*ComponentCheckpoint{}
	}
	for component, record := range loaded.Components {
		if record == nil {
			delete(loaded.Components, component)
		}
	}
	if loaded.Errors == nil {
		loaded.Errors = []ErrorEntry{}
	}
	store.document = loaded
	store.logger.Debug(loadedMessageConstant, zap.String(pathFieldNameConstant, store.filePath))
}

// MarkComponentStarted records the component as in progress. An existing record keeps its counters and cursor.
func (store *Store) MarkComponentStarted(component string, metadata map[string]any) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, exists := store.document.Components[component]
	if exists {
		record.Status = ComponentStatusInProgress
		record.CompletedAt = nil
		if len(metadata) > 0 {
			if record.Metadata == nil {
				record.Metadata = map[string]any{}
			}
			maps.Copy(record.Metadata, metadata)
		}
		store.logger.Info(componentResumedMessageConstant, zap.String(componentFieldNameConstant, component), zap.Int(processedFieldNameConstant, record.ProcessedItems))
		return store.persist()
	}

	store.document.Components[component] = &ComponentCheckpoint{
		Status:    ComponentStatusInProgress,
		StartedAt: store.clock(),
		Errors:    []ErrorEntry{},
		Metadata:  maps.Clone(metadata),
	}
	store.logger.Info(componentStartedMessageConstant, zap.String(componentFieldNameConstant, component))
	return store.persist()
}

// UpdateComponentProgress advances counters and cursor. Counters never move backwards.
func (store *Store) UpdateComponentProgress(component string, processed int, total *int, lastItem *string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record := store.componentRecord(component)
	if processed > record.ProcessedItems {
		record.ProcessedItems = processed
	}
	if total != nil {
		totalItems := *total
		record.TotalItems = &totalItems
	}
	if lastItem != nil {
		cursor := *lastItem
		record.LastItem = &cursor
	}
	return store.persist()
}

// MarkComponentCompleted sets the terminal status. A failure is appended to both error histories.
func (store *Store) MarkComponentCompleted(component string, success bool, failure error) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record := store.componentRecord(component)
	completedAt := store.clock()
	record.CompletedAt = &completedAt

	if success {
		record.Status = ComponentStatusCompleted
		store.logger.Info(componentCompletedMessageConstant, zap.String(componentFieldNameConstant, component), zap.Int(processedFieldNameConstant, record.ProcessedItems))
		return store.persist()
	}

	record.Status = ComponentStatusFailed
	message := unknownComponentFailureMessageConstant
	if failure != nil {
		message = failure.Error()
	}
	entry := ErrorEntry{Component: component, Message: message, OccurredAt: completedAt}
	record.Errors = appendBounded(record.Errors, entry, MaxComponentErrors)
	store.document.Errors = appendBounded(store.document.Errors, entry, MaxGlobalErrors)
	store.logger.Warn(componentFailedMessageConstant, zap.String(componentFieldNameConstant, component), zap.String(errorFieldNameConstant, message))
	return store.persist()
}

// IsComponentCompleted reports whether a resume must skip the component.
func (store *Store) IsComponentCompleted(component string) bool {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, exists := store.document.Components[component]
	return exists && record.Status == ComponentStatusCompleted
}

// ShouldResumeComponent reports whether the component started before and never
// completed, either interrupted mid-export or failed.
func (store *Store) ShouldResumeComponent(component string) bool {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, exists := store.document.Components[component]
	return exists && record.Status != ComponentStatusCompleted
}

// LastProcessedItem returns the cursor of the component, if any.
func (store *Store) LastProcessedItem(component string) (string, bool) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, exists := store.document.Components[component]
	if !exists || record.LastItem == nil {
		return "", false
	}
	return *record.LastItem, true
}

// Clear deletes the file and resets to a fresh checkpoint.
func (store *Store) Clear() error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.document = newDocument(store.clock())
	if removeError := os.Remove(store.filePath); removeError != nil && !errors.Is(removeError, fs.ErrNotExist) {
		return fmt.Errorf(removeErrorTemplateConstant, store.filePath, removeError)
	}
	store.logger.Info(clearedMessageConstant, zap.String(pathFieldNameConstant, store.filePath))
	return nil
}

// Snapshot returns a deep copy of the current document.
func (store *Store) Snapshot() Document {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	return store.document.clone()
}

func (store *Store) componentRecord(component string) *ComponentCheckpoint {
	record, exists := store.document.Components[component]
	if !exists {
		record = &ComponentCheckpoint{Status: ComponentStatusInProgress, StartedAt: store.clock(), Errors: []ErrorEntry{}}
		store.document.Components[component] = record
	}
	return record
}

func (store *Store) persist() error {
	store.document.Version = DocumentVersion
	store.document.UpdatedAt = store.clock()

	encoded, encodeError := json.MarshalIndent(store.document, "", "  ")
	if encodeError != nil {
		return fmt.Errorf(encodeErrorTemplateConstant, encodeError)
	}
	return writeFileAtomic(store.filePath, encoded, checkpointFilePermissionsConstant, store.rename)
}

func appendBounded(entries []ErrorEntry, entry ErrorEntry, limit int) []ErrorEntry {
	entries = append(entries, entry)
	if len(entries) > limit {
		entries = append([]ErrorEntry{}, entries[len(entries)-limit:]...)
	}
	return entries
}
