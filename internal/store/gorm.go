package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/moti-malka/gl2gh/internal/migration"
)

const (
	sqliteDSNTemplateConstant              = "%s?_busy_timeout=%d&_foreign_keys=on"
	sqliteBusyTimeoutMillisecondsConstant  = 5000
	sqliteJournalModeStatementConstant     = "PRAGMA journal_mode=WAL"
	databaseDirectoryPermissionsConstant   = 0o755
	databaseDirectoryErrorTemplateConstant = "create database directory: %w"
	databaseOpenErrorTemplateConstant      = "open run database %s: %w"
	databaseMigrateErrorTemplateConstant   = "migrate run database: %w"
	databaseOpenedMessageConstant          = "Run database opened"
	databasePathFieldConstant              = "path"
	runIDColumnConstant                    = "run_id"
	idColumnConstant                       = "id"
	projectKeyColumnConstant               = "project_key"
	runIDQueryConstant                     = "run_id = ?"
	idQueryConstant                        = "id = ?"
	createdAtOrderConstant                 = "created_at ASC"
	projectKeyOrderConstant                = "project_key ASC"
	snapshotLatestOrderConstant            = "id DESC"
)

type runRecord struct {
	ID        string                 `gorm:"type:text;primaryKey"`
	Mode      string                 `gorm:"type:text;index"`
	Status    string                 `gorm:"type:text;index"`
	Run       migration.MigrationRun `gorm:"serializer:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (runRecord) TableName() string {
	return "migration_runs"
}

type projectRecord struct {
	RunID      string               `gorm:"type:text;primaryKey"`
	ProjectKey string               `gorm:"type:text;primaryKey"`
	Project    migration.RunProject `gorm:"serializer:json"`
	UpdatedAt  time.Time
}

func (projectRecord) TableName() string {
	return "migration_run_projects"
}

type snapshotRecord struct {
	ID         uint               `gorm:"primaryKey;autoIncrement"`
	RunID      string             `gorm:"type:text;index"`
	Status     string             `gorm:"type:text"`
	Stage      string             `gorm:"type:text"`
	Stats      migration.RunStats `gorm:"serializer:json"`
	Payload    map[string]any     `gorm:"serializer:json"`
	RecordedAt time.Time
}

func (snapshotRecord) TableName() string {
	return "migration_run_snapshots"
}

// GormRepository stores runs in a SQLite database through gorm. Writes are serialized
// because SQLite admits a single writer.
type GormRepository struct {
	database   *gorm.DB
	writeMutex sync.Mutex
}

// OpenSQLite opens or creates the database file and migrates the schema.
func OpenSQLite(databasePath string, logger *zap.Logger) (*GormRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if directory := filepath.Dir(databasePath); len(directory) > 0 {
		if mkdirError := os.MkdirAll(directory, databaseDirectoryPermissionsConstant); mkdirError != nil {
			return nil, fmt.Errorf(databaseDirectoryErrorTemplateConstant, mkdirError)
		}
	}

	dataSourceName := fmt.Sprintf(sqliteDSNTemplateConstant, databasePath, sqliteBusyTimeoutMillisecondsConstant)
	database, openError := gorm.Open(sqlite.Open(dataSourceName), &gorm.Config{Logger: gormlogger.Discard})
	if openError != nil {
		return nil, fmt.Errorf(databaseOpenErrorTemplateConstant, databasePath, openError)
	}
	database.Exec(sqliteJournalModeStatementConstant)
	if migrateError := database.AutoMigrate(&runRecord{}, &projectRecord{}, &snapshotRecord{}); migrateError != nil {
		return nil, fmt.Errorf(databaseMigrateErrorTemplateConstant, migrateError)
	}

	logger.Debug(databaseOpenedMessageConstant, zap.String(databasePathFieldConstant, databasePath))
	return &GormRepository{database: database}, nil
}

// Close releases the database handle.
func (repository *GormRepository) Close() error {
	sqlDatabase, handleError := repository.database.DB()
	if handleError != nil {
		return handleError
	}
	return sqlDatabase.Close()
}

// SaveRun upserts the run.
func (repository *GormRepository) SaveRun(executionContext context.Context, run *migration.MigrationRun) error {
	record := runRecord{
		ID:        run.ID,
		Mode:      string(run.Mode),
		Status:    string(run.Status),
		Run:       *run.Clone(),
		CreatedAt: run.CreatedAt,
	}
	repository.writeMutex.Lock()
	defer repository.writeMutex.Unlock()
	return repository.database.WithContext(executionContext).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: idColumnConstant}},
		UpdateAll: true,
	}).Create(&record).Error
}

// LoadRun returns the stored run.
func (repository *GormRepository) LoadRun(executionContext context.Context, runID string) (*migration.MigrationRun, error) {
	var record runRecord
	if queryError := repository.database.WithContext(executionContext).First(&record, idQueryConstant, runID).Error; queryError != nil {
		if errors.Is(queryError, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, queryError
	}
	run := record.Run
	return &run, nil
}

// ListRuns returns every stored run, oldest first.
func (repository *GormRepository) ListRuns(executionContext context.Context) ([]*migration.MigrationRun, error) {
	var records []runRecord
	if queryError := repository.database.WithContext(executionContext).Order(createdAtOrderConstant).Find(&records).Error; queryError != nil {
		return nil, queryError
	}
	runs := make([]*migration.MigrationRun, 0, len(records))
	for recordIndex := range records {
		run := records[recordIndex].Run
		runs = append(runs, &run)
	}
	return runs, nil
}

// SaveProject upserts the project under its run.
func (repository *GormRepository) SaveProject(executionContext context.Context, project *migration.RunProject) error {
	record := projectRecord{
		RunID:      project.RunID,
		ProjectKey: project.Reference().Identifier(),
		Project:    *project.Clone(),
	}
	repository.writeMutex.Lock()
	defer repository.writeMutex.Unlock()
	return repository.database.WithContext(executionContext).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: runIDColumnConstant}, {Name: projectKeyColumnConstant}},
		UpdateAll: true,
	}).Create(&record).Error
}

// LoadProjects returns the run's projects ordered by path.
func (repository *GormRepository) LoadProjects(executionContext context.Context, runID string) ([]*migration.RunProject, error) {
	var records []projectRecord
	if queryError := repository.database.WithContext(executionContext).Where(runIDQueryConstant, runID).Order(projectKeyOrderConstant).Find(&records).Error; queryError != nil {
		return nil, queryError
	}
	projects := make([]*migration.RunProject, 0, len(records))
	for recordIndex := range records {
		project := records[recordIndex].Project
		projects = append(projects, &project)
	}
	return projects, nil
}

// SaveSnapshot appends a snapshot row.
func (repository *GormRepository) SaveSnapshot(executionContext context.Context, snapshot Snapshot) error {
	record := snapshotRecord{
		RunID:      snapshot.RunID,
		Status:     string(snapshot.Status),
		Stage:      snapshot.Stage,
		Stats:      snapshot.Stats,
		Payload:    snapshot.Payload,
		RecordedAt: snapshot.RecordedAt,
	}
	repository.writeMutex.Lock()
	defer repository.writeMutex.Unlock()
	return repository.database.WithContext(executionContext).Create(&record).Error
}

// LatestSnapshot returns the most recent snapshot of the run.
func (repository *GormRepository) LatestSnapshot(executionContext context.Context, runID string) (Snapshot, error) {
	var record snapshotRecord
	queryError := repository.database.WithContext(executionContext).Where(runIDQueryConstant, runID).Order(snapshotLatestOrderConstant).First(&record).Error
	if queryError != nil {
		if errors.Is(queryError, gorm.ErrRecordNotFound) {
			return Snapshot{}, ErrRunNotFound
		}
		return Snapshot{}, queryError
	}
	return Snapshot{
		RunID:      record.RunID,
		Status:     migration.RunStatus(record.Status),
		Stage:      record.Stage,
		Stats:      record.Stats,
		Payload:    record.Payload,
		RecordedAt: record.RecordedAt,
	}, nil
}
