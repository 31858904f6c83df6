package stages

import (
	"errors"
	"time"

	"github.com/moti-malka/gl2gh/internal/githubcli"
	"github.com/moti-malka/gl2gh/internal/gitlab"
	"github.com/moti-malka/gl2gh/internal/gitrepo"
	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/pipeline"
)

var (
	// ErrSourceClientRequired indicates a source stage without a GitLab client.
	ErrSourceClientRequired    = errors.New("gitlab client not configured")
	// ErrTargetClientRequired indicates a target stage without a GitHub client.
	ErrTargetClientRequired    = errors.New("github client not configured")
	// ErrExportedItemIncomplete indicates an exported item file without an item payload.
	ErrExportedItemIncomplete  = errors.New("exported item has no payload")
	// ErrExportedItemsUnreadable indicates exported items TRANSFORM could not read.
	ErrExportedItemsUnreadable = errors.New("exported items unreadable; resume the export")
)

// Dependencies are the collaborators the stage handlers share. Mirrors may be nil to
// migrate everything except git history.
type Dependencies struct {
	GitLab  *gitlab.Client
	GitHub  *githubcli.Client
	Mirrors *gitrepo.MirrorManager
	Clock   func() time.Time
}

// NewHandlers returns a handler for every stage.
func NewHandlers(dependencies Dependencies) (map[migration.Stage]pipeline.StageHandler, error) {
	if dependencies.GitLab == nil {
		return nil, ErrSourceClientRequired
	}
	if dependencies.GitHub == nil {
		return nil, ErrTargetClientRequired
	}
	return map[migration.Stage]pipeline.StageHandler{
		migration.StageDiscover:  NewDiscoverHandler(dependencies.GitLab, dependencies.GitHub),
		migration.StageExport:    NewExportHandler(dependencies.GitLab, dependencies.Mirrors),
		migration.StageTransform: NewTransformHandler(dependencies.Clock),
		migration.StagePlan:      NewPlanHandler(dependencies.Clock),
		migration.StageApply:     NewApplyHandler(dependencies.GitHub, dependencies.Mirrors),
		migration.StageVerify:    NewVerifyHandler(dependencies.GitHub),
	}, nil
}
