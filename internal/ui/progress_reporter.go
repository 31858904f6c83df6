package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/progress"
	"github.com/moti-malka/gl2gh/internal/utils"
)

const (
	runIDDisplayLengthConstant      = 8
	stageLineTemplateConstant       = "[%s] %s %s %s\n"
	runLineTemplateConstant         = "[%s] run %s: %d projects, %d errors, %d API calls\n"
	stageFailedLineTemplateConstant = "[%s] %s %s %s (errors so far: %d)\n"
)

// ProgressReporter prints one line per stage transition and run status change.
// It implements progress.Publisher.
type ProgressReporter struct {
	writer     io.Writer
	mutex      sync.Mutex
	lastStatus map[string]string
}

// NewProgressReporter constructs a reporter writing to the provided writer.
func NewProgressReporter(writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{writer: utils.NewFlushingWriter(writer), lastStatus: map[string]string{}}
}

// Publish renders the update. Repeated run-level updates with an unchanged status are skipped.
func (reporter *ProgressReporter) Publish(update progress.Update) {
	if reporter == nil {
		return
	}
	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	runLabel := shortRunID(update.RunID)
	if len(update.Project) > 0 && len(update.ProjectStage) > 0 {
		if len(update.StageStatus) == 0 {
			return
		}
		if update.StageStatus == migration.StageStatusFailed {
			fmt.Fprintf(reporter.writer, stageFailedLineTemplateConstant, runLabel, update.Project, update.ProjectStage, update.StageStatus, update.Stats.Errors)
			return
		}
		fmt.Fprintf(reporter.writer, stageLineTemplateConstant, runLabel, update.Project, update.ProjectStage, update.StageStatus)
		return
	}

	if reporter.lastStatus[update.RunID] == string(update.Status) {
		return
	}
	reporter.lastStatus[update.RunID] = string(update.Status)
	fmt.Fprintf(reporter.writer, runLineTemplateConstant, runLabel, update.Status, update.Stats.Projects, update.Stats.Errors, update.Stats.APICalls)
}

func shortRunID(runID string) string {
	if len(runID) <= runIDDisplayLengthConstant {
		return runID
	}
	return runID[:runIDDisplayLengthConstant]
}
