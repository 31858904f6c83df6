package migration

import (
	"fmt"
	"strings"
)

const (
	unknownStageTemplateConstant    = "unknown stage: %s"
	unknownRunModeTemplateConstant  = "unknown run mode: %s"
	modeSeparatorDashConstant       = "-"
	modeSeparatorUnderscoreConstant = "_"
)

// Stage identifies one of the fixed pipeline phases.
type Stage string

// Pipeline stages in execution order.
const (
	StageDiscover  Stage = Stage("DISCOVER")
	StageExport    Stage = Stage("EXPORT")
	StageTransform Stage = Stage("TRANSFORM")
	StagePlan      Stage = Stage("PLAN")
	StageApply     Stage = Stage("APPLY")
	StageVerify    Stage = Stage("VERIFY")
)

var orderedStages = []Stage{StageDiscover, StageExport, StageTransform, StagePlan, StageApply, StageVerify}

// Stages returns the fixed stage order.
func Stages() []Stage {
	return append([]Stage{}, orderedStages...)
}

// Index returns the position of the stage in the fixed order, or -1 when unknown.
func (stage Stage) Index() int {
	for stageIndex, candidate := range orderedStages {
		if candidate == stage {
			return stageIndex
		}
	}
	return -1
}

// Before reports whether the stage precedes other in the fixed order.
func (stage Stage) Before(other Stage) bool {
	return stage.Index() < other.Index()
}

// ParseStage resolves a case-insensitive stage name.
func ParseStage(value string) (Stage, error) {
	candidate := Stage(strings.ToUpper(strings.TrimSpace(value)))
	if candidate.Index() < 0 {
		return "", fmt.Errorf(unknownStageTemplateConstant, value)
	}
	return candidate, nil
}

// RunMode selects the contiguous stage range a run executes.
type RunMode string

// Supported run modes.
const (
	RunModeFull          RunMode = RunMode("FULL")
	RunModePlanOnly      RunMode = RunMode("PLAN_ONLY")
	RunModeDiscoverOnly  RunMode = RunMode("DISCOVER_ONLY")
	RunModeExportOnly    RunMode = RunMode("EXPORT_ONLY")
	RunModeApply         RunMode = RunMode("APPLY")
	RunModeVerify        RunMode = RunMode("VERIFY")
	RunModeSingleProject RunMode = RunMode("SINGLE_PROJECT")
)

var stageRanges = map[RunMode][2]Stage{
	RunModeFull:          {StageDiscover, StageVerify},
	RunModeSingleProject: {StageDiscover, StageVerify},
	RunModePlanOnly:      {StageDiscover, StagePlan},
	RunModeDiscoverOnly:  {StageDiscover, StageDiscover},
	RunModeExportOnly:    {StageDiscover, StageExport},
	RunModeApply:         {StageApply, StageApply},
	RunModeVerify:        {StageVerify, StageVerify},
}

// RunModes lists every supported mode.
func RunModes() []RunMode {
	return []RunMode{RunModeFull, RunModePlanOnly, RunModeDiscoverOnly, RunModeExportOnly, RunModeApply, RunModeVerify, RunModeSingleProject}
}

// ParseRunMode resolves a mode name, accepting lower case and dashes.
func ParseRunMode(value string) (RunMode, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(value), modeSeparatorDashConstant, modeSeparatorUnderscoreConstant))
	candidate := RunMode(normalized)
	if _, exists := stageRanges[candidate]; !exists {
		return "", fmt.Errorf(unknownRunModeTemplateConstant, value)
	}
	return candidate, nil
}

// StageRange returns the ordered stages executed by the mode.
func StageRange(mode RunMode) []Stage {
	bounds, exists := stageRanges[mode]
	if !exists {
		return nil
	}
	return append([]Stage{}, orderedStages[bounds[0].Index():bounds[1].Index()+1]...)
}

// InRange reports whether the stage is executed by the mode.
func InRange(mode RunMode, stage Stage) bool {
	for _, candidate := range StageRange(mode) {
		if candidate == stage {
			return true
		}
	}
	return false
}
