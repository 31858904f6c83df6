package flags_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/utils/flags"
)

func TestChoiceUsage(testInstance *testing.T) {
	testCases := []struct {
		name           string
		description    string
		defaultChoice  string
		choices        []string
		expectedOutput string
	}{
		{
			name:           "upper_case_values",
			description:    "Run mode",
			defaultChoice:  "FULL",
			choices:        []string{"FULL", "PLAN_ONLY", "DISCOVER_ONLY"},
			expectedOutput: "`<FULL|plan_only|discover_only>` Run mode",
		},
		{
			name:           "default_not_first",
			description:    "Payload type",
			defaultChoice:  "comment",
			choices:        []string{"issue", "merge_request", "comment"},
			expectedOutput: "`<issue|merge_request|COMMENT>` Payload type",
		},
		{
			name:           "no_default",
			description:    "  Re-arm from this stage  ",
			choices:        []string{"DISCOVER", "EXPORT"},
			expectedOutput: "`<discover|export>` Re-arm from this stage",
		},
		{
			name:           "duplicates_and_dashes",
			defaultChoice:  "plan-only",
			choices:        []string{"plan_only", "PLAN-ONLY", " ", "apply"},
			expectedOutput: "`<PLAN_ONLY|apply>`",
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subtest *testing.T) {
			actual := flags.ChoiceUsage(testCase.description, testCase.defaultChoice, testCase.choices)
			require.Equal(subtest, testCase.expectedOutput, actual)
		})
	}
}

func TestChoicesConvertsEnumerations(testInstance *testing.T) {
	require.Equal(testInstance, []string{"DISCOVER", "EXPORT"}, flags.Choices([]migration.Stage{migration.StageDiscover, migration.StageExport}))
	require.Empty(testInstance, flags.Choices([]migration.RunMode{}))
}
