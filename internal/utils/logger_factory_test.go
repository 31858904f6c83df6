package utils_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moti-malka/gl2gh/internal/utils"
)

const testLogMessageConstant = "stage transition recorded"

func TestLoggerFactoryCreateLogger(testInstance *testing.T) {
	testCases := []struct {
		name               string
		requestedLogLevel  utils.LogLevel
		requestedLogFormat utils.LogFormat
		expectError        bool
		expectStructured   bool
		expectInfoWritten  bool
	}{
		{name: "debug_structured", requestedLogLevel: utils.LogLevelDebug, requestedLogFormat: utils.LogFormatStructured, expectStructured: true, expectInfoWritten: true},
		{name: "info_console", requestedLogLevel: utils.LogLevelInfo, requestedLogFormat: utils.LogFormatConsole, expectInfoWritten: true},
		{name: "mixed_case_values", requestedLogLevel: utils.LogLevel(" INFO "), requestedLogFormat: utils.LogFormat("Structured"), expectStructured: true, expectInfoWritten: true},
		{name: "error_level_filters_info", requestedLogLevel: utils.LogLevelError, requestedLogFormat: utils.LogFormatStructured},
		{name: "unsupported_level", requestedLogLevel: utils.LogLevel("verbose"), requestedLogFormat: utils.LogFormatStructured, expectError: true},
		{name: "unsupported_format", requestedLogLevel: utils.LogLevelInfo, requestedLogFormat: utils.LogFormat("xml"), expectError: true},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subtest *testing.T) {
			var output bytes.Buffer
			logger, creationError := utils.NewLoggerFactoryWithOutput(&output).CreateLogger(testCase.requestedLogLevel, testCase.requestedLogFormat)
			if testCase.expectError {
				require.Error(subtest, creationError)
				require.Nil(subtest, logger)
				return
			}
			require.NoError(subtest, creationError)

			logger.Info(testLogMessageConstant)
			require.NoError(subtest, logger.Sync())

			written := strings.TrimSpace(output.String())
			if !testCase.expectInfoWritten {
				require.Empty(subtest, written)
				return
			}
			require.Contains(subtest, written, testLogMessageConstant)
			require.Equal(subtest, testCase.expectStructured, json.Valid([]byte(written)))
		})
	}
}
