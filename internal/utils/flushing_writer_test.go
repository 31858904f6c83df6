package utils_test

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moti-malka/gl2gh/internal/utils"
)

func TestFlushingWriterFlushesBufferedTargets(testInstance *testing.T) {
	testCases := []struct {
		name   string
		target func() (io.Writer, func() string)
	}{
		{
			name: "buffered_writer",
			target: func() (io.Writer, func() string) {
				var destination bytes.Buffer
				return bufio.NewWriterSize(&destination, 4096), destination.String
			},
		},
		{
			name: "http_response",
			target: func() (io.Writer, func() string) {
				recorder := httptest.NewRecorder()
				return recorder, func() string {
					if !recorder.Flushed {
						return ""
					}
					return recorder.Body.String()
				}
			},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subtest *testing.T) {
			target, contents := testCase.target()
			writer := utils.NewFlushingWriter(target)

			_, writeError := fmt.Fprint(writer, "[0badc0de] group/app EXPORT COMPLETED\n")
			require.NoError(subtest, writeError)
			require.Equal(subtest, "[0badc0de] group/app EXPORT COMPLETED\n", contents())
		})
	}
}

func TestNewFlushingWriterEdgeCases(testInstance *testing.T) {
	require.Equal(testInstance, io.Discard, utils.NewFlushingWriter(nil))

	wrapped := utils.NewFlushingWriter(&bytes.Buffer{})
	require.Same(testInstance, wrapped, utils.NewFlushingWriter(wrapped))
}
