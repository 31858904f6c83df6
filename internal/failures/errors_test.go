package failures_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moti-malka/gl2gh/internal/failures"
)

const (
	testPlatformNameConstant  = "gitlab"
	testOperationNameConstant = "GetProject"
)

type timeoutNetworkError struct{}

func (timeoutNetworkError) Error() string   { return "i/o timeout" }
func (timeoutNetworkError) Timeout() bool   { return true }
func (timeoutNetworkError) Temporary() bool { return true }

func TestClassifyMapsFailuresToCategories(testInstance *testing.T) {
	retryAt := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name             string
		input            error
		expectedCategory failures.Category
		expectedCode     failures.Code
		expectRetryable  bool
		expectRetryAfter bool
	}{
		{
			name:             "unauthorized",
			input:            &failures.StatusError{Platform: testPlatformNameConstant, Operation: testOperationNameConstant, StatusCode: http.StatusUnauthorized},
			expectedCategory: failures.CategoryAuth,
			expectedCode:     failures.CodeInvalidCredentials,
		},
		{
			name:             "forbidden",
			input:            &failures.StatusError{Platform: testPlatformNameConstant, Operation: testOperationNameConstant, StatusCode: http.StatusForbidden},
			expectedCategory: failures.CategoryPermission,
			expectedCode:     failures.CodePermissionDenied,
		},
		{
			name:             "not_found",
			input:            fmt.Errorf("wrapped: %w", &failures.StatusError{Platform: testPlatformNameConstant, Operation: testOperationNameConstant, StatusCode: http.StatusNotFound}),
			expectedCategory: failures.CategoryValidation,
			expectedCode:     failures.CodeResourceNotFound,
		},
		{
			name:             "too_many_requests",
			input:            &failures.StatusError{Platform: testPlatformNameConstant, Operation: testOperationNameConstant, StatusCode: http.StatusTooManyRequests, RetryAfter: &retryAt},
			expectedCategory: failures.CategoryRateLimit,
			expectedCode:     failures.CodeRateLimited,
			expectRetryable:  true,
			expectRetryAfter: true,
		},
		{
			name:             "server_error",
			input:            &failures.StatusError{Platform: testPlatformNameConstant, Operation: testOperationNameConstant, StatusCode: http.StatusBadGateway},
			expectedCategory: failures.CategoryNetwork,
			expectedCode:     failures.CodeServerError,
			expectRetryable:  true,
		},
		{
			name:             "budget_exceeded",
			input:            fmt.Errorf("consume: %w", failures.ErrBudgetExceeded),
			expectedCategory: failures.CategoryRateLimit,
			expectedCode:     failures.CodeBudgetExceeded,
			expectRetryable:  true,
		},
		{
			name:             "deadline",
			input:            context.DeadlineExceeded,
			expectedCategory: failures.CategoryNetwork,
			expectedCode:     failures.CodeNetworkTimeout,
			expectRetryable:  true,
		},
		{
			name:             "network_timeout",
			input:            timeoutNetworkError{},
			expectedCategory: failures.CategoryNetwork,
			expectedCode:     failures.CodeNetworkTimeout,
			expectRetryable:  true,
		},
		{
			name:             "unknown",
			input:            errors.New("boom"),
			expectedCategory: failures.CategoryUnknown,
			expectedCode:     failures.CodeUnknown,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subtest *testing.T) {
			classifiedError := failures.Classify(testCase.input)
			require.NotNil(subtest, classifiedError)
			require.Equal(subtest, testCase.expectedCategory, classifiedError.Category)
			require.Equal(subtest, testCase.expectedCode, classifiedError.Code)
			require.Equal(subtest, testCase.expectRetryable, classifiedError.Retryable())
			require.NotEmpty(subtest, classifiedError.Suggestion)
			require.NotEmpty(subtest, classifiedError.Message)
			if testCase.expectRetryAfter {
				require.NotNil(subtest, classifiedError.RetryAfter)
			} else {
				require.Nil(subtest, classifiedError.RetryAfter)
			}
		})
	}
}

func TestClassifyPassesClassifiedErrorsThrough(testInstance *testing.T) {
	original := failures.NewValidationError("content", "value required")
	wrapped := fmt.Errorf("stage failed: %w", original)

	require.Same(testInstance, original, failures.Classify(wrapped))
	require.Nil(testInstance, failures.Classify(nil))
}

func TestParseRetryAfter(testInstance *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	secondsValue := failures.ParseRetryAfter("30", now)
	require.NotNil(testInstance, secondsValue)
	require.Equal(testInstance, now.Add(30*time.Second), *secondsValue)

	dateValue := failures.ParseRetryAfter("Mon, 19 Oct 2026 12:05:00 GMT", now)
	require.NotNil(testInstance, dateValue)
	require.Equal(testInstance, 5*time.Minute, dateValue.Sub(now))

	require.Nil(testInstance, failures.ParseRetryAfter("", now))
	require.Nil(testInstance, failures.ParseRetryAfter("soon", now))
}

func TestNewRecordCarriesClassification(testInstance *testing.T) {
	occurredAt := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	record := failures.NewRecord("EXPORT", &failures.StatusError{Platform: testPlatformNameConstant, Operation: testOperationNameConstant, StatusCode: http.StatusServiceUnavailable}, occurredAt)

	require.Equal(testInstance, "EXPORT", record.Stage)
	require.Equal(testInstance, failures.CategoryNetwork, record.Category)
	require.Equal(testInstance, failures.SuggestionFor(failures.CodeServerError), record.Suggestion)
	require.True(testInstance, record.Retryable())
	require.Equal(testInstance, occurredAt, record.OccurredAt)
}
