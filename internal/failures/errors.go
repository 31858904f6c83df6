package failures

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	classifiedErrorTemplateConstant     = "%s (%s): %s"
	statusErrorTemplateConstant         = "%s %s returned HTTP %d"
	statusErrorWithBodyTemplateConstant = "%s %s returned HTTP %d: %s"
	budgetExceededMessageConstant       = "API call budget exceeded"
	unknownFailureMessageConstant       = "unknown error"
	statusBodyTruncationLimitConstant   = 512
	statusBodyTruncationSuffixConstant  = "..."
	validationMessageTemplateConstant   = "%s: %s"
)

// Category enumerates the fixed error taxonomy.
type Category string

// Supported error categories.
const (
	CategoryAuth       Category = Category("auth")
	CategoryPermission Category = Category("permission")
	CategoryValidation Category = Category("validation")
	CategoryRateLimit  Category = Category("rate_limit")
	CategoryNetwork    Category = Category("network")
	CategoryUnknown    Category = Category("unknown")
)

// Code is a stable identifier for a classified failure.
type Code string

// Stable error codes.
const (
	CodeInvalidCredentials Code = Code("auth_invalid_credentials")
	CodePermissionDenied   Code = Code("permission_denied")
	CodeValidationFailed   Code = Code("validation_failed")
	CodeMissingInput       Code = Code("missing_input")
	CodeResourceNotFound   Code = Code("resource_not_found")
	CodeResourceConflict   Code = Code("resource_conflict")
	CodeRateLimited        Code = Code("rate_limited")
	CodeBudgetExceeded     Code = Code("budget_exceeded")
	CodeNetworkUnavailable Code = Code("network_unavailable")
	CodeNetworkTimeout     Code = Code("network_timeout")
	CodeServerError        Code = Code("server_error")
	CodeUpstreamFailed     Code = Code("upstream_stage_failed")
	CodeUnknown            Code = Code("unknown")
)

var suggestionCatalog = map[Code]string{
	CodeInvalidCredentials: "Regenerate the access token and update the connection credentials.",
	CodePermissionDenied:   "Grant the token the required scopes (api, read_repository, repo, workflow) or use an account with access to the project.",
	CodeValidationFailed:   "Review the reported field, correct the input, and resume the run from the failed stage.",
	CodeMissingInput:       "Provide the missing value in the run configuration or the stage input.",
	CodeResourceNotFound:   "Confirm the project path or identifier exists and is visible to the configured token.",
	CodeResourceConflict:   "Remove or rename the conflicting resource on the target, or enable skipping existing resources.",
	CodeRateLimited:        "Wait until the rate limit resets, then resume the run.",
	CodeBudgetExceeded:     "Raise the API call budget or split the batch, then resume the remaining projects.",
	CodeNetworkUnavailable: "Check connectivity to the platform and resume the run.",
	CodeNetworkTimeout:     "Retry later or increase the request timeout, then resume the run.",
	CodeServerError:        "The platform reported a server error; retry the run later.",
	CodeUpstreamFailed:     "Fix the earlier failed stage and resume the run from it.",
	CodeUnknown:            "Inspect the technical detail and logs, then resume the run once the cause is fixed.",
}

var codeCategories = map[Code]Category{
	CodeInvalidCredentials: CategoryAuth,
	CodePermissionDenied:   CategoryPermission,
	CodeValidationFailed:   CategoryValidation,
	CodeMissingInput:       CategoryValidation,
	CodeResourceNotFound:   CategoryValidation,
	CodeResourceConflict:   CategoryValidation,
	CodeRateLimited:        CategoryRateLimit,
	CodeBudgetExceeded:     CategoryRateLimit,
	CodeNetworkUnavailable: CategoryNetwork,
	CodeNetworkTimeout:     CategoryNetwork,
	CodeServerError:        CategoryNetwork,
	CodeUpstreamFailed:     CategoryUnknown,
	CodeUnknown:            CategoryUnknown,
}

var codeMessages = map[Code]string{
	CodeInvalidCredentials: "The platform rejected the configured credentials",
	CodePermissionDenied:   "The configured credentials lack permission for this operation",
	CodeValidationFailed:   "The request was rejected as invalid",
	CodeMissingInput:       "A required input value is missing",
	CodeResourceNotFound:   "The requested resource was not found",
	CodeResourceConflict:   "The resource already exists on the target",
	CodeRateLimited:        "The platform rate limit was reached",
	CodeBudgetExceeded:     "The shared API call budget is exhausted",
	CodeNetworkUnavailable: "The platform could not be reached",
	CodeNetworkTimeout:     "The platform request timed out",
	CodeServerError:        "The platform reported a server error",
	CodeUpstreamFailed:     "An earlier stage of the project failed",
	CodeUnknown:            "An unexpected error occurred",
}

// ErrBudgetExceeded reports exhaustion of a shared API call budget.
var ErrBudgetExceeded = errors.New(budgetExceededMessageConstant)

// SuggestionFor returns the remediation suggestion registered for the code.
func SuggestionFor(code Code) string {
	if suggestion, exists := suggestionCatalog[code]; exists {
		return suggestion
	}
	return suggestionCatalog[CodeUnknown]
}

// CategoryFor returns the category the code belongs to.
func CategoryFor(code Code) Category {
	if category, exists := codeCategories[code]; exists {
		return category
	}
	return CategoryUnknown
}

// ClassifiedError is a failure converted into the migration error taxonomy.
type ClassifiedError struct {
	Category        Category
	Code            Code
	Message         string
	TechnicalDetail string
	Suggestion      string
	RetryAfter      *time.Time
	Cause           error
}

// Error describes the classified failure.
func (classifiedError *ClassifiedError) Error() string {
	detail := classifiedError.TechnicalDetail
	if len(detail) == 0 {
		detail = unknownFailureMessageConstant
	}
	return fmt.Sprintf(classifiedErrorTemplateConstant, classifiedError.Message, classifiedError.Code, detail)
}

// Unwrap exposes the underlying cause.
func (classifiedError *ClassifiedError) Unwrap() error {
	return classifiedError.Cause
}

// Retryable reports whether a resume may retry the failure without operator intervention.
func (classifiedError *ClassifiedError) Retryable() bool {
	return IsRetryableCategory(classifiedError.Category)
}

// IsRetryableCategory reports whether failures of the category are candidates for automatic retry.
func IsRetryableCategory(category Category) bool {
	return category == CategoryRateLimit || category == CategoryNetwork
}

// New builds a classified error for the code using the catalog message and suggestion.
func New(code Code, technicalDetail string, cause error) *ClassifiedError {
	return &ClassifiedError{
		Category:        CategoryFor(code),
		Code:            code,
		Message:         codeMessages[code],
		TechnicalDetail: technicalDetail,
		Suggestion:      SuggestionFor(code),
		Cause:           cause,
	}
}

// NewValidationError builds a validation failure for the named field.
func NewValidationError(fieldName string, message string) *ClassifiedError {
	return New(CodeValidationFailed, fmt.Sprintf(validationMessageTemplateConstant, fieldName, message), nil)
}

// StatusError carries an HTTP status returned by a platform API.
type StatusError struct {
	Platform   string
	Operation  string
	StatusCode int
	RetryAfter *time.Time
	Body       string
}

// Error describes the HTTP failure.
func (statusError *StatusError) Error() string {
	trimmedBody := truncateBody(statusError.Body)
	if len(trimmedBody) == 0 {
		return fmt.Sprintf(statusErrorTemplateConstant, statusError.Platform, statusError.Operation, statusError.StatusCode)
	}
	return fmt.Sprintf(statusErrorWithBodyTemplateConstant, statusError.Platform, statusError.Operation, statusError.StatusCode, trimmedBody)
}

// ParseRetryAfter interprets a Retry-After header (seconds or HTTP date) relative to now.
func ParseRetryAfter(headerValue string, now time.Time) *time.Time {
	trimmedValue := strings.TrimSpace(headerValue)
	if len(trimmedValue) == 0 {
		return nil
	}
	if seconds, parseError := strconv.Atoi(trimmedValue); parseError == nil {
		retryAt := now.Add(time.Duration(seconds) * time.Second)
		return &retryAt
	}
	if parsedTime, parseError := http.ParseTime(trimmedValue); parseError == nil {
		return &parsedTime
	}
	return nil
}

// Classify converts an arbitrary error into the taxonomy. Nil input yields nil.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classifiedError *ClassifiedError
	if errors.As(err, &classifiedError) {
		return classifiedError
	}

	if errors.Is(err, ErrBudgetExceeded) {
		return New(CodeBudgetExceeded, err.Error(), err)
	}

	var statusError *StatusError
	if errors.As(err, &statusError) {
		return classifyStatus(statusError)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(CodeNetworkTimeout, err.Error(), err)
	}

	var networkError net.Error
	if errors.As(err, &networkError) {
		if networkError.Timeout() {
			return New(CodeNetworkTimeout, err.Error(), err)
		}
		return New(CodeNetworkUnavailable, err.Error(), err)
	}

	return New(CodeUnknown, err.Error(), err)
}

func classifyStatus(statusError *StatusError) *ClassifiedError {
	detail := statusError.Error()
	switch {
	case statusError.StatusCode == http.StatusUnauthorized:
		return New(CodeInvalidCredentials, detail, statusError)
	case statusError.StatusCode == http.StatusForbidden:
		if statusError.RetryAfter != nil {
			return rateLimited(statusError, detail)
		}
		return New(CodePermissionDenied, detail, statusError)
	case statusError.StatusCode == http.StatusNotFound:
		return New(CodeResourceNotFound, detail, statusError)
	case statusError.StatusCode == http.StatusConflict:
		return New(CodeResourceConflict, detail, statusError)
	case statusError.StatusCode == http.StatusTooManyRequests:
		return rateLimited(statusError, detail)
	case statusError.StatusCode >= http.StatusInternalServerError:
		return New(CodeServerError, detail, statusError)
	case statusError.StatusCode >= http.StatusBadRequest:
		return New(CodeValidationFailed, detail, statusError)
	default:
		return New(CodeUnknown, detail, statusError)
	}
}

func rateLimited(statusError *StatusError, detail string) *ClassifiedError {
	classifiedError := New(CodeRateLimited, detail, statusError)
	classifiedError.RetryAfter = statusError.RetryAfter
	return classifiedError
}

func truncateBody(body string) string {
	trimmedBody := strings.TrimSpace(body)
	if len(trimmedBody) <= statusBodyTruncationLimitConstant {
		return trimmedBody
	}
	return trimmedBody[:statusBodyTruncationLimitConstant] + statusBodyTruncationSuffixConstant
}
