package githubcli

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/moti-malka/gl2gh/internal/failures"
)

const (
	retryAfterHeaderConstant         = "Retry-After"
	rateLimitRemainingHeaderConstant = "X-Ratelimit-Remaining"
	rateLimitResetHeaderConstant     = "X-Ratelimit-Reset"
	exhaustedRateLimitValueConstant  = "0"
	headerSeparatorCRLFConstant      = "\r\n\r\n"
	headerSeparatorLFConstant        = "\n\n"
	statusLinePrefixConstant         = "HTTP/"
	missingStatusLineMessageConstant = "response carries no HTTP status line"
)

var standardErrorStatusPattern = regexp.MustCompile(`\(HTTP (\d{3})\)`)

// Response is an HTTP response reported by `gh api --include`.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Successful reports a 2xx status.
func (response Response) Successful() bool {
	return response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices
}

// Decode unmarshals the JSON body.
func (response Response) Decode(target any) error {
	return json.Unmarshal(response.Body, target)
}

func (response Response) statusError(label string, now time.Time) *failures.StatusError {
	return &failures.StatusError{
		Platform:   platformNameConstant,
		Operation:  label,
		StatusCode: response.StatusCode,
		RetryAfter: response.retryAfter(now),
		Body:       string(response.Body),
	}
}

// retryAfter prefers Retry-After and falls back to the reset time of an exhausted
// primary rate limit.
func (response Response) retryAfter(now time.Time) *time.Time {
	if retryAt := failures.ParseRetryAfter(response.Header.Get(retryAfterHeaderConstant), now); retryAt != nil {
		return retryAt
	}
	if response.Header.Get(rateLimitRemainingHeaderConstant) != exhaustedRateLimitValueConstant {
		return nil
	}
	resetEpoch, parseError := strconv.ParseInt(strings.TrimSpace(response.Header.Get(rateLimitResetHeaderConstant)), 10, 64)
	if parseError != nil {
		return nil
	}
	resetAt := time.Unix(resetEpoch, 0).UTC()
	return &resetAt
}

func parseIncludedResponse(output string) (Response, error) {
	trimmed := strings.TrimLeft(output, "\r\n")
	if !strings.HasPrefix(trimmed, statusLinePrefixConstant) {
		return Response{}, errors.New(missingStatusLineMessageConstant)
	}

	head, body := trimmed, ""
	if separatorIndex := strings.Index(trimmed, headerSeparatorCRLFConstant); separatorIndex >= 0 {
		head, body = trimmed[:separatorIndex+2], trimmed[separatorIndex+len(headerSeparatorCRLFConstant):]
	} else if separatorIndex := strings.Index(trimmed, headerSeparatorLFConstant); separatorIndex >= 0 {
		head, body = trimmed[:separatorIndex+1], trimmed[separatorIndex+len(headerSeparatorLFConstant):]
	}

	reader := textproto.NewReader(bufio.NewReader(strings.NewReader(head + "\r\n")))
	statusLine, statusError := reader.ReadLine()
	if statusError != nil {
		return Response{}, statusError
	}
	statusFields := strings.Fields(statusLine)
	if len(statusFields) < 2 {
		return Response{}, errors.New(missingStatusLineMessageConstant)
	}
	statusCode, conversionError := strconv.Atoi(statusFields[1])
	if conversionError != nil {
		return Response{}, conversionError
	}
	header, headerError := reader.ReadMIMEHeader()
	if headerError != nil && len(header) == 0 && !errors.Is(headerError, io.EOF) {
		return Response{}, headerError
	}
	return Response{StatusCode: statusCode, Header: http.Header(header), Body: []byte(strings.TrimSpace(body))}, nil
}

func statusFromStandardError(standardError string) (int, bool) {
	matches := standardErrorStatusPattern.FindStringSubmatch(standardError)
	if len(matches) != 2 {
		return 0, false
	}
	statusCode, conversionError := strconv.Atoi(matches[1])
	if conversionError != nil {
		return 0, false
	}
	return statusCode, true
}
