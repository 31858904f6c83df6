package githubcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/moti-malka/gl2gh/internal/execshell"
	"github.com/moti-malka/gl2gh/internal/failures"
)

const (
	apiSubcommandConstant                   = "api"
	methodFlagConstant                      = "--method"
	includeFlagConstant                     = "--include"
	inputFlagConstant                       = "--input"
	hostnameFlagConstant                    = "--hostname"
	headerFlagConstant                      = "-H"
	stdinReferenceConstant                  = "-"
	acceptHeaderValueConstant               = "Accept: application/vnd.github+json"
	apiVersionHeaderValueConstant           = "X-GitHub-Api-Version: 2022-11-28"
	defaultHostnameConstant                 = "github.com"
	githubTokenEnvironmentConstant          = "GH_TOKEN"
	enterpriseTokenEnvironmentConstant      = "GH_ENTERPRISE_TOKEN"
	platformNameConstant                    = "github"
	repositoryFieldNameConstant             = "repository"
	requiredValueMessageConstant            = "value required"
	executorNotConfiguredMessageConstant    = "github cli executor not configured"
	operationErrorMessageTemplateConstant   = "%s operation failed"
	operationErrorWithCauseTemplateConstant = "%s operation failed: %s"
	responseDecodingErrorTemplateConstant   = "%s response decoding failed: %s"
	payloadEncodingErrorTemplateConstant    = "%s payload encoding failed: %s"
	invalidInputErrorTemplateConstant       = "%s: %s"
	operationLabelTemplateConstant          = "%s %s"
)

// OperationName describes a named GitHub operation supported by the client.
type OperationName string

// GitHubCommandExecutor is the minimal interface required from execshell.ShellExecutor.
type GitHubCommandExecutor interface {
	ExecuteGitHubCLI(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// CallBudget reserves API calls before they are made.
type CallBudget interface {
	Consume(executionContext context.Context, calls int) error
}

var (
	// ErrExecutorNotConfigured indicates the client was constructed without an executor.
	ErrExecutorNotConfigured = errors.New(executorNotConfiguredMessageConstant)
)

// InvalidInputError surfaces validation issues for operation inputs.
type InvalidInputError struct {
	FieldName string
	Message   string
}

// Error describes the invalid input.
func (inputError InvalidInputError) Error() string {
	return fmt.Sprintf(invalidInputErrorTemplateConstant, inputError.FieldName, inputError.Message)
}

// OperationError wraps execution issues for GitHub operations.
type OperationError struct {
	Operation OperationName
	Cause     error
}

// Error describes the operation failure.
func (operationError OperationError) Error() string {
	if operationError.Cause == nil {
		return fmt.Sprintf(operationErrorMessageTemplateConstant, operationError.Operation)
	}
	return fmt.Sprintf(operationErrorWithCauseTemplateConstant, operationError.Operation, operationError.Cause)
}

// Unwrap exposes the underlying cause.
func (operationError OperationError) Unwrap() error {
	return operationError.Cause
}

// ResponseDecodingError indicates JSON decoding failures.
type ResponseDecodingError struct {
	Operation OperationName
	Cause     error
}

// Error describes the decoding failure.
func (decodingError ResponseDecodingError) Error() string {
	return fmt.Sprintf(responseDecodingErrorTemplateConstant, decodingError.Operation, decodingError.Cause)
}

// Unwrap exposes the underlying JSON error.
func (decodingError ResponseDecodingError) Unwrap() error {
	return decodingError.Cause
}

// PayloadEncodingError indicates JSON encoding issues.
type PayloadEncodingError struct {
	Operation OperationName
	Cause     error
}

// Error describes the encoding failure.
func (encodingError PayloadEncodingError) Error() string {
	return fmt.Sprintf(payloadEncodingErrorTemplateConstant, encodingError.Operation, encodingError.Cause)
}

// Unwrap exposes the underlying error.
func (encodingError PayloadEncodingError) Unwrap() error {
	return encodingError.Cause
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHostname targets a GitHub Enterprise host.
func WithHostname(hostname string) ClientOption {
	return func(client *Client) {
		if trimmed := strings.TrimSpace(hostname); len(trimmed) > 0 {
			client.hostname = trimmed
		}
	}
}

// WithToken authenticates gh with the token instead of its stored login.
func WithToken(token string) ClientOption {
	return func(client *Client) {
		client.token = strings.TrimSpace(token)
	}
}

// WithClock overrides the time source used for Retry-After parsing.
func WithClock(clock func() time.Time) ClientOption {
	return func(client *Client) {
		if clock != nil {
			client.clock = clock
		}
	}
}

// Client coordinates GitHub API calls through execshell. Scoped copies share the
// executor and count their calls separately.
type Client struct {
	executor GitHubCommandExecutor
	hostname string
	token    string
	clock    func() time.Time
	budget   CallBudget
	calls    *atomic.Int64
}

// NewClient constructs a GitHub client.
func NewClient(executor GitHubCommandExecutor, options ...ClientOption) (*Client, error) {
	if executor == nil {
		return nil, ErrExecutorNotConfigured
	}
	client := &Client{
		executor: executor,
		hostname: defaultHostnameConstant,
		clock:    time.Now,
		calls:    &atomic.Int64{},
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

// Scoped returns a copy that reserves every call from the budget.
func (client *Client) Scoped(budget CallBudget) *Client {
	scoped := *client
	scoped.budget = budget
	scoped.calls = &atomic.Int64{}
	return &scoped
}

// Calls returns the number of API requests this client issued.
func (client *Client) Calls() int {
	return int(client.calls.Load())
}

// API performs one REST request. A nil payload sends no body. Any non-2xx status is
// returned as a *failures.StatusError wrapped in OperationError.
func (client *Client) API(executionContext context.Context, operation OperationName, method string, endpoint string, payload any) (Response, error) {
	arguments := []string{
		apiSubcommandConstant,
		endpoint,
		methodFlagConstant,
		method,
		includeFlagConstant,
		headerFlagConstant,
		acceptHeaderValueConstant,
		headerFlagConstant,
		apiVersionHeaderValueConstant,
	}
	if client.hostname != defaultHostnameConstant {
		arguments = append(arguments, hostnameFlagConstant, client.hostname)
	}
	commandDetails := execshell.CommandDetails{Arguments: arguments}
	if payload != nil {
		payloadBytes, encodingError := json.Marshal(payload)
		if encodingError != nil {
			return Response{}, PayloadEncodingError{Operation: operation, Cause: encodingError}
		}
		commandDetails.Arguments = append(commandDetails.Arguments, inputFlagConstant, stdinReferenceConstant)
		commandDetails.StandardInput = payloadBytes
	}
	if len(client.token) > 0 {
		tokenVariable := githubTokenEnvironmentConstant
		if client.hostname != defaultHostnameConstant {
			tokenVariable = enterpriseTokenEnvironmentConstant
		}
		commandDetails.EnvironmentVariables = map[string]string{tokenVariable: client.token}
	}

	if client.budget != nil {
		if budgetError := client.budget.Consume(executionContext, 1); budgetError != nil {
			return Response{}, OperationError{Operation: operation, Cause: budgetError}
		}
	}
	client.calls.Add(1)

	label := fmt.Sprintf(operationLabelTemplateConstant, method, endpoint)
	executionResult, executionError := client.executor.ExecuteGitHubCLI(executionContext, commandDetails)
	if executionError != nil {
		return Response{}, OperationError{Operation: operation, Cause: client.statusFromFailure(label, executionError)}
	}
	response, parseError := parseIncludedResponse(executionResult.StandardOutput)
	if parseError != nil {
		return Response{}, ResponseDecodingError{Operation: operation, Cause: parseError}
	}
	if !response.Successful() {
		return response, OperationError{Operation: operation, Cause: response.statusError(label, client.clock())}
	}
	return response, nil
}

// statusFromFailure recovers the HTTP status of a failed gh invocation from its
// included response or, failing that, from the "(HTTP 404)" suffix gh prints.
func (client *Client) statusFromFailure(label string, executionError error) error {
	var failedError execshell.CommandFailedError
	if !errors.As(executionError, &failedError) {
		return executionError
	}
	if response, parseError := parseIncludedResponse(failedError.Result.StandardOutput); parseError == nil && response.StatusCode > 0 {
		return response.statusError(label, client.clock())
	}
	if statusCode, found := statusFromStandardError(failedError.Result.StandardError); found {
		return &failures.StatusError{Platform: platformNameConstant, Operation: label, StatusCode: statusCode, Body: strings.TrimSpace(failedError.Result.StandardError)}
	}
	return executionError
}

func requireRepository(repository string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(repository), "/")
	if len(trimmed) == 0 || !strings.Contains(trimmed, "/") {
		return "", InvalidInputError{FieldName: repositoryFieldNameConstant, Message: requiredValueMessageConstant}
	}
	return trimmed, nil
}
