package githubcli

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	issuesEndpointTemplateConstant        = "repos/%s/issues"
	issueEndpointTemplateConstant         = "repos/%s/issues/%d"
	issueCommentsEndpointTemplateConstant = "repos/%s/issues/%d/comments"
	pullsEndpointTemplateConstant         = "repos/%s/pulls"
	titleFieldNameConstant                = "title"
	bodyFieldNameConstant                 = "body"
	numberFieldNameConstant               = "number"
	createIssueOperationNameConstant      = OperationName("CreateIssue")
	updateIssueOperationNameConstant      = OperationName("UpdateIssue")
	createCommentOperationNameConstant    = OperationName("CreateComment")
	createPullOperationNameConstant       = OperationName("CreatePullRequest")
)

// IssueState is the GitHub issue state.
type IssueState string

// Issue states.
const (
	IssueStateOpen   IssueState = IssueState("open")
	IssueStateClosed IssueState = IssueState("closed")
)

// IssueRequest describes an issue to create.
type IssueRequest struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Labels    []string `json:"labels,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
}

// PullRequestRequest describes a pull request to create.
type PullRequestRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Draft bool   `json:"draft,omitempty"`
}

type numberedResource struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

// CreateIssue opens an issue and returns its number.
func (client *Client) CreateIssue(executionContext context.Context, repository string, request IssueRequest) (int, error) {
	repositoryIdentifier, inputError := requireRepository(repository)
	if inputError != nil {
		return 0, inputError
	}
	if len(strings.TrimSpace(request.Title)) == 0 {
		return 0, InvalidInputError{FieldName: titleFieldNameConstant, Message: requiredValueMessageConstant}
	}
	return client.createNumbered(executionContext, createIssueOperationNameConstant, fmt.Sprintf(issuesEndpointTemplateConstant, repositoryIdentifier), request)
}

// SetIssueState opens or closes an issue or pull request.
func (client *Client) SetIssueState(executionContext context.Context, repository string, number int, state IssueState) error {
	repositoryIdentifier, inputError := requireRepository(repository)
	if inputError != nil {
		return inputError
	}
	if number <= 0 {
		return InvalidInputError{FieldName: numberFieldNameConstant, Message: requiredValueMessageConstant}
	}
	_, requestError := client.API(executionContext, updateIssueOperationNameConstant, http.MethodPatch, fmt.Sprintf(issueEndpointTemplateConstant, repositoryIdentifier, number), map[string]string{"state": string(state)})
	return requestError
}

// CreateComment adds a comment to an issue or pull request.
func (client *Client) CreateComment(executionContext context.Context, repository string, number int, body string) error {
	repositoryIdentifier, inputError := requireRepository(repository)
	if inputError != nil {
		return inputError
	}
	if len(strings.TrimSpace(body)) == 0 {
		return InvalidInputError{FieldName: bodyFieldNameConstant, Message: requiredValueMessageConstant}
	}
	_, requestError := client.API(executionContext, createCommentOperationNameConstant, http.MethodPost, fmt.Sprintf(issueCommentsEndpointTemplateConstant, repositoryIdentifier, number), map[string]string{"body": body})
	return requestError
}

// CreatePullRequest opens a pull request and returns its number.
func (client *Client) CreatePullRequest(executionContext context.Context, repository string, request PullRequestRequest) (int, error) {
	repositoryIdentifier, inputError := requireRepository(repository)
	if inputError != nil {
		return 0, inputError
	}
	if len(strings.TrimSpace(request.Title)) == 0 {
		return 0, InvalidInputError{FieldName: titleFieldNameConstant, Message: requiredValueMessageConstant}
	}
	return client.createNumbered(executionContext, createPullOperationNameConstant, fmt.Sprintf(pullsEndpointTemplateConstant, repositoryIdentifier), request)
}

func (client *Client) createNumbered(executionContext context.Context, operation OperationName, endpoint string, payload any) (int, error) {
	response, requestError := client.API(executionContext, operation, http.MethodPost, endpoint, payload)
	if requestError != nil {
		return 0, requestError
	}
	var created numberedResource
	if decodingError := response.Decode(&created); decodingError != nil {
		return 0, ResponseDecodingError{Operation: operation, Cause: decodingError}
	}
	return created.Number, nil
}
