package githubcli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/moti-malka/gl2gh/internal/failures"
)

const (
	repositoryEndpointTemplateConstant       = "repos/%s"
	organizationRepositoriesEndpointConstant = "orgs/%s/repos"
	userRepositoriesEndpointConstant         = "user/repos"
	contentsEndpointTemplateConstant         = "repos/%s/contents/%s"
	contentsWithRefEndpointTemplateConstant  = "repos/%s/contents/%s?ref=%s"
	workflowsEndpointTemplateConstant        = "repos/%s/actions/workflows?per_page=1"
	issueSearchEndpointTemplateConstant      = "search/issues?q=%s&per_page=1"
	issueSearchQueryTemplateConstant         = "repo:%s type:%s"
	pathSeparatorConstant                    = "/"
	nameFieldNameConstant                    = "name"
	pathFieldNameConstant                    = "path"
	resolveRepositoryOperationNameConstant   = OperationName("ResolveRepository")
	createRepositoryOperationNameConstant    = OperationName("CreateRepository")
	readContentOperationNameConstant         = OperationName("ReadContent")
	putContentOperationNameConstant          = OperationName("PutContent")
	countWorkflowsOperationNameConstant      = OperationName("CountWorkflows")
	countIssuesOperationNameConstant         = OperationName("CountIssues")
)

// Repository contains the repository details the migration relies on.
type Repository struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	Private       bool   `json:"private"`
	Visibility    string `json:"visibility"`
	DefaultBranch string `json:"default_branch"`
	CloneURL      string `json:"clone_url"`
	HTMLURL       string `json:"html_url"`
}

// RepositorySpecification describes a repository to create.
type RepositorySpecification struct {
	Owner       string
	Name        string
	Description string
	Visibility  string
	HasIssues   bool
	HasWiki     bool
}

// ContentFile describes a repository file write.
type ContentFile struct {
	Path    string
	Content []byte
	Message string
	Branch  string
}

// IssueKind selects what an issue count includes.
type IssueKind string

// Issue kinds understood by the search API.
const (
	IssueKindIssue       IssueKind = IssueKind("issue")
	IssueKindPullRequest IssueKind = IssueKind("pr")
)

// ResolveRepository fetches the repository. A missing repository reports found=false.
func (client *Client) ResolveRepository(executionContext context.Context, repository string) (Repository, bool, error) {
	repositoryIdentifier, inputError := requireRepository(repository)
	if inputError != nil {
		return Repository{}, false, inputError
	}
	response, requestError := client.API(executionContext, resolveRepositoryOperationNameConstant, http.MethodGet, fmt.Sprintf(repositoryEndpointTemplateConstant, repositoryIdentifier), nil)
	if requestError != nil {
		if isNotFound(requestError) {
			return Repository{}, false, nil
		}
		return Repository{}, false, requestError
	}
	var resolved Repository
	if decodingError := response.Decode(&resolved); decodingError != nil {
		return Repository{}, false, ResponseDecodingError{Operation: resolveRepositoryOperationNameConstant, Cause: decodingError}
	}
	return resolved, true, nil
}

// CreateRepository creates the repository under an organization, falling back to the
// authenticated user's account when the owner is not an organization.
func (client *Client) CreateRepository(executionContext context.Context, specification RepositorySpecification) (Repository, error) {
	if len(strings.TrimSpace(specification.Name)) == 0 {
		return Repository{}, InvalidInputError{FieldName: nameFieldNameConstant, Message: requiredValueMessageConstant}
	}
	payload := map[string]any{
		"name":        specification.Name,
		"description": specification.Description,
		"private":     specification.Visibility != "public",
		"has_issues":  specification.HasIssues,
		"has_wiki":    specification.HasWiki,
	}
	if len(specification.Visibility) > 0 {
		payload["visibility"] = specification.Visibility
	}

	response, requestError := client.API(executionContext, createRepositoryOperationNameConstant, http.MethodPost, fmt.Sprintf(organizationRepositoriesEndpointConstant, specification.Owner), payload)
	if requestError != nil && isNotFound(requestError) {
		response, requestError = client.API(executionContext, createRepositoryOperationNameConstant, http.MethodPost, userRepositoriesEndpointConstant, payload)
	}
	if requestError != nil {
		return Repository{}, requestError
	}
	var created Repository
	if decodingError := response.Decode(&created); decodingError != nil {
		return Repository{}, ResponseDecodingError{Operation: createRepositoryOperationNameConstant, Cause: decodingError}
	}
	return created, nil
}

// PutContent creates or replaces a repository file, reading the current blob sha first
// so an existing file is updated rather than rejected.
func (client *Client) PutContent(executionContext context.Context, repository string, file ContentFile) error {
	repositoryIdentifier, inputError := requireRepository(repository)
	if inputError != nil {
		return inputError
	}
	filePath := strings.TrimLeft(strings.TrimSpace(file.Path), pathSeparatorConstant)
	if len(filePath) == 0 {
		return InvalidInputError{FieldName: pathFieldNameConstant, Message: requiredValueMessageConstant}
	}

	existingSHA, found, lookupError := client.contentSHA(executionContext, repositoryIdentifier, filePath, file.Branch)
	if lookupError != nil {
		return lookupError
	}
	payload := map[string]any{
		"message": file.Message,
		"content": base64.StdEncoding.EncodeToString(file.Content),
	}
	if len(file.Branch) > 0 {
		payload["branch"] = file.Branch
	}
	if found {
		payload["sha"] = existingSHA
	}
	_, requestError := client.API(executionContext, putContentOperationNameConstant, http.MethodPut, fmt.Sprintf(contentsEndpointTemplateConstant, repositoryIdentifier, escapePath(filePath)), payload)
	return requestError
}

// ContentExists reports whether the file exists on the default branch.
func (client *Client) ContentExists(executionContext context.Context, repository string, filePath string) (bool, error) {
	repositoryIdentifier, inputError := requireRepository(repository)
	if inputError != nil {
		return false, inputError
	}
	_, found, lookupError := client.contentSHA(executionContext, repositoryIdentifier, strings.TrimLeft(filePath, pathSeparatorConstant), "")
	return found, lookupError
}

func (client *Client) contentSHA(executionContext context.Context, repository string, filePath string, branch string) (string, bool, error) {
	endpoint := fmt.Sprintf(contentsEndpointTemplateConstant, repository, escapePath(filePath))
	if len(branch) > 0 {
		endpoint = fmt.Sprintf(contentsWithRefEndpointTemplateConstant, repository, escapePath(filePath), url.QueryEscape(branch))
	}
	response, requestError := client.API(executionContext, readContentOperationNameConstant, http.MethodGet, endpoint, nil)
	if requestError != nil {
		if isNotFound(requestError) {
			return "", false, nil
		}
		return "", false, requestError
	}
	var content struct {
		SHA string `json:"sha"`
	}
	if decodingError := response.Decode(&content); decodingError != nil {
		return "", false, ResponseDecodingError{Operation: readContentOperationNameConstant, Cause: decodingError}
	}
	return content.SHA, true, nil
}

// CountWorkflows returns the number of Actions workflows registered in the repository.
func (client *Client) CountWorkflows(executionContext context.Context, repository string) (int, error) {
	repositoryIdentifier, inputError := requireRepository(repository)
	if inputError != nil {
		return 0, inputError
	}
	response, requestError := client.API(executionContext, countWorkflowsOperationNameConstant, http.MethodGet, fmt.Sprintf(workflowsEndpointTemplateConstant, repositoryIdentifier), nil)
	if requestError != nil {
		return 0, requestError
	}
	var listing struct {
		TotalCount int `json:"total_count"`
	}
	if decodingError := response.Decode(&listing); decodingError != nil {
		return 0, ResponseDecodingError{Operation: countWorkflowsOperationNameConstant, Cause: decodingError}
	}
	return listing.TotalCount, nil
}

// CountIssues returns the number of issues or pull requests in the repository.
func (client *Client) CountIssues(executionContext context.Context, repository string, kind IssueKind) (int, error) {
	repositoryIdentifier, inputError := requireRepository(repository)
	if inputError != nil {
		return 0, inputError
	}
	query := url.QueryEscape(fmt.Sprintf(issueSearchQueryTemplateConstant, repositoryIdentifier, kind))
	response, requestError := client.API(executionContext, countIssuesOperationNameConstant, http.MethodGet, fmt.Sprintf(issueSearchEndpointTemplateConstant, query), nil)
	if requestError != nil {
		return 0, requestError
	}
	var search struct {
		TotalCount int `json:"total_count"`
	}
	if decodingError := response.Decode(&search); decodingError != nil {
		return 0, ResponseDecodingError{Operation: countIssuesOperationNameConstant, Cause: decodingError}
	}
	return search.TotalCount, nil
}

func isNotFound(requestError error) bool {
	var statusError *failures.StatusError
	return errors.As(requestError, &statusError) && statusError.StatusCode == http.StatusNotFound
}

func escapePath(filePath string) string {
	segments := strings.Split(filePath, pathSeparatorConstant)
	for segmentIndex, segment := range segments {
		segments[segmentIndex] = url.PathEscape(segment)
	}
	return strings.Join(segments, pathSeparatorConstant)
}
