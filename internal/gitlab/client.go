package gitlab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/failures"
)

const (
	platformNameConstant            = "gitlab"
	apiPathSuffixConstant           = "/api/v4"
	privateTokenHeaderConstant      = "PRIVATE-TOKEN"
	acceptHeaderConstant            = "Accept"
	jsonMediaTypeConstant           = "application/json"
	retryAfterHeaderConstant        = "Retry-After"
	nextPageHeaderConstant          = "X-Next-Page"
	projectPathParameterConstant    = "project"
	filePathParameterConstant       = "file"
	groupPathParameterConstant      = "group"
	iidPathParameterConstant        = "iid"
	kindPathParameterConstant       = "kind"
	projectEndpointConstant         = "/projects/{project}"
	rawFileEndpointConstant         = "/projects/{project}/repository/files/{file}/raw"
	issuesEndpointConstant          = "/projects/{project}/issues"
	mergeRequestsEndpointConstant   = "/projects/{project}/merge_requests"
	notesEndpointConstant           = "/projects/{project}/{kind}/{iid}/notes"
	groupProjectsEndpointConstant   = "/groups/{group}/projects"
	statisticsQueryConstant         = "statistics"
	refQueryConstant                = "ref"
	pageQueryConstant               = "page"
	perPageQueryConstant            = "per_page"
	scopeQueryConstant              = "scope"
	stateQueryConstant              = "state"
	orderByQueryConstant            = "order_by"
	sortQueryConstant               = "sort"
	includeSubgroupsQueryConstant   = "include_subgroups"
	archivedQueryConstant           = "archived"
	trueValueConstant               = "true"
	falseValueConstant              = "false"
	allValueConstant                = "all"
	createdAtValueConstant          = "created_at"
	ascendingValueConstant          = "asc"
	defaultPerPageConstant          = 100
	defaultTimeoutConstant          = 30 * time.Second
	maximumPagesConstant            = 1000
	requestFailedTemplateConstant   = "gitlab %s: %w"
	operationTemplateConstant       = "GET %s"
	requestCompletedMessageConstant = "GitLab request completed"
	operationFieldConstant          = "operation"
	statusCodeFieldConstant         = "status_code"
	durationFieldConstant           = "duration"
	defaultBranchFallbackConstant   = "HEAD"
)

// NoteKind selects the noteable type of a notes request.
type NoteKind string

// Supported noteable types.
const (
	NoteKindIssue        NoteKind = NoteKind("issues")
	NoteKindMergeRequest NoteKind = NoteKind("merge_requests")
)

// CallBudget reserves API calls before they are made.
type CallBudget interface {
	Consume(executionContext context.Context, calls int) error
}

// Configuration describes the GitLab instance.
type Configuration struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	PerPage int
}

// ProjectStatistics carries the size counters GitLab reports with statistics=true.
type ProjectStatistics struct {
	CommitCount      int   `json:"commit_count"`
	StorageSize      int64 `json:"storage_size"`
	RepositorySize   int64 `json:"repository_size"`
	LFSObjectsSize   int64 `json:"lfs_objects_size"`
	JobArtifactsSize int64 `json:"job_artifacts_size"`
}

// Project is the subset of the GitLab project resource the pipeline uses.
type Project struct {
	ID                   int                `json:"id"`
	Name                 string             `json:"name"`
	PathWithNamespace    string             `json:"path_with_namespace"`
	Description          string             `json:"description"`
	DefaultBranch        string             `json:"default_branch"`
	Visibility           string             `json:"visibility"`
	HTTPURLToRepo        string             `json:"http_url_to_repo"`
	SSHURLToRepo         string             `json:"ssh_url_to_repo"`
	WebURL               string             `json:"web_url"`
	Archived             bool               `json:"archived"`
	EmptyRepo            bool               `json:"empty_repo"`
	IssuesEnabled        bool               `json:"issues_enabled"`
	MergeRequestsEnabled bool               `json:"merge_requests_enabled"`
	WikiEnabled          bool               `json:"wiki_enabled"`
	LFSEnabled           bool               `json:"lfs_enabled"`
	OpenIssuesCount      int                `json:"open_issues_count"`
	Topics               []string           `json:"topics"`
	Statistics           *ProjectStatistics `json:"statistics,omitempty"`
}

// Ref returns the default branch, or HEAD for empty repositories.
func (project Project) Ref() string {
	if len(strings.TrimSpace(project.DefaultBranch)) == 0 {
		return defaultBranchFallbackConstant
	}
	return project.DefaultBranch
}

// Client is a GitLab REST client. Scoped copies share the transport and keep their
// own call counter.
type Client struct {
	httpClient *resty.Client
	perPage    int
	logger     *zap.Logger
	clock      func() time.Time
	budget     CallBudget
	calls      *atomic.Int64
}

// NewClient constructs a Client for the instance.
func NewClient(configuration Configuration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := configuration.Timeout
	if timeout <= 0 {
		timeout = defaultTimeoutConstant
	}
	perPage := configuration.PerPage
	if perPage <= 0 {
		perPage = defaultPerPageConstant
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(configuration.BaseURL, "/") + apiPathSuffixConstant).
		SetTimeout(timeout).
		SetHeader(acceptHeaderConstant, jsonMediaTypeConstant)
	if len(configuration.Token) > 0 {
		httpClient.SetHeader(privateTokenHeaderConstant, configuration.Token)
	}

	return &Client{
		httpClient: httpClient,
		perPage:    perPage,
		logger:     logger,
		clock:      time.Now,
		calls:      &atomic.Int64{},
	}
}

// Scoped returns a copy that reserves every call from the budget and counts its calls
// separately from the receiver.
func (client *Client) Scoped(budget CallBudget) *Client {
	scoped := *client
	scoped.budget = budget
	scoped.calls = &atomic.Int64{}
	return &scoped
}

// Calls returns the number of requests this client issued.
func (client *Client) Calls() int {
	return int(client.calls.Load())
}

// Project fetches the project with its statistics. The identifier is a numeric id or a
// namespaced path.
func (client *Client) Project(executionContext context.Context, project string) (Project, error) {
	var result Project
	request := client.newRequest(executionContext).
		SetPathParam(projectPathParameterConstant, project).
		SetQueryParam(statisticsQueryConstant, trueValueConstant).
		SetResult(&result)
	if _, requestError := client.execute(request, projectEndpointConstant); requestError != nil {
		return Project{}, requestError
	}
	return result, nil
}

// RawFile returns a repository file at ref. A missing file reports found=false without error.
func (client *Client) RawFile(executionContext context.Context, project string, filePath string, ref string) (string, bool, error) {
	request := client.newRequest(executionContext).
		SetPathParam(projectPathParameterConstant, project).
		SetPathParam(filePathParameterConstant, filePath).
		SetQueryParam(refQueryConstant, ref)
	response, requestError := client.execute(request, rawFileEndpointConstant)
	if requestError != nil {
		var statusError *failures.StatusError
		if errors.As(requestError, &statusError) && statusError.StatusCode == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, requestError
	}
	return response.String(), true, nil
}

// Issues lists every issue of the project, oldest first.
func (client *Client) Issues(executionContext context.Context, project string) ([]map[string]any, error) {
	return client.listAll(executionContext, issuesEndpointConstant, map[string]string{projectPathParameterConstant: project}, map[string]string{
		scopeQueryConstant:   allValueConstant,
		stateQueryConstant:   allValueConstant,
		orderByQueryConstant: createdAtValueConstant,
		sortQueryConstant:    ascendingValueConstant,
	})
}

// MergeRequests lists every merge request of the project, oldest first.
func (client *Client) MergeRequests(executionContext context.Context, project string) ([]map[string]any, error) {
	return client.listAll(executionContext, mergeRequestsEndpointConstant, map[string]string{projectPathParameterConstant: project}, map[string]string{
		scopeQueryConstant:   allValueConstant,
		stateQueryConstant:   allValueConstant,
		orderByQueryConstant: createdAtValueConstant,
		sortQueryConstant:    ascendingValueConstant,
	})
}

// Notes lists the notes of one issue or merge request, oldest first.
func (client *Client) Notes(executionContext context.Context, project string, kind NoteKind, iid int) ([]map[string]any, error) {
	return client.listAll(executionContext, notesEndpointConstant, map[string]string{
		projectPathParameterConstant: project,
		kindPathParameterConstant:    string(kind),
		iidPathParameterConstant:     strconv.Itoa(iid),
	}, map[string]string{
		orderByQueryConstant: createdAtValueConstant,
		sortQueryConstant:    ascendingValueConstant,
	})
}

// GroupProjects lists the unarchived projects of a group and its subgroups.
func (client *Client) GroupProjects(executionContext context.Context, group string) ([]Project, error) {
	items, listError := client.listAll(executionContext, groupProjectsEndpointConstant, map[string]string{groupPathParameterConstant: group}, map[string]string{
		includeSubgroupsQueryConstant: trueValueConstant,
		archivedQueryConstant:         falseValueConstant,
		orderByQueryConstant:          createdAtValueConstant,
		sortQueryConstant:             ascendingValueConstant,
	})
	if listError != nil {
		return nil, listError
	}
	projects := make([]Project, 0, len(items))
	for _, item := range items {
		project, decodeError := decodeProject(item)
		if decodeError != nil {
			return nil, decodeError
		}
		projects = append(projects, project)
	}
	return projects, nil
}

func (client *Client) listAll(executionContext context.Context, endpoint string, pathParameters map[string]string, queryParameters map[string]string) ([]map[string]any, error) {
	collected := []map[string]any{}
	nextPage := "1"
	for pageCount := 0; len(nextPage) > 0 && pageCount < maximumPagesConstant; pageCount++ {
		var page []map[string]any
		request := client.newRequest(executionContext).
			SetPathParams(pathParameters).
			SetQueryParams(queryParameters).
			SetQueryParam(pageQueryConstant, nextPage).
			SetQueryParam(perPageQueryConstant, strconv.Itoa(client.perPage)).
			SetResult(&page)
		response, requestError := client.execute(request, endpoint)
		if requestError != nil {
			return nil, requestError
		}
		collected = append(collected, page...)
		nextPage = strings.TrimSpace(response.Header().Get(nextPageHeaderConstant))
	}
	return collected, nil
}

func (client *Client) newRequest(executionContext context.Context) *resty.Request {
	return client.httpClient.R().SetContext(executionContext)
}

func (client *Client) execute(request *resty.Request, endpoint string) (*resty.Response, error) {
	operation := fmt.Sprintf(operationTemplateConstant, endpoint)
	if client.budget != nil {
		if budgetError := client.budget.Consume(request.Context(), 1); budgetError != nil {
			return nil, fmt.Errorf(requestFailedTemplateConstant, operation, budgetError)
		}
	}
	client.calls.Add(1)

	startedAt := client.clock()
	response, requestError := request.Get(endpoint)
	if requestError != nil {
		return nil, fmt.Errorf(requestFailedTemplateConstant, operation, requestError)
	}
	client.logger.Debug(requestCompletedMessageConstant,
		zap.String(operationFieldConstant, operation),
		zap.Int(statusCodeFieldConstant, response.StatusCode()),
		zap.Duration(durationFieldConstant, client.clock().Sub(startedAt)),
	)
	if response.IsError() || response.StatusCode() >= http.StatusMultipleChoices {
		return response, &failures.StatusError{
			Platform:   platformNameConstant,
			Operation:  operation,
			StatusCode: response.StatusCode(),
			RetryAfter: failures.ParseRetryAfter(response.Header().Get(retryAfterHeaderConstant), client.clock()),
			Body:       response.String(),
		}
	}
	return response, nil
}
