package content

import (
	"fmt"
	"strings"
	"sync"

	"github.com/moti-malka/gl2gh/internal/transform"
)

// ContentType selects the kind of GitLab object being transformed.
type ContentType string

// Supported content types.
const (
	ContentTypeIssue        ContentType = ContentType("issue")
	ContentTypeMergeRequest ContentType = ContentType("merge_request")
	ContentTypeComment      ContentType = ContentType("comment")
)

const (
	// MetadataSourceCommentIDKey holds the GitLab note identifier of a transformed comment.
	MetadataSourceCommentIDKey    = "source_comment_id"
	// MetadataSourceIIDKey holds the GitLab iid of a transformed issue or merge request.
	MetadataSourceIIDKey          = "source_iid"
	// MetadataAttributionAppliedKey reports whether a header was added by this call.
	MetadataAttributionAppliedKey = "attribution_applied"

	attributionPrefixConstant            = "Originally created as "
	attributionLineTemplateConstant      = "Originally created as %s by %s"
	attributionURLTemplateConstant       = "Original URL: %s"
	attributionCreatedAtTemplateConstant = "Created at: %s"
	attributionSeparatorConstant         = "\n\n---\n\n"
	attributionMarkerConstant            = "<!-- gl2gh:attribution -->"
	paragraphBreakConstant               = "\n\n"
	unknownAuthorLabelConstant           = "an unknown user"
	issueKindLabelConstant               = "issue"
	mergeRequestKindLabelConstant        = "merge request"
	commentKindLabelConstant             = "comment"
	stateOpenedConstant                  = "opened"
	stateOpenConstant                    = "open"
	stateClosedConstant                  = "closed"
	stateMergedConstant                  = "merged"

	missingContentErrorConstant             = "content: value required"
	missingTitleErrorConstant               = "content.title: value required"
	missingBodyErrorConstant                = "content.body: value required"
	decodeErrorTemplateConstant             = "content: %v"
	unsupportedTypeErrorTemplateConstant    = "content_type: unsupported value %q"
	unmappedAssigneeWarningTemplateConstant = "assignee @%s has no GitHub mapping and was dropped"
	systemNoteWarningConstant               = "system note carried over as a regular comment"
	bodyFieldNameConstant                   = "body"
)

// Request is the input of the dispatching Transform.
type Request struct {
	ContentType      ContentType    `json:"content_type"`
	Content          map[string]any `json:"content"`
	GitLabProject    string         `json:"gitlab_project"`
	GitHubRepository string         `json:"github_repo"`
}

// Issue is the GitHub representation of a GitLab issue.
type Issue struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	State     string   `json:"state"`
	Labels    []string `json:"labels"`
	Milestone string   `json:"milestone,omitempty"`
	Assignees []string `json:"assignees"`
	SourceIID int      `json:"source_iid"`
}

// PullRequest is the GitHub representation of a GitLab merge request.
type PullRequest struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	State     string   `json:"state"`
	Merged    bool     `json:"merged"`
	Draft     bool     `json:"draft"`
	Head      string   `json:"head"`
	Base      string   `json:"base"`
	Labels    []string `json:"labels"`
	Milestone string   `json:"milestone,omitempty"`
	Assignees []string `json:"assignees"`
	SourceIID int      `json:"source_iid"`
}

// Comment is the GitHub representation of a GitLab note.
type Comment struct {
	Body     string `json:"body"`
	SourceID int    `json:"source_id"`
}

// Output carries exactly one of the typed representations.
type Output struct {
	ContentType ContentType  `json:"content_type"`
	Issue       *Issue       `json:"issue,omitempty"`
	PullRequest *PullRequest `json:"pull_request,omitempty"`
	Comment     *Comment     `json:"comment,omitempty"`
}

// Transformer converts GitLab content. User mappings are set once and read afterwards.
type Transformer struct {
	mutex        sync.RWMutex
	userMappings map[string]string
}

// NewTransformer constructs a Transformer with an empty mapping table.
func NewTransformer() *Transformer {
	return &Transformer{userMappings: map[string]string{}}
}

// SetUserMappings loads the gitlab username to GitHub login table. Lookups are case-insensitive.
func (transformer *Transformer) SetUserMappings(mappings map[string]string) {
	normalized := make(map[string]string, len(mappings))
	for username, login := range mappings {
		trimmedUsername := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), mentionPrefixConstant))
		trimmedLogin := strings.TrimPrefix(strings.TrimSpace(login), mentionPrefixConstant)
		if len(trimmedUsername) == 0 || len(trimmedLogin) == 0 {
			continue
		}
		normalized[trimmedUsername] = trimmedLogin
	}
	transformer.mutex.Lock()
	defer transformer.mutex.Unlock()
	transformer.userMappings = normalized
}

// Transform dispatches on the content type.
func (transformer *Transformer) Transform(request Request) transform.Result[Output] {
	switch request.ContentType {
	case ContentTypeIssue:
		result := transformer.TransformIssue(request.Content, request.GitHubRepository)
		return wrapResult(result, func(issue *Issue) Output { return Output{ContentType: ContentTypeIssue, Issue: issue} })
	case ContentTypeMergeRequest:
		result := transformer.TransformMergeRequest(request.Content, request.GitHubRepository)
		return wrapResult(result, func(pullRequest *PullRequest) Output {
			return Output{ContentType: ContentTypeMergeRequest, PullRequest: pullRequest}
		})
	case ContentTypeComment:
		result := transformer.TransformComment(request.Content, request.GitHubRepository)
		return wrapResult(result, func(comment *Comment) Output { return Output{ContentType: ContentTypeComment, Comment: comment} })
	default:
		return transform.Failed[Output](fmt.Sprintf(unsupportedTypeErrorTemplateConstant, request.ContentType))
	}
}

// TransformIssue converts a GitLab issue payload.
func (transformer *Transformer) TransformIssue(payload map[string]any, repository string) transform.Result[Issue] {
	if payload == nil {
		return transform.Failed[Issue](missingContentErrorConstant)
	}
	var source sourceIssue
	if decodeError := decodeSource(payload, &source); decodeError != nil {
		return transform.Failed[Issue](fmt.Sprintf(decodeErrorTemplateConstant, decodeError))
	}
	if len(strings.TrimSpace(source.Title)) == 0 {
		return transform.Failed[Issue](missingTitleErrorConstant)
	}

	warnings := []string{}
	body, attributed := transformer.buildBody(issueKindLabelConstant, source.Author.Username, source.WebURL, source.CreatedAt, source.Description, repository)
	assignees := transformer.mapAssignees(source.Assignees, &warnings)

	issue := Issue{
		Title:     source.Title,
		Body:      body,
		State:     mapIssueState(source.State),
		Labels:    SanitizeLabels(source.Labels),
		Milestone: milestoneTitle(source.Milestone),
		Assignees: assignees,
		SourceIID: source.IID,
	}
	return transform.Succeeded(issue, warnings, map[string]any{
		MetadataSourceIIDKey:          source.IID,
		MetadataAttributionAppliedKey: attributed,
	})
}

// TransformMergeRequest converts a GitLab merge request payload.
func (transformer *Transformer) TransformMergeRequest(payload map[string]any, repository string) transform.Result[PullRequest] {
	if payload == nil {
		return transform.Failed[PullRequest](missingContentErrorConstant)
	}
	var source sourceMergeRequest
	if decodeError := decodeSource(payload, &source); decodeError != nil {
		return transform.Failed[PullRequest](fmt.Sprintf(decodeErrorTemplateConstant, decodeError))
	}
	if len(strings.TrimSpace(source.Issue.Title)) == 0 {
		return transform.Failed[PullRequest](missingTitleErrorConstant)
	}

	warnings := []string{}
	body, attributed := transformer.buildBody(mergeRequestKindLabelConstant, source.Issue.Author.Username, source.Issue.WebURL, source.Issue.CreatedAt, source.Issue.Description, repository)
	assignees := transformer.mapAssignees(source.Issue.Assignees, &warnings)

	pullRequest := PullRequest{
		Title:     source.Issue.Title,
		Body:      body,
		State:     mapMergeRequestState(source.Issue.State),
		Merged:    source.Issue.State == stateMergedConstant,
		Draft:     source.WorkInProgress || source.Draft,
		Head:      source.SourceBranch,
		Base:      source.TargetBranch,
		Labels:    SanitizeLabels(source.Issue.Labels),
		Milestone: milestoneTitle(source.Issue.Milestone),
		Assignees: assignees,
		SourceIID: source.Issue.IID,
	}
	return transform.Succeeded(pullRequest, warnings, map[string]any{
		MetadataSourceIIDKey:          source.Issue.IID,
		MetadataAttributionAppliedKey: attributed,
	})
}

// TransformComment converts a GitLab note. Only attribution and mention rewriting apply.
func (transformer *Transformer) TransformComment(payload map[string]any, repository string) transform.Result[Comment] {
	if payload == nil {
		return transform.Failed[Comment](missingContentErrorConstant)
	}
	if _, present := payload[bodyFieldNameConstant]; !present {
		return transform.Failed[Comment](missingBodyErrorConstant)
	}
	var source sourceComment
	if decodeError := decodeSource(payload, &source); decodeError != nil {
		return transform.Failed[Comment](fmt.Sprintf(decodeErrorTemplateConstant, decodeError))
	}

	warnings := []string{}
	if source.System {
		warnings = append(warnings, systemNoteWarningConstant)
	}
	header, remainder, alreadyAttributed := splitAttribution(source.Body)
	body := rewriteMentions(remainder, transformer.lookupLogin)
	if alreadyAttributed {
		body = header + body
	} else {
		body = buildAttribution(commentKindLabelConstant, source.Author.Username, source.WebURL, source.CreatedAt) + attributionSeparatorConstant + body
	}

	comment := Comment{Body: body, SourceID: source.ID}
	return transform.Succeeded(comment, warnings, map[string]any{
		MetadataSourceCommentIDKey:    source.ID,
		MetadataAttributionAppliedKey: !alreadyAttributed,
	})
}

func (transformer *Transformer) buildBody(kind string, author string, sourceURL string, createdAt string, description string, repository string) (string, bool) {
	header, remainder, alreadyAttributed := splitAttribution(description)
	body := rewriteReferences(rewriteMentions(remainder, transformer.lookupLogin), repository)
	if alreadyAttributed {
		return header + body, false
	}
	return buildAttribution(kind, author, sourceURL, createdAt) + attributionSeparatorConstant + body, true
}

// splitAttribution separates an existing attribution header, separator included, from
// the body. Only a header ending in the attribution marker counts, so a body that merely
// starts with the attribution wording is still attributed.
func splitAttribution(text string) (string, string, bool) {
	if !strings.HasPrefix(text, attributionPrefixConstant) {
		return "", text, false
	}
	headerTerminator := attributionMarkerConstant + attributionSeparatorConstant
	markerIndex := strings.Index(text, headerTerminator)
	if markerIndex < 0 || strings.Contains(text[:markerIndex], paragraphBreakConstant) {
		return "", text, false
	}
	headerEnd := markerIndex + len(headerTerminator)
	return text[:headerEnd], text[headerEnd:], true
}

func (transformer *Transformer) lookupLogin(username string) (string, bool) {
	transformer.mutex.RLock()
	defer transformer.mutex.RUnlock()
	login, mapped := transformer.userMappings[strings.ToLower(username)]
	return login, mapped
}

func (transformer *Transformer) mapAssignees(assignees []sourceUser, warnings *[]string) []string {
	logins := []string{}
	for _, assignee := range assignees {
		login, mapped := transformer.lookupLogin(assignee.Username)
		if !mapped {
			*warnings = append(*warnings, fmt.Sprintf(unmappedAssigneeWarningTemplateConstant, assignee.Username))
			continue
		}
		logins = append(logins, login)
	}
	return logins
}

func buildAttribution(kind string, author string, sourceURL string, createdAt string) string {
	authorLabel := unknownAuthorLabelConstant
	if trimmedAuthor := strings.TrimSpace(author); len(trimmedAuthor) > 0 {
		authorLabel = mentionPrefixConstant + trimmedAuthor
	}
	lines := []string{fmt.Sprintf(attributionLineTemplateConstant, kind, authorLabel)}
	if trimmedURL := strings.TrimSpace(sourceURL); len(trimmedURL) > 0 {
		lines = append(lines, fmt.Sprintf(attributionURLTemplateConstant, trimmedURL))
	}
	if trimmedCreatedAt := strings.TrimSpace(createdAt); len(trimmedCreatedAt) > 0 {
		lines = append(lines, fmt.Sprintf(attributionCreatedAtTemplateConstant, trimmedCreatedAt))
	}
	lines = append(lines, attributionMarkerConstant)
	return strings.Join(lines, lineSeparatorConstant)
}

func mapIssueState(state string) string {
	if state == stateOpenedConstant {
		return stateOpenConstant
	}
	return stateClosedConstant
}

func mapMergeRequestState(state string) string {
	if state == stateOpenedConstant {
		return stateOpenConstant
	}
	return stateClosedConstant
}

func milestoneTitle(milestone *sourceMilestone) string {
	if milestone == nil {
		return ""
	}
	return milestone.Title
}

func wrapResult[T any](result transform.Result[T], wrap func(*T) Output) transform.Result[Output] {
	if !result.Success {
		failed := transform.Failed[Output](result.Errors...)
		failed.Warnings = result.Warnings
		return failed
	}
	return transform.Succeeded(wrap(result.Data), result.Warnings, result.Metadata)
}
