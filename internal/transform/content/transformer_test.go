package content_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moti-malka/gl2gh/internal/transform/content"
)

const (
	testRepositoryConstant        = "acme/widgets"
	testIssueURLConstant          = "https://gitlab.example.com/acme/widgets/-/issues/7"
	testAuthorUsernameConstant    = "johndoe"
	testAuthorLoginConstant       = "johndoe-gh"
	testMentionedUsernameConstant = "janedoe"
	testMentionedLoginConstant    = "janed"
)

func newMappedTransformer() *content.Transformer {
	transformer := content.NewTransformer()
	transformer.SetUserMappings(map[string]string{
		testAuthorUsernameConstant:    testAuthorLoginConstant,
		testMentionedUsernameConstant: testMentionedLoginConstant,
	})
	return transformer
}

func issuePayload(description string) map[string]any {
	return map[string]any{
		"iid":         7,
		"title":       "Broken build",
		"description": description,
		"state":       "opened",
		"author":      map[string]any{"username": testAuthorUsernameConstant},
		"web_url":     testIssueURLConstant,
	}
}

func TestTransformIssueRewritesMentionsAndAttributes(t *testing.T) {
	transformer := newMappedTransformer()

	result := transformer.TransformIssue(issuePayload("cc @janedoe"), testRepositoryConstant)

	require.True(t, result.Success)
	require.NotNil(t, result.Data)
	require.Contains(t, result.Data.Body, "@janed")
	require.NotContains(t, result.Data.Body, "@janedoe")
	attributionLine := strings.SplitN(result.Data.Body, "\n", 2)[0]
	require.Contains(t, attributionLine, "@johndoe")
	require.Contains(t, result.Data.Body, "Original URL: "+testIssueURLConstant)
	require.Equal(t, "open", result.Data.State)
	require.Equal(t, 7, result.Data.SourceIID)
}

func TestTransformIssueBodyRules(t *testing.T) {
	testCases := []struct {
		name              string
		description       string
		expectedContains  []string
		expectedOmissions []string
	}{
		{
			name:             "unmapped_mention_left_literal",
			description:      "ping @stranger please",
			expectedContains: []string{"ping @stranger please"},
		},
		{
			name:              "issue_reference_qualified",
			description:       "duplicate of #12",
			expectedContains:  []string{"duplicate of acme/widgets#12"},
			expectedOmissions: []string{"of #12"},
		},
		{
			name:              "merge_request_reference_converted",
			description:       "fixed by !4",
			expectedContains:  []string{"fixed by acme/widgets#4"},
			expectedOmissions: []string{"!4"},
		},
		{
			name:             "fenced_code_untouched",
			description:      "```\n@janedoe #3\n```",
			expectedContains: []string{"@janedoe #3"},
		},
		{
			name:             "email_address_untouched",
			description:      "mail janedoe@example.com",
			expectedContains: []string{"janedoe@example.com"},
		},
		{
			name:             "trailing_punctuation_kept",
			description:      "thanks @janedoe.",
			expectedContains: []string{"thanks @janed."},
		},
	}

	transformer := newMappedTransformer()
	for testCaseIndex, testCase := range testCases {
		testInstance := testCase
		t.Run(fmt.Sprintf("%d_%s", testCaseIndex, testInstance.name), func(subtest *testing.T) {
			result := transformer.TransformIssue(issuePayload(testInstance.description), testRepositoryConstant)
			require.True(subtest, result.Success)
			for _, expected := range testInstance.expectedContains {
				require.Contains(subtest, result.Data.Body, expected)
			}
			for _, omitted := range testInstance.expectedOmissions {
				require.NotContains(subtest, result.Data.Body, omitted)
			}
		})
	}
}

func TestTransformIssueWithoutRepositoryKeepsIssueReferences(t *testing.T) {
	transformer := newMappedTransformer()

	result := transformer.TransformIssue(issuePayload("see #3 and !5"), "")

	require.True(t, result.Success)
	require.Contains(t, result.Data.Body, "see #3 and #5")
}

func TestTransformIssueStatesLabelsMilestone(t *testing.T) {
	transformer := newMappedTransformer()
	payload := issuePayload("body")
	payload["state"] = "closed"
	payload["labels"] = []any{"bug", "Bug", "needs review!", "emoji 🚀 label", "", strings.Repeat("x", 80)}
	payload["milestone"] = map[string]any{"id": 3, "title": "v1.2"}
	payload["assignees"] = []any{
		map[string]any{"username": testMentionedUsernameConstant},
		map[string]any{"username": "ghost"},
	}

	result := transformer.TransformIssue(payload, testRepositoryConstant)

	require.True(t, result.Success)
	require.Equal(t, "closed", result.Data.State)
	require.Equal(t, []string{"bug", "needs review!", "emoji label", strings.Repeat("x", content.MaxLabelLength)}, result.Data.Labels)
	require.Equal(t, "v1.2", result.Data.Milestone)
	require.Equal(t, []string{testMentionedLoginConstant}, result.Data.Assignees)
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], "ghost")
}

func TestTransformIssueValidation(t *testing.T) {
	testCases := []struct {
		name    string
		payload map[string]any
	}{
		{name: "missing_content", payload: nil},
		{name: "missing_title", payload: map[string]any{"description": "x"}},
		{name: "malformed_field", payload: map[string]any{"title": "x", "author": "not-an-object"}},
	}

	transformer := newMappedTransformer()
	for testCaseIndex, testCase := range testCases {
		testInstance := testCase
		t.Run(fmt.Sprintf("%d_%s", testCaseIndex, testInstance.name), func(subtest *testing.T) {
			result := transformer.TransformIssue(testInstance.payload, testRepositoryConstant)
			require.False(subtest, result.Success)
			require.Nil(subtest, result.Data)
			require.NotEmpty(subtest, result.Errors)
			require.Error(subtest, result.Err())
		})
	}
}

func TestTransformMergeRequestStateMapping(t *testing.T) {
	testCases := []struct {
		state          string
		expectedState  string
		expectedMerged bool
	}{
		{state: "opened", expectedState: "open"},
		{state: "closed", expectedState: "closed"},
		{state: "merged", expectedState: "closed", expectedMerged: true},
		{state: "locked", expectedState: "closed"},
	}

	transformer := newMappedTransformer()
	for testCaseIndex, testCase := range testCases {
		testInstance := testCase
		t.Run(fmt.Sprintf("%d_%s", testCaseIndex, testInstance.state), func(subtest *testing.T) {
			payload := map[string]any{
				"iid":              4,
				"title":            "Add widget",
				"description":      "implements #2",
				"state":            testInstance.state,
				"author":           map[string]any{"username": testAuthorUsernameConstant},
				"source_branch":    "feature/widget",
				"target_branch":    "main",
				"work_in_progress": true,
			}
			result := transformer.TransformMergeRequest(payload, testRepositoryConstant)
			require.True(subtest, result.Success)
			require.Equal(subtest, testInstance.expectedState, result.Data.State)
			require.Equal(subtest, testInstance.expectedMerged, result.Data.Merged)
			require.True(subtest, result.Data.Draft)
			require.Equal(subtest, "feature/widget", result.Data.Head)
			require.Equal(subtest, "main", result.Data.Base)
			require.Contains(subtest, result.Data.Body, "Originally created as merge request by @johndoe")
			require.Contains(subtest, result.Data.Body, "implements acme/widgets#2")
		})
	}
}

func TestTransformCommentIsIdempotent(t *testing.T) {
	transformer := newMappedTransformer()
	payload := map[string]any{
		"id":     901,
		"body":   "LGTM @janedoe, see #3",
		"author": map[string]any{"username": testAuthorUsernameConstant},
	}

	first := transformer.TransformComment(payload, testRepositoryConstant)
	require.True(t, first.Success)
	require.Equal(t, 901, first.Metadata[content.MetadataSourceCommentIDKey])
	require.Equal(t, true, first.Metadata[content.MetadataAttributionAppliedKey])
	require.True(t, strings.HasPrefix(first.Data.Body, "Originally created as comment by @johndoe"))
	require.Contains(t, first.Data.Body, "LGTM @janed, see #3")
	require.Equal(t, 901, first.Data.SourceID)

	second := transformer.TransformComment(map[string]any{
		"id":     901,
		"body":   first.Data.Body,
		"author": map[string]any{"username": testAuthorUsernameConstant},
	}, testRepositoryConstant)
	require.True(t, second.Success)
	require.Equal(t, false, second.Metadata[content.MetadataAttributionAppliedKey])
	require.Equal(t, first.Data.Body, second.Data.Body)
}

func TestTransformAttributesBodiesThatQuoteTheHeaderWording(t *testing.T) {
	transformer := newMappedTransformer()
	userBody := "Originally created as a spike, now a real task.\n\n---\n\nDetails follow."

	comment := transformer.TransformComment(map[string]any{
		"id":     902,
		"body":   userBody,
		"author": map[string]any{"username": testAuthorUsernameConstant},
	}, testRepositoryConstant)
	require.True(t, comment.Success)
	require.Equal(t, true, comment.Metadata[content.MetadataAttributionAppliedKey])
	require.True(t, strings.HasPrefix(comment.Data.Body, "Originally created as comment by @johndoe"))
	require.True(t, strings.HasSuffix(comment.Data.Body, userBody))

	issue := transformer.TransformIssue(issuePayload(userBody), testRepositoryConstant)
	require.True(t, issue.Success)
	require.Equal(t, true, issue.Metadata[content.MetadataAttributionAppliedKey])
	require.True(t, strings.HasPrefix(issue.Data.Body, "Originally created as issue by @johndoe"))

	reapplied := transformer.TransformIssue(issuePayload(issue.Data.Body), testRepositoryConstant)
	require.True(t, reapplied.Success)
	require.Equal(t, false, reapplied.Metadata[content.MetadataAttributionAppliedKey])
	require.Equal(t, issue.Data.Body, reapplied.Data.Body)
}

func TestTransformCommentRequiresBody(t *testing.T) {
	transformer := newMappedTransformer()

	result := transformer.TransformComment(map[string]any{"id": 1}, testRepositoryConstant)

	require.False(t, result.Success)
	require.Nil(t, result.Data)
}

func TestTransformDispatch(t *testing.T) {
	transformer := newMappedTransformer()

	issueResult := transformer.Transform(content.Request{
		ContentType:      content.ContentTypeIssue,
		Content:          issuePayload("body"),
		GitHubRepository: testRepositoryConstant,
	})
	require.True(t, issueResult.Success)
	require.NotNil(t, issueResult.Data.Issue)
	require.Nil(t, issueResult.Data.PullRequest)

	missingResult := transformer.Transform(content.Request{ContentType: content.ContentTypeComment})
	require.False(t, missingResult.Success)
	require.Nil(t, missingResult.Data)

	unsupportedResult := transformer.Transform(content.Request{ContentType: content.ContentType("wiki")})
	require.False(t, unsupportedResult.Success)
	require.NotEmpty(t, unsupportedResult.Errors)
}
