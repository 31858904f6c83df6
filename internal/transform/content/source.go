package content

import (
	"github.com/go-viper/mapstructure/v2"
)

type sourceUser struct {
	Username string `mapstructure:"username"`
	Name     string `mapstructure:"name"`
}

type sourceMilestone struct {
	Title string `mapstructure:"title"`
}

type sourceIssue struct {
	IID          int              `mapstructure:"iid"`
	Title        string           `mapstructure:"title"`
	Description  string           `mapstructure:"description"`
	State        string           `mapstructure:"state"`
	Author       sourceUser       `mapstructure:"author"`
	Assignees    []sourceUser     `mapstructure:"assignees"`
	Labels       []string         `mapstructure:"labels"`
	Milestone    *sourceMilestone `mapstructure:"milestone"`
	WebURL       string           `mapstructure:"web_url"`
	CreatedAt    string           `mapstructure:"created_at"`
	ClosedAt     string           `mapstructure:"closed_at"`
	Confidential bool             `mapstructure:"confidential"`
}

type sourceMergeRequest struct {
	Issue          sourceIssue `mapstructure:",squash"`
	SourceBranch   string      `mapstructure:"source_branch"`
	TargetBranch   string      `mapstructure:"target_branch"`
	WorkInProgress bool        `mapstructure:"work_in_progress"`
	Draft          bool        `mapstructure:"draft"`
	MergedAt       string      `mapstructure:"merged_at"`
}

type sourceComment struct {
	ID           int        `mapstructure:"id"`
	Body         string     `mapstructure:"body"`
	Author       sourceUser `mapstructure:"author"`
	CreatedAt    string     `mapstructure:"created_at"`
	System       bool       `mapstructure:"system"`
	NoteableType string     `mapstructure:"noteable_type"`
	NoteableIID  int        `mapstructure:"noteable_iid"`
	WebURL       string     `mapstructure:"web_url"`
}

// decodeSource decodes a GitLab API payload map, tolerating JSON number and string variance.
func decodeSource(payload map[string]any, target any) error {
	decoder, decoderError := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if decoderError != nil {
		return decoderError
	}
	return decoder.Decode(payload)
}
