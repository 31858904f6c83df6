package cicd

import (
	"gopkg.in/yaml.v3"
)

const (
	workflowNameKeyConstant     = "name"
	workflowTriggersKeyConstant = "on"
	workflowEnvKeyConstant      = "env"
	workflowJobsKeyConstant     = "jobs"
	stringTagConstant           = "!!str"
)

// Workflow is a GitHub Actions workflow document.
type Workflow struct {
	Name string            `json:"name"`
	On   Triggers          `json:"on"`
	Env  map[string]string `json:"env,omitempty"`
	Jobs JobList           `json:"jobs"`
}

// Triggers lists the workflow events.
type Triggers struct {
	Push             *BranchFilter `json:"push,omitempty" yaml:"push,omitempty"`
	PullRequest      *BranchFilter `json:"pull_request,omitempty" yaml:"pull_request,omitempty"`
	WorkflowDispatch *struct{}     `json:"workflow_dispatch,omitempty" yaml:"workflow_dispatch,omitempty"`
}

// BranchFilter restricts a push event to branches and tags.
type BranchFilter struct {
	Branches []string `json:"branches,omitempty" yaml:"branches,omitempty"`
	Tags     []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Job is one workflow job. ID is the key under `jobs`.
type Job struct {
	ID              string             `json:"id" yaml:"-"`
	Name            string             `json:"name,omitempty" yaml:"name,omitempty"`
	RunsOn          string             `json:"runs-on" yaml:"runs-on"`
	Needs           []string           `json:"needs,omitempty" yaml:"needs,omitempty"`
	If              string             `json:"if,omitempty" yaml:"if,omitempty"`
	Environment     *Environment       `json:"environment,omitempty" yaml:"environment,omitempty"`
	Container       *Container         `json:"container,omitempty" yaml:"container,omitempty"`
	Services        map[string]Service `json:"services,omitempty" yaml:"services,omitempty"`
	Env             map[string]string  `json:"env,omitempty" yaml:"env,omitempty"`
	TimeoutMinutes  int                `json:"timeout-minutes,omitempty" yaml:"timeout-minutes,omitempty"`
	ContinueOnError bool               `json:"continue-on-error,omitempty" yaml:"continue-on-error,omitempty"`
	Steps           []Step             `json:"steps" yaml:"steps"`
}

// Environment is a deployment environment reference.
type Environment struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Container runs the job steps inside an image.
type Container struct {
	Image string `json:"image" yaml:"image"`
}

// Service is a sidecar container.
type Service struct {
	Image string            `json:"image" yaml:"image"`
	Env   map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Step is a single job step; exactly one of Uses and Run is set.
type Step struct {
	Name string            `json:"name,omitempty" yaml:"name,omitempty"`
	If   string            `json:"if,omitempty" yaml:"if,omitempty"`
	Uses string            `json:"uses,omitempty" yaml:"uses,omitempty"`
	With map[string]string `json:"with,omitempty" yaml:"with,omitempty"`
	Run  string            `json:"run,omitempty" yaml:"run,omitempty"`
}

// JobList keeps jobs in source order.
type JobList []Job

// Find returns the job with the identifier.
func (jobs JobList) Find(identifier string) (Job, bool) {
	for _, job := range jobs {
		if job.ID == identifier {
			return job, true
		}
	}
	return Job{}, false
}

// MarshalYAML emits the jobs as an ordered mapping keyed by job ID.
func (jobs JobList) MarshalYAML() (any, error) {
	mapping := &yaml.Node{Kind: yaml.MappingNode}
	for _, job := range jobs {
		valueNode := &yaml.Node{}
		if encodeError := valueNode.Encode(job); encodeError != nil {
			return nil, encodeError
		}
		mapping.Content = append(mapping.Content, plainKey(job.ID), valueNode)
	}
	return mapping, nil
}

// MarshalYAML emits name, on, env, jobs in that order with an unquoted `on` key.
func (workflow Workflow) MarshalYAML() (any, error) {
	mapping := &yaml.Node{Kind: yaml.MappingNode}
	entries := []struct {
		key   string
		value any
		skip  bool
	}{
		{key: workflowNameKeyConstant, value: workflow.Name},
		{key: workflowTriggersKeyConstant, value: workflow.On},
		{key: workflowEnvKeyConstant, value: workflow.Env, skip: len(workflow.Env) == 0},
		{key: workflowJobsKeyConstant, value: workflow.Jobs},
	}
	for _, entry := range entries {
		if entry.skip {
			continue
		}
		valueNode := &yaml.Node{}
		if encodeError := valueNode.Encode(entry.value); encodeError != nil {
			return nil, encodeError
		}
		mapping.Content = append(mapping.Content, plainKey(entry.key), valueNode)
	}
	return mapping, nil
}

func plainKey(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: stringTagConstant, Value: value}
}
