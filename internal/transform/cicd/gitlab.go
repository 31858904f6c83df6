package cicd

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

const (
	unexpectedNodeKindTemplateConstant = "line %d: unexpected %s value"
	scalarKindLabelConstant            = "scalar"
	sequenceKindLabelConstant          = "sequence"
	mappingKindLabelConstant           = "mapping"
	aliasKindLabelConstant             = "alias"
	documentKindLabelConstant          = "document"
)

// stringList accepts a scalar or an arbitrarily nested sequence of scalars.
type stringList []string

func (list *stringList) UnmarshalYAML(node *yaml.Node) error {
	values, flattenError := flattenScalars(node)
	if flattenError != nil {
		return flattenError
	}
	*list = values
	return nil
}

func flattenScalars(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		values := []string{}
		for _, child := range node.Content {
			childValues, childError := flattenScalars(child)
			if childError != nil {
				return nil, childError
			}
			values = append(values, childValues...)
		}
		return values, nil
	case yaml.AliasNode:
		return flattenScalars(node.Alias)
	default:
		return nil, unexpectedNode(node)
	}
}

// imageSpec is `image: name` or `image: {name, entrypoint}`.
type imageSpec struct {
	Name       string     `yaml:"name"`
	Entrypoint stringList `yaml:"entrypoint"`
}

func (image *imageSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		image.Name = node.Value
		return nil
	}
	type plainImage imageSpec
	var decoded plainImage
	if decodeError := node.Decode(&decoded); decodeError != nil {
		return decodeError
	}
	*image = imageSpec(decoded)
	return nil
}

// serviceSpec is `"postgres:13"` or `{name, alias, variables}`.
type serviceSpec struct {
	Name      string            `yaml:"name"`
	Alias     string            `yaml:"alias"`
	Variables map[string]string `yaml:"variables"`
}

func (service *serviceSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		service.Name = node.Value
		return nil
	}
	type plainService serviceSpec
	var decoded plainService
	if decodeError := node.Decode(&decoded); decodeError != nil {
		return decodeError
	}
	*service = serviceSpec(decoded)
	return nil
}

// needList is the job `needs` keyword; Declared distinguishes `needs: []` from an absent key.
type needList struct {
	Declared bool
	Jobs     []string
}

func (needs *needList) UnmarshalYAML(node *yaml.Node) error {
	needs.Declared = true
	if node.Kind == yaml.ScalarNode {
		if node.Tag != "!!null" {
			needs.Jobs = []string{node.Value}
		}
		return nil
	}
	if node.Kind != yaml.SequenceNode {
		return unexpectedNode(node)
	}
	for _, entry := range node.Content {
		if entry.Kind == yaml.ScalarNode {
			needs.Jobs = append(needs.Jobs, entry.Value)
			continue
		}
		var reference struct {
			Job string `yaml:"job"`
		}
		if decodeError := entry.Decode(&reference); decodeError != nil {
			return decodeError
		}
		needs.Jobs = append(needs.Jobs, reference.Job)
	}
	return nil
}

type artifactsSpec struct {
	Name      string         `yaml:"name"`
	Paths     stringList     `yaml:"paths"`
	Exclude   stringList     `yaml:"exclude"`
	ExpireIn  string         `yaml:"expire_in"`
	When      string         `yaml:"when"`
	Untracked bool           `yaml:"untracked"`
	Reports   map[string]any `yaml:"reports"`
}

// cacheKeySpec is `key: value` or `key: {files, prefix}`.
type cacheKeySpec struct {
	Value  string
	Files  []string
	Prefix string
}

func (key *cacheKeySpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		key.Value = node.Value
		return nil
	}
	var structured struct {
		Files  stringList `yaml:"files"`
		Prefix string     `yaml:"prefix"`
	}
	if decodeError := node.Decode(&structured); decodeError != nil {
		return decodeError
	}
	key.Files = structured.Files
	key.Prefix = structured.Prefix
	return nil
}

type cacheSpec struct {
	Key    cacheKeySpec `yaml:"key"`
	Paths  stringList   `yaml:"paths"`
	Policy string       `yaml:"policy"`
	When   string       `yaml:"when"`
}

// cacheList accepts a single cache mapping or a list of them.
type cacheList []cacheSpec

func (caches *cacheList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var single cacheSpec
		if decodeError := node.Decode(&single); decodeError != nil {
			return decodeError
		}
		*caches = cacheList{single}
		return nil
	}
	var multiple []cacheSpec
	if decodeError := node.Decode(&multiple); decodeError != nil {
		return decodeError
	}
	*caches = multiple
	return nil
}

// environmentSpec is `environment: name` or `{name, url, action, on_stop}`.
type environmentSpec struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Action string `yaml:"action"`
	OnStop string `yaml:"on_stop"`
}

func (environment *environmentSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		environment.Name = node.Value
		return nil
	}
	type plainEnvironment environmentSpec
	var decoded plainEnvironment
	if decodeError := node.Decode(&decoded); decodeError != nil {
		return decodeError
	}
	*environment = environmentSpec(decoded)
	return nil
}

// allowFailureSpec is a boolean or `{exit_codes}`.
type allowFailureSpec struct {
	Allowed   bool
	ExitCodes []int
}

func (allowFailure *allowFailureSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&allowFailure.Allowed)
	}
	var structured struct {
		ExitCodes yaml.Node `yaml:"exit_codes"`
	}
	if decodeError := node.Decode(&structured); decodeError != nil {
		return decodeError
	}
	allowFailure.Allowed = true
	if structured.ExitCodes.Kind == yaml.ScalarNode {
		var exitCode int
		if decodeError := structured.ExitCodes.Decode(&exitCode); decodeError != nil {
			return decodeError
		}
		allowFailure.ExitCodes = []int{exitCode}
		return nil
	}
	if structured.ExitCodes.Kind == yaml.SequenceNode {
		return structured.ExitCodes.Decode(&allowFailure.ExitCodes)
	}
	return nil
}

// variableMap accepts `NAME: value` and `NAME: {value, description}` entries.
type variableMap map[string]string

func (variables *variableMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return unexpectedNode(node)
	}
	decoded := variableMap{}
	for index := 0; index+1 < len(node.Content); index += 2 {
		keyNode, valueNode := node.Content[index], node.Content[index+1]
		if valueNode.Kind == yaml.ScalarNode {
			decoded[keyNode.Value] = valueNode.Value
			continue
		}
		var structured struct {
			Value string `yaml:"value"`
		}
		if decodeError := valueNode.Decode(&structured); decodeError != nil {
			return decodeError
		}
		decoded[keyNode.Value] = structured.Value
	}
	*variables = decoded
	return nil
}

// gitlabJob holds the job keywords the converter understands. Other keywords are
// detected from the raw mapping keys.
type gitlabJob struct {
	Stage        string            `yaml:"stage"`
	Script       stringList        `yaml:"script"`
	BeforeScript *stringList       `yaml:"before_script"`
	AfterScript  *stringList       `yaml:"after_script"`
	Image        *imageSpec        `yaml:"image"`
	Services     []serviceSpec     `yaml:"services"`
	Artifacts    *artifactsSpec    `yaml:"artifacts"`
	Cache        *cacheList        `yaml:"cache"`
	Tags         stringList        `yaml:"tags"`
	Variables    variableMap       `yaml:"variables"`
	Needs        needList          `yaml:"needs"`
	Dependencies stringList        `yaml:"dependencies"`
	AllowFailure *allowFailureSpec `yaml:"allow_failure"`
	When         string            `yaml:"when"`
	Environment  *environmentSpec  `yaml:"environment"`
	Extends      stringList        `yaml:"extends"`
	Timeout      string            `yaml:"timeout"`
	Retry        yaml.Node         `yaml:"retry"`
	Parallel     yaml.Node         `yaml:"parallel"`
	Trigger      yaml.Node         `yaml:"trigger"`
	Coverage     string            `yaml:"coverage"`
	Rules        yaml.Node         `yaml:"rules"`
	Only         yaml.Node         `yaml:"only"`
	Except       yaml.Node         `yaml:"except"`
}

func unexpectedNode(node *yaml.Node) error {
	return fmt.Errorf(unexpectedNodeKindTemplateConstant, node.Line, nodeKindLabel(node.Kind))
}

func nodeKindLabel(kind yaml.Kind) string {
	switch kind {
	case yaml.ScalarNode:
		return scalarKindLabelConstant
	case yaml.SequenceNode:
		return sequenceKindLabelConstant
	case yaml.MappingNode:
		return mappingKindLabelConstant
	case yaml.AliasNode:
		return aliasKindLabelConstant
	default:
		return documentKindLabelConstant
	}
}
