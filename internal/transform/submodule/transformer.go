package submodule

import (
	"fmt"

	"github.com/moti-malka/gl2gh/internal/gitrepo"
	"github.com/moti-malka/gl2gh/internal/transform"
)

// Metadata keys of a successful transformation.
const (
	MetadataRewriteCountKey  = "rewrite_count"
	MetadataExternalCountKey = "external_count"
	MetadataTotalCountKey    = "total_count"
)

const (
	missingContentErrorConstant              = "gitmodules_content: value required"
	emptyContentWarningConstant              = "no submodules found in .gitmodules"
	externalSubmoduleWarningTemplateConstant = "submodule %q points to %s which is not part of the migration; update it manually"
	relativeSubmoduleWarningTemplateConstant = "submodule %q uses relative url %s; it resolves against the migrated repository"
	unparsableURLWarningTemplateConstant     = "submodule %q url %s could not be parsed; left unchanged"
	invalidMappingWarningTemplateConstant    = "url mapping %q -> %q ignored: %v"
	missingURLWarningTemplateConstant        = "submodule %q has no url; left unchanged"
	formatTargetWarningTemplateConstant      = "submodule %q could not be rewritten to %s: %v"
)

// Request is the input of one .gitmodules transformation.
// URLMappings maps normalized source keys (host/namespace/repo) or full URLs to targets.
type Request struct {
	GitModulesContent *string           `json:"gitmodules_content"`
	URLMappings       map[string]string `json:"url_mappings"`
}

// Submodule is one parsed submodule record.
type Submodule struct {
	Name        string     `json:"name"`
	Path        string     `json:"path"`
	URL         string     `json:"url"`
	OriginalURL string     `json:"original_url,omitempty"`
	Rewritten   bool       `json:"rewritten"`
	Properties  []Property `json:"properties,omitempty"`
}

// Output is the aggregate transformation result.
type Output struct {
	Submodules    []Submodule `json:"submodules"`
	RewriteCount  int         `json:"rewrite_count"`
	ExternalCount int         `json:"external_count"`
	TotalCount    int         `json:"total_count"`
	GitModules    string      `json:"gitmodules"`
}

// Transformer rewrites submodule URLs. It holds no state.
type Transformer struct{}

// NewTransformer constructs a Transformer.
func NewTransformer() *Transformer {
	return &Transformer{}
}

// Transform parses the .gitmodules content and rewrites mapped URLs preserving their protocol style.
func (transformer *Transformer) Transform(request Request) transform.Result[Output] {
	if request.GitModulesContent == nil {
		return transform.Failed[Output](missingContentErrorConstant)
	}

	warnings := []string{}
	mappings, mappingWarnings := normalizeMappings(request.URLMappings)
	warnings = append(warnings, mappingWarnings...)

	sections, parseWarnings := parseGitModules(*request.GitModulesContent)
	warnings = append(warnings, parseWarnings...)

	output := Output{Submodules: []Submodule{}}
	if len(sections) == 0 {
		warnings = append(warnings, emptyContentWarningConstant)
		return transform.Succeeded(output, warnings, map[string]any{})
	}

	for _, section := range sections {
		submodule := Submodule{Name: section.name, Path: section.path, URL: section.url, Properties: section.properties}
		rewrittenURL, warning := rewriteURL(section.name, section.url, mappings)
		if len(warning) > 0 {
			warnings = append(warnings, warning)
		}
		if len(rewrittenURL) > 0 {
			submodule.OriginalURL = section.url
			submodule.URL = rewrittenURL
			submodule.Rewritten = true
			output.RewriteCount++
		} else {
			output.ExternalCount++
		}
		output.Submodules = append(output.Submodules, submodule)
	}
	output.TotalCount = len(output.Submodules)
	output.GitModules = renderGitModules(output.Submodules)

	return transform.Succeeded(output, warnings, map[string]any{
		MetadataRewriteCountKey:  output.RewriteCount,
		MetadataExternalCountKey: output.ExternalCount,
		MetadataTotalCountKey:    output.TotalCount,
	})
}

func normalizeMappings(mappings map[string]string) (map[string]gitrepo.RemoteURL, []string) {
	normalized := make(map[string]gitrepo.RemoteURL, len(mappings))
	warnings := []string{}
	for source, target := range mappings {
		sourceKey, sourceError := gitrepo.NormalizeRemoteURL(source)
		if sourceError != nil {
			warnings = append(warnings, fmt.Sprintf(invalidMappingWarningTemplateConstant, source, target, sourceError))
			continue
		}
		targetLocation, targetError := gitrepo.ParseLocation(target)
		if targetError != nil {
			warnings = append(warnings, fmt.Sprintf(invalidMappingWarningTemplateConstant, source, target, targetError))
			continue
		}
		normalized[sourceKey] = targetLocation
	}
	return normalized, warnings
}

// rewriteURL returns the rewritten URL, or an empty string and a single warning when left unchanged.
func rewriteURL(name string, rawURL string, mappings map[string]gitrepo.RemoteURL) (string, string) {
	if len(rawURL) == 0 {
		return "", fmt.Sprintf(missingURLWarningTemplateConstant, name)
	}
	if gitrepo.IsRelativeRemote(rawURL) {
		return "", fmt.Sprintf(relativeSubmoduleWarningTemplateConstant, name, rawURL)
	}
	source, parseError := gitrepo.ParseRemoteURL(rawURL)
	if parseError != nil {
		return "", fmt.Sprintf(unparsableURLWarningTemplateConstant, name, rawURL)
	}
	target, mapped := mappings[source.NormalizedKey()]
	if !mapped {
		return "", fmt.Sprintf(externalSubmoduleWarningTemplateConstant, name, rawURL)
	}
	rewritten, formatError := gitrepo.FormatRemoteURL(source.Relocate(target))
	if formatError != nil {
		return "", fmt.Sprintf(formatTargetWarningTemplateConstant, name, target.NormalizedKey(), formatError)
	}
	return rewritten, ""
}
