package cicd

import (
	"regexp"
	"sort"
)

const (
	predefinedVariablePrefixConstant = "CI_"
	envExpressionPrefixConstant      = "${{ env."
	envExpressionSuffixConstant      = " }}"
)

var variableReferencePattern = regexp.MustCompile(`\$(?:\{([A-Za-z_][A-Za-z0-9_]*)\}|([A-Za-z_][A-Za-z0-9_]*))`)

// predefinedVariables maps GitLab predefined CI variables onto GitHub expressions.
var predefinedVariables = map[string]string{
	"CI":                                  "true",
	"CI_COMMIT_SHA":                       "${{ github.sha }}",
	"CI_COMMIT_REF_NAME":                  "${{ github.ref_name }}",
	"CI_COMMIT_BRANCH":                    "${{ github.ref_name }}",
	"CI_COMMIT_TAG":                       "${{ github.ref_type == 'tag' && github.ref_name || '' }}",
	"CI_COMMIT_MESSAGE":                   "${{ github.event.head_commit.message }}",
	"CI_COMMIT_AUTHOR":                    "${{ github.actor }}",
	"CI_DEFAULT_BRANCH":                   "${{ github.event.repository.default_branch }}",
	"CI_PROJECT_DIR":                      "${{ github.workspace }}",
	"CI_PROJECT_NAME":                     "${{ github.event.repository.name }}",
	"CI_PROJECT_PATH":                     "${{ github.repository }}",
	"CI_PROJECT_NAMESPACE":                "${{ github.repository_owner }}",
	"CI_PROJECT_URL":                      "${{ github.server_url }}/${{ github.repository }}",
	"CI_SERVER_URL":                       "${{ github.server_url }}",
	"CI_PIPELINE_ID":                      "${{ github.run_id }}",
	"CI_PIPELINE_IID":                     "${{ github.run_number }}",
	"CI_PIPELINE_SOURCE":                  "${{ github.event_name }}",
	"CI_JOB_NAME":                         "${{ github.job }}",
	"CI_JOB_TOKEN":                        "${{ secrets.GITHUB_TOKEN }}",
	"CI_REGISTRY":                         "ghcr.io",
	"CI_REGISTRY_IMAGE":                   "ghcr.io/${{ github.repository }}",
	"CI_REGISTRY_USER":                    "${{ github.actor }}",
	"CI_REGISTRY_PASSWORD":                "${{ secrets.GITHUB_TOKEN }}",
	"CI_MERGE_REQUEST_IID":                "${{ github.event.pull_request.number }}",
	"CI_MERGE_REQUEST_SOURCE_BRANCH_NAME": "${{ github.head_ref }}",
	"CI_MERGE_REQUEST_TARGET_BRANCH_NAME": "${{ github.base_ref }}",
	"GITLAB_USER_LOGIN":                   "${{ github.actor }}",
}

// referencedVariables returns the variable names referenced as $NAME or ${NAME}.
func referencedVariables(texts ...string) []string {
	seen := map[string]struct{}{}
	for _, text := range texts {
		for _, submatches := range variableReferencePattern.FindAllStringSubmatch(text, -1) {
			name := submatches[1]
			if len(name) == 0 {
				name = submatches[2]
			}
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// expressionForReferences rewrites $NAME references into ${{ env.NAME }} for fields
// that are not shell-expanded, such as action inputs.
func expressionForReferences(text string) string {
	return variableReferencePattern.ReplaceAllStringFunc(text, func(reference string) string {
		submatches := variableReferencePattern.FindStringSubmatch(reference)
		name := submatches[1]
		if len(name) == 0 {
			name = submatches[2]
		}
		return envExpressionPrefixConstant + name + envExpressionSuffixConstant
	})
}
