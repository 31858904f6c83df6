package cicd

import (
	"fmt"
	"strings"
)

const (
	identifierSeparatorConstant         = '-'
	identifierFallbackPrefixConstant    = "job-"
	identifierDuplicateTemplateConstant = "%s-%d"
	imagePathSeparatorConstant          = "/"
	imageTagSeparatorConstant           = ":"
	imageDigestSeparatorConstant        = "@"
	defaultServiceIdentifierConstant    = "service"
)

// SanitizeJobID converts a GitLab job name into a valid workflow job identifier.
func SanitizeJobID(name string) string {
	var builder strings.Builder
	previousSeparator := false
	for _, character := range strings.ToLower(strings.TrimSpace(name)) {
		allowed := (character >= 'a' && character <= 'z') || (character >= '0' && character <= '9') || character == '_'
		if allowed {
			builder.WriteRune(character)
			previousSeparator = false
			continue
		}
		if !previousSeparator {
			builder.WriteRune(identifierSeparatorConstant)
			previousSeparator = true
		}
	}
	identifier := strings.Trim(builder.String(), string(identifierSeparatorConstant))
	if len(identifier) == 0 || (identifier[0] >= '0' && identifier[0] <= '9') {
		identifier = identifierFallbackPrefixConstant + identifier
		identifier = strings.TrimRight(identifier, string(identifierSeparatorConstant))
	}
	return identifier
}

// identifierAllocator hands out unique identifiers, suffixing duplicates with -2, -3, ...
type identifierAllocator struct {
	used map[string]struct{}
}

func newIdentifierAllocator() *identifierAllocator {
	return &identifierAllocator{used: map[string]struct{}{}}
}

func (allocator *identifierAllocator) allocate(candidate string) string {
	identifier := candidate
	for suffix := 2; ; suffix++ {
		if _, taken := allocator.used[identifier]; !taken {
			break
		}
		identifier = fmt.Sprintf(identifierDuplicateTemplateConstant, candidate, suffix)
	}
	allocator.used[identifier] = struct{}{}
	return identifier
}

// serviceIdentifier derives the service key from an image reference: the last path
// segment with tag and digest removed.
func serviceIdentifier(image string) string {
	name := image
	if separatorIndex := strings.LastIndex(name, imagePathSeparatorConstant); separatorIndex >= 0 {
		name = name[separatorIndex+1:]
	}
	if digestIndex := strings.Index(name, imageDigestSeparatorConstant); digestIndex >= 0 {
		name = name[:digestIndex]
	}
	if tagIndex := strings.Index(name, imageTagSeparatorConstant); tagIndex >= 0 {
		name = name[:tagIndex]
	}
	if len(strings.TrimSpace(name)) == 0 {
		return defaultServiceIdentifierConstant
	}
	return SanitizeJobID(name)
}
