package transform

import (
	"strings"

	"github.com/moti-malka/gl2gh/internal/failures"
)

const (
	// MetadataConversionGapsKey holds the []ConversionGap recorded by an engine.
	MetadataConversionGapsKey = "conversion_gaps"

	transformFieldNameConstant  = "transform"
	errorsJoinSeparatorConstant = "; "
)

// ConversionGap records a source construct with no faithful target equivalent.
type ConversionGap struct {
	Type    string `json:"type" yaml:"type"`
	Job     string `json:"job,omitempty" yaml:"job,omitempty"`
	Message string `json:"message" yaml:"message"`
}

// Result is the outcome of one transformation.
type Result[T any] struct {
	Success  bool           `json:"success"`
	Data     *T             `json:"data,omitempty"`
	Errors   []string       `json:"errors"`
	Warnings []string       `json:"warnings"`
	Metadata map[string]any `json:"metadata"`
}

// Succeeded builds a successful result.
func Succeeded[T any](data T, warnings []string, metadata map[string]any) Result[T] {
	if warnings == nil {
		warnings = []string{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Result[T]{Success: true, Data: &data, Errors: []string{}, Warnings: warnings, Metadata: metadata}
}

// Failed builds a failed result without data.
func Failed[T any](errorMessages ...string) Result[T] {
	return Result[T]{Success: false, Errors: append([]string{}, errorMessages...), Warnings: []string{}, Metadata: map[string]any{}}
}

// ConversionGaps returns the gaps stored in the metadata.
func (result Result[T]) ConversionGaps() []ConversionGap {
	gaps, _ := result.Metadata[MetadataConversionGapsKey].([]ConversionGap)
	return gaps
}

// Err converts a failed result into a validation error. Successful results yield nil.
func (result Result[T]) Err() error {
	if result.Success {
		return nil
	}
	return failures.NewValidationError(transformFieldNameConstant, strings.Join(result.Errors, errorsJoinSeparatorConstant))
}
