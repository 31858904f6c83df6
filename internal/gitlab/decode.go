package gitlab

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

const (
	jsonTagNameConstant           = "json"
	decodeProjectTemplateConstant = "decode gitlab project: %w"
)

func decodeProject(item map[string]any) (Project, error) {
	var project Project
	decoder, decoderError := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: jsonTagNameConstant,
		Result:  &project,
	})
	if decoderError != nil {
		return Project{}, fmt.Errorf(decodeProjectTemplateConstant, decoderError)
	}
	if decodeError := decoder.Decode(item); decodeError != nil {
		return Project{}, fmt.Errorf(decodeProjectTemplateConstant, decodeError)
	}
	return project, nil
}
