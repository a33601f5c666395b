package utils

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

const (
	optionDecoderTagNameConstant       = "mapstructure"
	optionDecoderCreationErrorTemplate = "unable to prepare option decoder: %w"
	optionDecoderDecodeErrorTemplate   = "invalid options: %w"
)

// DecodeOptions decodes a loosely typed option map (the "with" block of a workflow file) into target.
// Unknown keys are rejected so that typos surface at load time.
func DecodeOptions(rawOptions map[string]any, target any) error {
	decoder, decoderError := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          optionDecoderTagNameConstant,
		Result:           target,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if decoderError != nil {
		return fmt.Errorf(optionDecoderCreationErrorTemplate, decoderError)
	}
	if decodeError := decoder.Decode(rawOptions); decodeError != nil {
		return fmt.Errorf(optionDecoderDecodeErrorTemplate, decodeError)
	}
	return nil
}
