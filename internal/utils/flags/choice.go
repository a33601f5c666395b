// Package flags binds Cobra flags whose values are constrained to a small vocabulary.
package flags

import (
	"fmt"
	"strings"

	"github.com/juju/collections/set"
)

const (
	choicePlaceholderPrefix   = "<"
	choicePlaceholderSuffix   = ">"
	choiceSeparatorLiteral    = "|"
	choiceListSeparator       = ", "
	choiceUsageEmptyTemplate  = "`%s`"
	choiceUsageFullTemplate   = "`%s` %s"
	choiceInvalidTemplate     = "invalid value %q (expected one of %s)"
	choiceFlagInvalidTemplate = "--%s: %w"
)

// FormatChoiceUsage builds a usage string where the default option is capitalized inside a placeholder.
func FormatChoiceUsage(defaultChoice string, choices []string, description string) string {
	placeholder := choicePlaceholderPrefix + strings.Join(highlightDefaultChoice(defaultChoice, choices), choiceSeparatorLiteral) + choicePlaceholderSuffix
	if len(strings.TrimSpace(description)) == 0 {
		return fmt.Sprintf(choiceUsageEmptyTemplate, placeholder)
	}
	return fmt.Sprintf(choiceUsageFullTemplate, placeholder, description)
}

// NormalizeChoice lower-cases and trims value and checks it against choices.
// An empty value is returned unchanged so callers can fall back to configuration.
func NormalizeChoice(flagName string, value string, choices []string) (string, error) {
	normalizedValue := strings.ToLower(strings.TrimSpace(value))
	if len(normalizedValue) == 0 {
		return normalizedValue, nil
	}
	accepted := set.NewStrings()
	for _, choice := range choices {
		accepted.Add(strings.ToLower(strings.TrimSpace(choice)))
	}
	if !accepted.Contains(normalizedValue) {
		invalidError := fmt.Errorf(choiceInvalidTemplate, value, strings.Join(accepted.SortedValues(), choiceListSeparator))
		return "", fmt.Errorf(choiceFlagInvalidTemplate, flagName, invalidError)
	}
	return normalizedValue, nil
}

func highlightDefaultChoice(defaultChoice string, choices []string) []string {
	normalizedDefault := strings.ToLower(strings.TrimSpace(defaultChoice))
	highlighted := make([]string, 0, len(choices))
	seen := set.NewStrings()

	for _, choice := range choices {
		trimmedChoice := strings.TrimSpace(choice)
		normalizedChoice := strings.ToLower(trimmedChoice)
		if len(trimmedChoice) == 0 || seen.Contains(normalizedChoice) {
			continue
		}
		seen.Add(normalizedChoice)

		if normalizedChoice == normalizedDefault {
			trimmedChoice = strings.ToUpper(trimmedChoice)
		}
		highlighted = append(highlighted, trimmedChoice)
	}

	return highlighted
}
