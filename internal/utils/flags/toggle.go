package flags

import (
	"fmt"
	"strings"
	"sync"

	"github.com/juju/collections/set"
	"github.com/spf13/pflag"
)

const (
	toggleTrueCanonicalValue               = "true"
	toggleFalseCanonicalValue              = "false"
	toggleValueTypeConstant                = "bool"
	toggleLongPrefixConstant               = "--"
	toggleAssignmentConstant               = "="
	toggleTerminatorConstant               = "--"
	toggleParseErrorTemplate               = "invalid toggle value %q"
	toggleArgumentTruePlaceholderConstant  = "<YES|no>"
	toggleArgumentFalsePlaceholderConstant = "<yes|NO>"
	toggleUsageEmptyTemplate               = "`%s`"
	toggleUsageFullTemplate                = "`%s` %s"
)

var (
	trueLiterals  = set.NewStrings(toggleTrueCanonicalValue, "yes", "on", "1", "t", "y")
	falseLiterals = set.NewStrings(toggleFalseCanonicalValue, "no", "off", "0", "f", "n")

	toggleFlagRegistryMutex sync.RWMutex
	toggleFlagNames         = set.NewStrings()
)

// AddToggleFlag registers a boolean flag that accepts yes/no style values ("--reuse-baseline no").
// A bare flag means true.
func AddToggleFlag(flagSet *pflag.FlagSet, target *bool, name string, defaultValue bool, usage string) {
	if flagSet == nil || len(name) == 0 {
		return
	}

	flagSet.Var(newToggleFlagValue(defaultValue, target), name, usage)
	flag := flagSet.Lookup(name)
	if flag == nil {
		return
	}
	flag.NoOptDefVal = toggleTrueCanonicalValue
	flag.Usage = formatToggleUsage(usage, defaultValue)

	toggleFlagRegistryMutex.Lock()
	toggleFlagNames.Add(name)
	toggleFlagRegistryMutex.Unlock()
}

// NormalizeToggleArguments joins "--flag value" into "--flag=value" for registered toggle flags.
// The following argument is consumed only when it is a recognised toggle literal,
// so positional arguments after a bare toggle are left alone.
func NormalizeToggleArguments(arguments []string) []string {
	if len(arguments) == 0 {
		return nil
	}

	normalized := make([]string, 0, len(arguments))
	for index := 0; index < len(arguments); index++ {
		current := arguments[index]
		if current == toggleTerminatorConstant {
			normalized = append(normalized, arguments[index:]...)
			break
		}
		if index+1 < len(arguments) && isBareToggle(current) && isToggleLiteral(arguments[index+1]) {
			normalized = append(normalized, current+toggleAssignmentConstant+arguments[index+1])
			index++
			continue
		}
		normalized = append(normalized, current)
	}
	return normalized
}

func isBareToggle(argument string) bool {
	if !strings.HasPrefix(argument, toggleLongPrefixConstant) || strings.Contains(argument, toggleAssignmentConstant) {
		return false
	}
	name := strings.TrimPrefix(argument, toggleLongPrefixConstant)
	toggleFlagRegistryMutex.RLock()
	defer toggleFlagRegistryMutex.RUnlock()
	return toggleFlagNames.Contains(name)
}

func isToggleLiteral(candidate string) bool {
	normalized := strings.ToLower(strings.TrimSpace(candidate))
	return trueLiterals.Contains(normalized) || falseLiterals.Contains(normalized)
}

func formatToggleUsage(description string, defaultValue bool) string {
	placeholder := toggleArgumentFalsePlaceholderConstant
	if defaultValue {
		placeholder = toggleArgumentTruePlaceholderConstant
	}
	trimmed := strings.TrimSpace(description)
	if len(trimmed) == 0 {
		return fmt.Sprintf(toggleUsageEmptyTemplate, placeholder)
	}
	return fmt.Sprintf(toggleUsageFullTemplate, placeholder, trimmed)
}

type toggleFlagValue struct {
	currentValue bool
	target       *bool
}

func newToggleFlagValue(defaultValue bool, target *bool) *toggleFlagValue {
	if target != nil {
		*target = defaultValue
	}
	return &toggleFlagValue{currentValue: defaultValue, target: target}
}

func (value *toggleFlagValue) Set(rawValue string) error {
	parsedValue, parseError := parseToggleValue(rawValue)
	if parseError != nil {
		return parseError
	}
	value.currentValue = parsedValue
	if value.target != nil {
		*value.target = parsedValue
	}
	return nil
}

func (value *toggleFlagValue) String() string {
	if value == nil || !value.currentValue {
		return toggleFalseCanonicalValue
	}
	return toggleTrueCanonicalValue
}

func (value *toggleFlagValue) Type() string {
	return toggleValueTypeConstant
}

func parseToggleValue(rawValue string) (bool, error) {
	normalizedValue := strings.ToLower(strings.TrimSpace(rawValue))
	switch {
	case len(normalizedValue) == 0, trueLiterals.Contains(normalizedValue):
		return true, nil
	case falseLiterals.Contains(normalizedValue):
		return false, nil
	default:
		return false, fmt.Errorf(toggleParseErrorTemplate, rawValue)
	}
}
