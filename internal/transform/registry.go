package transform

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/temirov/carbon/internal/utils"
)

// Builtin transformation type names.
const (
	TypeReplace    = "replace"
	TypeMove       = "move"
	TypeRemove     = "remove"
	TypeAppendLine = "append_line"
	TypeNoop       = "noop"
)

const (
	unknownTransformationTemplate = "unknown transformation type %q (known: %s)"
	transformationOptionsTemplate = "transformation %s: %w"
	knownTypesSeparator           = ", "
)

// Factory builds a transformation from its decoded-on-demand options.
type Factory func(options map[string]any) (Transformation, error)

// Registry maps transformation type names to factories.
type Registry struct {
	mutex     sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry preloaded with the builtin transformations.
func NewRegistry() *Registry {
	registry := &Registry{factories: make(map[string]Factory)}
	registry.Register(TypeReplace, func(options map[string]any) (Transformation, error) {
		var replaceOptions ReplaceOptions
		if decodeError := utils.DecodeOptions(options, &replaceOptions); decodeError != nil {
			return nil, decodeError
		}
		return NewReplace(replaceOptions)
	})
	registry.Register(TypeMove, func(options map[string]any) (Transformation, error) {
		var moveOptions MoveOptions
		if decodeError := utils.DecodeOptions(options, &moveOptions); decodeError != nil {
			return nil, decodeError
		}
		return NewMove(moveOptions)
	})
	registry.Register(TypeRemove, func(options map[string]any) (Transformation, error) {
		var removeOptions RemoveOptions
		if decodeError := utils.DecodeOptions(options, &removeOptions); decodeError != nil {
			return nil, decodeError
		}
		return NewRemove(removeOptions)
	})
	registry.Register(TypeAppendLine, func(options map[string]any) (Transformation, error) {
		var appendOptions AppendLineOptions
		if decodeError := utils.DecodeOptions(options, &appendOptions); decodeError != nil {
			return nil, decodeError
		}
		return NewAppendLine(appendOptions)
	})
	registry.Register(TypeNoop, func(options map[string]any) (Transformation, error) {
		if decodeError := utils.DecodeOptions(options, &struct{}{}); decodeError != nil {
			return nil, decodeError
		}
		return Noop{}, nil
	})
	return registry
}

// Register adds or replaces a factory.
func (registry *Registry) Register(typeName string, factory Factory) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	registry.factories[strings.ToLower(typeName)] = factory
}

// Build constructs a transformation of the named type.
func (registry *Registry) Build(typeName string, options map[string]any) (Transformation, error) {
	registry.mutex.RLock()
	factory, known := registry.factories[strings.ToLower(strings.TrimSpace(typeName))]
	registry.mutex.RUnlock()
	if !known {
		return nil, fmt.Errorf(unknownTransformationTemplate, typeName, strings.Join(registry.Types(), knownTypesSeparator))
	}
	transformation, buildError := factory(options)
	if buildError != nil {
		return nil, fmt.Errorf(transformationOptionsTemplate, typeName, buildError)
	}
	return transformation, nil
}

// Types lists registered type names in sorted order.
func (registry *Registry) Types() []string {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	typeNames := make([]string, 0, len(registry.factories))
	for typeName := range registry.factories {
		typeNames = append(typeNames, typeName)
	}
	sort.Strings(typeNames)
	return typeNames
}
