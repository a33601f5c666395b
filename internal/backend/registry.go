package backend

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/temirov/carbon/internal/execshell"
)

const (
	unknownOriginTypeTemplate      = "unknown origin type %q (known: %s)"
	unknownDestinationTypeTemplate = "unknown destination type %q (known: %s)"
	backendOptionsErrorTemplate    = "%s %s: %w"
	originRoleConstant             = "origin"
	destinationRoleConstant        = "destination"
	knownTypesSeparatorConstant    = ", "
)

// Environment carries process-wide settings handed explicitly to backend constructors.
type Environment struct {
	Logger         *zap.Logger
	Clock          clock.Clock
	CacheDirectory string
	HomeDirectory  string
	BaseDirectory  string
	PushAttempts   int
	// WorkflowName scopes destination provenance records to the workflow being built.
	WorkflowName string
	// CommandObserver receives events for every external command a backend runs.
	CommandObserver execshell.CommandEventObserver
}

// OriginFactory builds an origin from its workflow file options.
type OriginFactory func(options map[string]any, environment Environment) (Origin, error)

// DestinationFactory builds a destination from its workflow file options.
type DestinationFactory func(options map[string]any, environment Environment) (Destination, error)

// Registry maps backend type names to factories.
type Registry struct {
	mutex                sync.RWMutex
	originFactories      map[string]OriginFactory
	destinationFactories map[string]DestinationFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		originFactories:      make(map[string]OriginFactory),
		destinationFactories: make(map[string]DestinationFactory),
	}
}

// RegisterOrigin adds an origin factory.
func (registry *Registry) RegisterOrigin(typeName string, factory OriginFactory) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	registry.originFactories[normalizeTypeName(typeName)] = factory
}

// RegisterDestination adds a destination factory.
func (registry *Registry) RegisterDestination(typeName string, factory DestinationFactory) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	registry.destinationFactories[normalizeTypeName(typeName)] = factory
}

// BuildOrigin constructs an origin of the named type.
func (registry *Registry) BuildOrigin(typeName string, options map[string]any, environment Environment) (Origin, error) {
	registry.mutex.RLock()
	factory, known := registry.originFactories[normalizeTypeName(typeName)]
	knownTypes := sortedKeys(registry.originFactories)
	registry.mutex.RUnlock()
	if !known {
		return nil, fmt.Errorf(unknownOriginTypeTemplate, typeName, strings.Join(knownTypes, knownTypesSeparatorConstant))
	}
	origin, buildError := factory(options, environment)
	if buildError != nil {
		return nil, fmt.Errorf(backendOptionsErrorTemplate, originRoleConstant, typeName, buildError)
	}
	return origin, nil
}

// BuildDestination constructs a destination of the named type.
func (registry *Registry) BuildDestination(typeName string, options map[string]any, environment Environment) (Destination, error) {
	registry.mutex.RLock()
	factory, known := registry.destinationFactories[normalizeTypeName(typeName)]
	knownTypes := sortedKeys(registry.destinationFactories)
	registry.mutex.RUnlock()
	if !known {
		return nil, fmt.Errorf(unknownDestinationTypeTemplate, typeName, strings.Join(knownTypes, knownTypesSeparatorConstant))
	}
	destination, buildError := factory(options, environment)
	if buildError != nil {
		return nil, fmt.Errorf(backendOptionsErrorTemplate, destinationRoleConstant, typeName, buildError)
	}
	return destination, nil
}

func normalizeTypeName(typeName string) string {
	return strings.ToLower(strings.TrimSpace(typeName))
}

func sortedKeys[Value any](entries map[string]Value) []string {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
