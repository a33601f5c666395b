package workflow

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/temirov/carbon/internal/migration"
)

const workflowNotFoundTemplateConstant = "%w: %q (defined: %s)"

// ErrWorkflowNotFound indicates that a workflow file does not define the requested name.
var ErrWorkflowNotFound = errors.New("workflow not defined")

// Catalog serves definitions from a loaded configuration. Definitions are built on first request and reused,
// so unrelated workflows with unreachable backends never block a run.
type Catalog struct {
	configuration Configuration
	builder       Builder

	mutex       sync.Mutex
	definitions map[string]migration.Definition
}

// NewCatalog constructs a Catalog.
func NewCatalog(configuration Configuration, builder Builder) *Catalog {
	return &Catalog{configuration: configuration, builder: builder, definitions: make(map[string]migration.Definition)}
}

// Names lists the workflows defined in the configuration.
func (catalog *Catalog) Names() []string {
	return catalog.configuration.WorkflowNames()
}

// Workflow returns the definition named workflowName.
func (catalog *Catalog) Workflow(workflowName string) (migration.Definition, error) {
	trimmedName := strings.TrimSpace(workflowName)
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()
	if definition, cached := catalog.definitions[trimmedName]; cached {
		return definition, nil
	}
	for _, workflowConfiguration := range catalog.configuration.Workflows {
		if workflowConfiguration.Name != trimmedName {
			continue
		}
		definition, buildError := catalog.builder.Build(workflowConfiguration)
		if buildError != nil {
			return migration.Definition{}, buildError
		}
		catalog.definitions[trimmedName] = definition
		return definition, nil
	}
	return migration.Definition{}, fmt.Errorf(workflowNotFoundTemplateConstant, ErrWorkflowNotFound, trimmedName, strings.Join(catalog.Names(), ", "))
}
