package gitbackend

import (
	"go.uber.org/zap"

	"github.com/temirov/carbon/internal/backend"
	"github.com/temirov/carbon/internal/execshell"
	"github.com/temirov/carbon/internal/utils"
)

// TypeName is the workflow file type that selects the git backend.
const TypeName = "git"

// Register adds the git origin and destination factories to registry.
func Register(registry *backend.Registry) {
	registry.RegisterOrigin(TypeName, func(rawOptions map[string]any, environment backend.Environment) (backend.Origin, error) {
		var options OriginOptions
		if decodeError := utils.DecodeOptions(rawOptions, &options); decodeError != nil {
			return nil, decodeError
		}
		executor, executorError := newEnvironmentExecutor(environment)
		if executorError != nil {
			return nil, executorError
		}
		return NewOrigin(options, executor, environment)
	})
	registry.RegisterDestination(TypeName, func(rawOptions map[string]any, environment backend.Environment) (backend.Destination, error) {
		var options DestinationOptions
		if decodeError := utils.DecodeOptions(rawOptions, &options); decodeError != nil {
			return nil, decodeError
		}
		executor, executorError := newEnvironmentExecutor(environment)
		if executorError != nil {
			return nil, executorError
		}
		return NewDestination(options, executor, environment)
	})
}

func newEnvironmentExecutor(environment backend.Environment) (*execshell.ShellExecutor, error) {
	logger := environment.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return execshell.NewShellExecutor(logger, execshell.NewOSCommandRunner(), environment.CommandObserver)
}
