package workflow_test

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	workflowcmd "github.com/temirov/carbon/cmd/cli/workflow"
	"github.com/temirov/carbon/internal/state"
)

func TestCommandConfigurationSanitize(testInstance *testing.T) {
	homeDirectory := testInstance.TempDir()
	testInstance.Setenv("HOME", homeDirectory)

	testCases := []struct {
		name          string
		configuration workflowcmd.CommandConfiguration
		expectError   bool
		assertFunc    func(*testing.T, workflowcmd.CommandConfiguration)
	}{
		{
			name:          "defaults_fill_empty_values",
			configuration: workflowcmd.CommandConfiguration{},
			assertFunc: func(testInstance *testing.T, sanitized workflowcmd.CommandConfiguration) {
				require.Equal(testInstance, filepath.Join(homeDirectory, ".carbon", "work"), sanitized.Workdir)
				require.Equal(testInstance, filepath.Join(homeDirectory, ".carbon", "cache"), sanitized.CacheDirectory)
				require.Equal(testInstance, filepath.Join(homeDirectory, ".carbon", "state"), sanitized.State.Directory)
				require.Equal(testInstance, "file", sanitized.State.Backend)
				require.Equal(testInstance, 3, sanitized.PushAttempts)
				require.Equal(testInstance, 2*time.Minute, sanitized.State.LockLease)
				require.False(testInstance, sanitized.RecycleWorkdirs)
			},
		},
		{
			name: "backend_normalized_and_home_expanded",
			configuration: workflowcmd.CommandConfiguration{
				Workdir:       "/srv/carbon/work",
				HomeDirectory: "~/credentials",
				PushAttempts:  5,
				State:         workflowcmd.StateConfiguration{Backend: " SQLite ", DSN: "file:state.db", LockLease: 45 * time.Second},
			},
			assertFunc: func(testInstance *testing.T, sanitized workflowcmd.CommandConfiguration) {
				require.Equal(testInstance, "/srv/carbon/work", sanitized.Workdir)
				require.Equal(testInstance, filepath.Join(homeDirectory, "credentials"), sanitized.HomeDirectory)
				require.Equal(testInstance, "sqlite", sanitized.State.Backend)
				require.Equal(testInstance, 5, sanitized.PushAttempts)

				storeConfiguration := sanitized.StoreConfiguration()
				require.Equal(testInstance, state.BackendSQLite, storeConfiguration.Backend)
				require.Equal(testInstance, "file:state.db", storeConfiguration.DSN)
				require.Equal(testInstance, 45*time.Second, storeConfiguration.LockLease)
			},
		},
		{
			name:          "negative_push_attempts",
			configuration: workflowcmd.CommandConfiguration{PushAttempts: -1},
			expectError:   true,
		},
		{
			name:          "negative_lock_timeout",
			configuration: workflowcmd.CommandConfiguration{State: workflowcmd.StateConfiguration{LockTimeout: -time.Second}},
			expectError:   true,
		},
		{
			name:          "negative_lock_lease",
			configuration: workflowcmd.CommandConfiguration{State: workflowcmd.StateConfiguration{LockLease: -time.Second}},
			expectError:   true,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			sanitized, sanitizeError := testCase.configuration.Sanitize()
			if testCase.expectError {
				require.Error(testInstance, sanitizeError)
				return
			}
			require.NoError(testInstance, sanitizeError)
			testCase.assertFunc(testInstance, sanitized)
		})
	}
}

func TestDefaultConfigurationValuesArePrefixed(testInstance *testing.T) {
	values := workflowcmd.DefaultConfigurationValues("migration")
	require.Equal(testInstance, "file", values["migration.state.backend"])
	require.Equal(testInstance, "30s", values["migration.state.lock_timeout"])
	require.Equal(testInstance, 3, values["migration.push_attempts"])
	require.Equal(testInstance, "2m0s", values["migration.state.lock_lease"])
	require.Equal(testInstance, false, values["migration.recycle_workdirs"])
	require.NotContains(testInstance, values, "workdir")

	unprefixed := workflowcmd.DefaultConfigurationValues(" ")
	require.Contains(testInstance, unprefixed, "workdir")
}

func TestStateBackendNamesMatchStore(testInstance *testing.T) {
	require.ElementsMatch(testInstance, []string{"file", "sqlite", "postgres", "s3", "memory"}, workflowcmd.StateBackendNames())
}
