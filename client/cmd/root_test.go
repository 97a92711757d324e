package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netbirdio/qzmanager/client/internal/helper/platform"
	"github.com/netbirdio/qzmanager/util"
)

func TestInitCommands(t *testing.T) {
	helpFlag := "-h"
	commandArgs := [][]string{{"root", helpFlag}}
	for _, command := range rootCmd.Commands() {
		commandArgs = append(commandArgs, []string{command.Name(), command.Name(), helpFlag})
		for _, subcommand := range command.Commands() {
			commandArgs = append(commandArgs, []string{command.Name() + " " + subcommand.Name(), command.Name(), subcommand.Name(), helpFlag})
		}
	}

	for _, args := range commandArgs {
		t.Run(fmt.Sprintf("Testing Command %s", args[0]), func(t *testing.T) {
			defer func() {
				err := recover()
				if err != nil {
					t.Fatalf("got an panic error while running the command: %s -h. Error: %s", args[0], err)
				}
			}()

			rootCmd.SetArgs(args[1:])
			rootCmd.SetOut(io.Discard)
			if err := rootCmd.Execute(); err != nil {
				t.Errorf("expected no error while running %s command, got %v", args[0], err)
				return
			}
		})
	}
}

func TestSetFlagsFromEnvVars(t *testing.T) {
	var (
		origins  []string
		attempts int
		version  string
		check    bool
	)

	var cmd = &cobra.Command{
		Use:          "qzmanager",
		Long:         "test",
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			util.SetFlagsFromEnvVars(cmd)
		},
	}

	cmd.PersistentFlags().StringSliceVar(&origins, allowedOriginsFlag, nil, "origins")
	cmd.PersistentFlags().IntVar(&attempts, retryAttemptsFlag, 10, "attempts")
	cmd.PersistentFlags().StringVar(&version, helperVersionFlag, "2.2.5", "version")
	cmd.PersistentFlags().BoolVar(&check, releaseCheckFlag, true, "check")

	t.Setenv("QZM_ALLOWED_ORIGINS", "http://localhost:*,app://host")
	t.Setenv("QZM_RETRY_ATTEMPTS", "4")
	t.Setenv("QZM_HELPER_VERSION", "latest")
	t.Setenv("QZM_RELEASE_CHECK", "false")

	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, []string{"http://localhost:*", "app://host"}, origins)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, "latest", version)
	assert.False(t, check)
}

func TestLoadConfig_OnlyChangedFlags(t *testing.T) {
	oldPath, oldAttempts, oldVersion := configPath, retryAttempts, helperVersion
	t.Cleanup(func() {
		configPath, retryAttempts, helperVersion = oldPath, oldAttempts, oldVersion
	})
	configPath = filepath.Join(t.TempDir(), "config.json")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().IntVar(&retryAttempts, retryAttemptsFlag, 10, "attempts")
	cmd.Flags().StringVar(&helperVersion, helperVersionFlag, "9.9.9", "version")
	require.NoError(t, cmd.Flags().Set(retryAttemptsFlag, "3"))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, platform.DefaultVersion, cfg.HelperVersion, "unchanged flags must not override the config file")
}
