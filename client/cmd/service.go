package cmd

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/netbirdio/qzmanager/client/internal/config"
	"github.com/netbirdio/qzmanager/client/server"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the qzmanager background service",
}

var (
	serviceName    string
	serviceEnvVars []string
)

type program struct {
	ctx              context.Context
	cancel           context.CancelFunc
	cfg              *config.Config
	serverInstance   *server.Server
	serverInstanceMu sync.Mutex
}

func init() {
	defaultServiceName := "qzmanager"
	if runtime.GOOS == "windows" {
		defaultServiceName = "QZManager"
	}

	serviceCmd.AddCommand(runCmd, startCmd, stopCmd, svcRestartCmd, svcStatusCmd) // service control commands are subcommands of service
	serviceCmd.AddCommand(installCmd, uninstallCmd)                               // service installer commands are subcommands of service

	serviceCmd.PersistentFlags().StringVarP(&serviceName, "service", "s", defaultServiceName, "qzmanager service name")
	serviceEnvDesc := `Sets extra environment variables for the service. ` +
		`You can specify a comma-separated list of KEY=VALUE pairs. ` +
		`E.g. --service-env QZM_LOG_LEVEL=debug,CUSTOM_VAR=value`

	installCmd.Flags().StringSliceVar(&serviceEnvVars, "service-env", nil, serviceEnvDesc)
}

func newProgram(ctx context.Context, cancel context.CancelFunc, cfg *config.Config) *program {
	return &program{ctx: ctx, cancel: cancel, cfg: cfg}
}

func newSVCConfig() (*service.Config, error) {
	config := &service.Config{
		Name:        serviceName,
		DisplayName: "QZ Tray Manager",
		Description: "Keeps the QZ Tray printing helper installed, running and reachable",
		Option:      make(service.KeyValue),
		EnvVars:     make(map[string]string),
	}

	// the helper is a per-user tray application, so the manager runs in the user session
	if runtime.GOOS != "windows" {
		config.Option["UserService"] = true
	}

	if len(serviceEnvVars) > 0 {
		extraEnvs, err := parseServiceEnvVars(serviceEnvVars)
		if err != nil {
			return nil, fmt.Errorf("parse service environment variables: %w", err)
		}
		config.EnvVars = extraEnvs
	}

	return config, nil
}

func newSVC(prg *program, conf *service.Config) (service.Service, error) {
	return service.New(prg, conf)
}

func parseServiceEnvVars(envVars []string) (map[string]string, error) {
	envMap := make(map[string]string)

	for _, env := range envVars {
		if env == "" {
			continue
		}

		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid environment variable format: %s (expected KEY=VALUE)", env)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if key == "" {
			return nil, fmt.Errorf("empty environment variable key in: %s", env)
		}

		envMap[key] = value
	}

	return envMap, nil
}
