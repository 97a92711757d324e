package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netbirdio/qzmanager/util"
)

var ErrGetServiceStatus = fmt.Errorf("failed to get service status")

// Common service command setup
func setupServiceCommand(cmd *cobra.Command) error {
	util.SetFlagsFromEnvVars(rootCmd)
	util.SetFlagsFromEnvVars(serviceCmd)
	cmd.SetOut(cmd.OutOrStdout())
	return util.InitLog(logLevel, util.ConsoleLog)
}

// Build service arguments for install
func buildServiceArguments() []string {
	args := []string{
		"service",
		"run",
		"--log-level",
		logLevel,
		"--log-file",
		logFile,
		"--" + apiAddrFlag,
		apiAddr,
	}

	if configPath != "" {
		args = append(args, "--config", configPath)
	}

	if serviceName != "" {
		args = append(args, "--service", serviceName)
	}

	return args
}

// Configure platform-specific service settings
func configurePlatformSpecificSettings(svcConfig *service.Config) {
	switch runtime.GOOS {
	case "linux":
		if logFile != "" && logFile != util.ConsoleLog {
			dir := filepath.Dir(logFile)
			if err := os.MkdirAll(dir, 0750); err != nil {
				log.Warnf("failed to create log directory %s: %v", dir, err)
			} else {
				svcConfig.Option["LogOutput"] = true
				svcConfig.Option["LogDirectory"] = dir
			}
		}
	case "darwin":
		svcConfig.Option["KeepAlive"] = true
		svcConfig.Option["RunAtLoad"] = true
	case "windows":
		svcConfig.Option["OnFailure"] = "restart"
	}
}

// Create fully configured service config for install
func createServiceConfigForInstall() (*service.Config, error) {
	svcConfig, err := newSVCConfig()
	if err != nil {
		return nil, fmt.Errorf("create service config: %w", err)
	}

	svcConfig.Arguments = buildServiceArguments()
	configurePlatformSpecificSettings(svcConfig)

	return svcConfig, nil
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "installs qzmanager service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setupServiceCommand(cmd); err != nil {
			return err
		}

		svcConfig, err := createServiceConfigForInstall()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		s, err := newSVC(newProgram(ctx, cancel, nil), svcConfig)
		if err != nil {
			return err
		}

		if err := s.Install(); err != nil {
			return fmt.Errorf("install service: %w", err)
		}

		cmd.Println("qzmanager service has been installed")
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "uninstalls qzmanager service from system",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setupServiceCommand(cmd); err != nil {
			return err
		}

		cfg, err := newSVCConfig()
		if err != nil {
			return fmt.Errorf("create service config: %w", err)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		s, err := newSVC(newProgram(ctx, cancel, nil), cfg)
		if err != nil {
			return err
		}

		if err := s.Uninstall(); err != nil {
			return fmt.Errorf("uninstall service: %w", err)
		}

		cmd.Println("qzmanager service has been uninstalled")
		return nil
	},
}
