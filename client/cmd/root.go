package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netbirdio/qzmanager/client/internal/config"
	"github.com/netbirdio/qzmanager/client/internal/helper/cache"
	"github.com/netbirdio/qzmanager/client/internal/helper/platform"
	"github.com/netbirdio/qzmanager/client/internal/helper/probe"
	"github.com/netbirdio/qzmanager/util"
)

const (
	helperVersionFlag  = "helper-version"
	downloadURLFlag    = "download-url"
	probeURLFlag       = "probe-url"
	cacheDirFlag       = "cache-dir"
	apiAddrFlag        = "api-addr"
	allowedOriginsFlag = "allowed-origins"
	retryAttemptsFlag  = "retry-attempts"
	releaseCheckFlag   = "release-check"
)

var (
	configPath     string
	logLevel       string
	logFile        string
	defaultLogFile string
	apiAddr        string
	helperVersion  string
	downloadURL    string
	probeURL       string
	cacheDir       string
	allowedOrigins []string
	retryAttempts  int
	releaseCheck   bool
	rootCmd        = &cobra.Command{
		Use:          "qzmanager",
		Short:        "Keeps the QZ Tray helper service installed, running and reachable",
		Long:         "",
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultLogDir, err := os.UserConfigDir()
	if err != nil {
		defaultLogDir = os.TempDir()
	}
	defaultLogFile = filepath.Join(defaultLogDir, "qzmanager", "qzmanager.log")
	if runtime.GOOS == "windows" {
		defaultLogFile = filepath.Join(defaultLogDir, "QZManager", "qzmanager.log")
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "qzmanager config file location")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "sets qzmanager log level")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", defaultLogFile, "sets qzmanager log path. If console is specified the log will be output to stdout")
	rootCmd.PersistentFlags().StringVar(&apiAddr, apiAddrFlag, config.DefaultAPIAddress, "loopback address of the control API")
	rootCmd.PersistentFlags().StringVar(&helperVersion, helperVersionFlag, platform.DefaultVersion, `helper release to install, or "latest"`)
	rootCmd.PersistentFlags().StringVar(&downloadURL, downloadURLFlag, platform.DefaultURLTemplate, "helper download URL template with %version, %arch and %ext placeholders")
	rootCmd.PersistentFlags().StringVar(&probeURL, probeURLFlag, probe.DefaultURL, "websocket address of the helper service")
	rootCmd.PersistentFlags().StringVar(&cacheDir, cacheDirFlag, cache.DefaultDir(), "directory holding downloaded helper installers")
	rootCmd.PersistentFlags().StringSliceVar(&allowedOrigins, allowedOriginsFlag, nil, "origins allowed to call the control API, e.g. http://localhost:*")
	rootCmd.PersistentFlags().IntVar(&retryAttempts, retryAttemptsFlag, 10, "connection attempts after launching the helper")
	rootCmd.PersistentFlags().BoolVar(&releaseCheck, releaseCheckFlag, true, "look up the latest helper release on GitHub")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serviceCmd)
}

// SetupCloseHandler handles SIGTERM signal and exits with success
func SetupCloseHandler(ctx context.Context, cancel context.CancelFunc) {
	termCh := make(chan os.Signal, 1)
	signal.Notify(termCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(termCh)
		select {
		case <-ctx.Done():
		case <-termCh:
		}

		log.Info("shutdown signal received")
		cancel()
	}()
}

// loadConfig merges the config file with the flags that were set on the command line or through QZM_ variables
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	input := config.ConfigInput{ConfigPath: configPath}

	changed := func(name string) bool {
		f := cmd.Flag(name)
		return f != nil && f.Changed
	}

	if changed(helperVersionFlag) {
		input.HelperVersion = &helperVersion
	}
	if changed(downloadURLFlag) {
		input.DownloadURLTemplate = &downloadURL
	}
	if changed(probeURLFlag) {
		input.ProbeURL = &probeURL
	}
	if changed(cacheDirFlag) {
		input.CacheDir = &cacheDir
	}
	if changed(apiAddrFlag) {
		input.APIAddress = &apiAddr
	}
	if changed(allowedOriginsFlag) {
		input.AllowedOrigins = allowedOrigins
	}
	if changed(retryAttemptsFlag) {
		input.RetryAttempts = &retryAttempts
	}
	if changed(releaseCheckFlag) {
		input.CheckRelease = &releaseCheck
	}

	cfg, err := config.UpdateOrCreateConfig(input)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}
	return cfg, nil
}

// initCommand applies QZM_ variables and sets up console logging for short-lived commands
func initCommand(cmd *cobra.Command) error {
	util.SetFlagsFromEnvVars(rootCmd)
	cmd.SetOut(cmd.OutOrStdout())

	if err := util.InitLog(logLevel, util.ConsoleLog); err != nil {
		return fmt.Errorf("failed initializing log %v", err)
	}
	return nil
}

func commandContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
