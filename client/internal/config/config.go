// Package config holds the persisted qzmanager settings.
package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"

	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/qzmanager/client/internal/helper"
	"github.com/netbirdio/qzmanager/client/internal/helper/cache"
	"github.com/netbirdio/qzmanager/client/internal/helper/downloader"
	"github.com/netbirdio/qzmanager/client/internal/helper/installer"
	"github.com/netbirdio/qzmanager/client/internal/helper/platform"
	"github.com/netbirdio/qzmanager/client/internal/helper/probe"
	"github.com/netbirdio/qzmanager/client/internal/helper/supervisor"
	"github.com/netbirdio/qzmanager/util"
)

const (
	// LatestVersion makes the helper version follow the newest published release
	LatestVersion = "latest"

	DefaultAPIAddress = "127.0.0.1:8182"

	configDirName  = "qzmanager"
	configFileName = "config.json"
)

var ErrInvalidConfig = errors.New("invalid config")

// ConfigInput carries configuration changes coming from flags
type ConfigInput struct {
	ConfigPath          string
	HelperVersion       *string
	DownloadURLTemplate *string
	ProbeURL            *string
	CacheDir            *string
	APIAddress          *string
	AllowedOrigins      []string
	RetryAttempts       *int
	CheckRelease        *bool
}

// Config Configuration type
type Config struct {
	// HelperVersion is a release number or "latest"
	HelperVersion string
	// DownloadURLTemplate supports the %version, %arch and %ext placeholders
	DownloadURLTemplate string
	ProbeURL            string
	CacheDir            string

	DownloadTimeout util.Duration
	InstallTimeout  util.Duration
	ProbeTimeout    util.Duration
	RetryAttempts   int
	RetryDelay      util.Duration
	LaunchGrace     util.Duration
	InstallSettle   util.Duration
	RestartDelay    util.Duration

	// APIAddress is where the control API listens. Only loopback addresses are accepted.
	APIAddress     string
	AllowedOrigins []string
	CheckRelease   bool
}

// Default returns a config filled with the built-in values
func Default() *Config {
	return &Config{
		HelperVersion:       platform.DefaultVersion,
		DownloadURLTemplate: platform.DefaultURLTemplate,
		ProbeURL:            probe.DefaultURL,
		CacheDir:            cache.DefaultDir(),
		DownloadTimeout:     util.Duration{Duration: downloader.DefaultTimeout},
		InstallTimeout:      util.Duration{Duration: installer.DefaultTimeout},
		ProbeTimeout:        util.Duration{Duration: probe.DefaultTimeout},
		RetryAttempts:       helper.DefaultRetryAttempts,
		RetryDelay:          util.Duration{Duration: helper.DefaultRetryDelay},
		LaunchGrace:         util.Duration{Duration: supervisor.DefaultGrace},
		InstallSettle:       util.Duration{Duration: helper.DefaultInstallSettle},
		RestartDelay:        util.Duration{Duration: helper.DefaultRestartDelay},
		APIAddress:          DefaultAPIAddress,
		CheckRelease:        true,
	}
}

// DefaultConfigPath is the per-user config file location
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, configDirName, configFileName)
}

// ReadConfig reads the config file. A missing file yields defaults that are written out.
func ReadConfig(configPath string) (*Config, error) {
	return UpdateOrCreateConfig(ConfigInput{ConfigPath: configPath})
}

// UpdateOrCreateConfig reads the existing config or generates a new one, applies input and persists changes
func UpdateOrCreateConfig(input ConfigInput) (*Config, error) {
	config := Default()

	exists := configFileIsExists(input.ConfigPath)
	if exists {
		if _, err := util.ReadJson(input.ConfigPath, config); err != nil {
			return nil, fmt.Errorf("read config %s: %w", input.ConfigPath, err)
		}
	} else {
		log.Infof("generating new config %s", input.ConfigPath)
	}

	updated, err := config.apply(input)
	if err != nil {
		return nil, err
	}

	if !exists || updated {
		if err := WriteOutConfig(input.ConfigPath, config); err != nil {
			return nil, err
		}
	}
	return config, nil
}

// WriteOutConfig write put the prepared config to the given path
func WriteOutConfig(path string, config *Config) error {
	return util.WriteJson(context.Background(), path, config)
}

func (config *Config) apply(input ConfigInput) (updated bool, err error) {
	setString := func(name string, dst *string, src *string) {
		if src != nil && *src != *dst {
			log.Infof("new %s provided, updated to %q (old value %q)", name, *src, *dst)
			*dst = *src
			updated = true
		}
	}

	setString("helper version", &config.HelperVersion, input.HelperVersion)
	setString("download URL template", &config.DownloadURLTemplate, input.DownloadURLTemplate)
	setString("probe URL", &config.ProbeURL, input.ProbeURL)
	setString("cache dir", &config.CacheDir, input.CacheDir)
	setString("API address", &config.APIAddress, input.APIAddress)

	if input.RetryAttempts != nil && *input.RetryAttempts != config.RetryAttempts {
		log.Infof("updating retry attempts to %d (old value %d)", *input.RetryAttempts, config.RetryAttempts)
		config.RetryAttempts = *input.RetryAttempts
		updated = true
	}

	if input.CheckRelease != nil && *input.CheckRelease != config.CheckRelease {
		config.CheckRelease = *input.CheckRelease
		updated = true
	}

	if input.AllowedOrigins != nil && !slices.Equal(input.AllowedOrigins, config.AllowedOrigins) {
		log.Infof("updating allowed origins to %v", input.AllowedOrigins)
		config.AllowedOrigins = input.AllowedOrigins
		updated = true
	}

	return updated, config.Validate()
}

// Validate checks the values that would otherwise fail late at runtime
func (config *Config) Validate() error {
	if config.HelperVersion != LatestVersion {
		if _, err := goversion.NewVersion(config.HelperVersion); err != nil {
			return fmt.Errorf("%w: helper version %q: %v", ErrInvalidConfig, config.HelperVersion, err)
		}
	}

	u, err := url.Parse(config.ProbeURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: probe URL %q must be a ws:// or wss:// address", ErrInvalidConfig, config.ProbeURL)
	}

	if config.RetryAttempts < 1 {
		return fmt.Errorf("%w: retry attempts must be positive, got %d", ErrInvalidConfig, config.RetryAttempts)
	}

	if err := checkLoopback(config.APIAddress); err != nil {
		return fmt.Errorf("%w: API address: %v", ErrInvalidConfig, err)
	}

	for name, d := range map[string]time.Duration{
		"download timeout": config.DownloadTimeout.Duration,
		"install timeout":  config.InstallTimeout.Duration,
		"probe timeout":    config.ProbeTimeout.Duration,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}
	return nil
}

// LatestSource resolves the newest published helper version
type LatestSource interface {
	Latest(ctx context.Context, fallback string) string
}

// ResolveHelperVersion returns the concrete helper version. "latest" goes through src and falls back to the built-in default.
func (config *Config) ResolveHelperVersion(ctx context.Context, src LatestSource) string {
	if config.HelperVersion != LatestVersion {
		return config.HelperVersion
	}
	if src == nil || !config.CheckRelease {
		return platform.DefaultVersion
	}
	return src.Latest(ctx, platform.DefaultVersion)
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("%s is not a loopback address", host)
	}
	return nil
}

// configFileIsExists check if config file exists.
func configFileIsExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
