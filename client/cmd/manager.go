package cmd

import (
	"context"
	"fmt"

	"github.com/netbirdio/qzmanager/client/internal/config"
	"github.com/netbirdio/qzmanager/client/internal/helper"
	"github.com/netbirdio/qzmanager/client/internal/helper/cache"
	"github.com/netbirdio/qzmanager/client/internal/helper/detector"
	"github.com/netbirdio/qzmanager/client/internal/helper/downloader"
	"github.com/netbirdio/qzmanager/client/internal/helper/installer"
	"github.com/netbirdio/qzmanager/client/internal/helper/platform"
	"github.com/netbirdio/qzmanager/client/internal/helper/probe"
	"github.com/netbirdio/qzmanager/client/internal/helper/supervisor"
	"github.com/netbirdio/qzmanager/client/internal/metrics"
	"github.com/netbirdio/qzmanager/version"
)

func newReleaseChecker() *version.ReleaseChecker {
	return version.NewReleaseChecker()
}

// resolveTarget turns the config into the platform target for this machine
func resolveTarget(ctx context.Context, cfg *config.Config, releases config.LatestSource) (platform.Target, error) {
	target, err := platform.Current(platform.Options{
		Version:     cfg.ResolveHelperVersion(ctx, releases),
		URLTemplate: cfg.DownloadURLTemplate,
		Env:         platform.SystemEnv(),
	})
	if err != nil {
		return platform.Target{}, fmt.Errorf("resolve helper target: %w", err)
	}
	return target, nil
}

// newManager wires the helper components for target
func newManager(target platform.Target, cfg *config.Config, m *metrics.Metrics) *helper.Manager {
	state := probe.NewState()

	return helper.NewManager(target, helper.Deps{
		Prober:    probe.New(cfg.ProbeURL, state, probe.WithTimeout(cfg.ProbeTimeout.Duration)),
		State:     state,
		Detector:  detector.New(target),
		Fetcher:   downloader.New(downloader.WithTimeout(cfg.DownloadTimeout.Duration)),
		Installer: installer.New(installer.WithTimeout(cfg.InstallTimeout.Duration)),
		Launcher:  supervisor.New(target, supervisor.WithGrace(cfg.LaunchGrace.Duration)),
		Cache:     cache.New(cfg.CacheDir),
		Metrics:   m,
	},
		helper.WithRetry(cfg.RetryAttempts, cfg.RetryDelay.Duration),
		helper.WithInstallSettle(cfg.InstallSettle.Duration),
		helper.WithRestartDelay(cfg.RestartDelay.Duration),
	)
}
