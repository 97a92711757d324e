package cmd

import (
	"context"
	"fmt"
	"net"

	"github.com/kardianos/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netbirdio/qzmanager/client/internal/metrics"
	"github.com/netbirdio/qzmanager/client/server"
	"github.com/netbirdio/qzmanager/util"
)

func (p *program) Start(svc service.Service) error {
	// Start should not block. Do the actual work async.
	log.Info("starting qzmanager service") //nolint

	checker := newReleaseChecker()
	target, err := resolveTarget(p.ctx, p.cfg, checker)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.New(reg)

	listener, err := net.Listen("tcp", p.cfg.APIAddress)
	if err != nil {
		return fmt.Errorf("failed to listen control API %s: %w", p.cfg.APIAddress, err)
	}

	opts := server.Options{
		Metrics:        appMetrics,
		Gatherer:       reg,
		AllowedOrigins: p.cfg.AllowedOrigins,
	}
	if p.cfg.CheckRelease {
		opts.Releases = checker
	}

	serverInstance := server.New(p.ctx, newManager(target, p.cfg, appMetrics), opts)
	p.serverInstanceMu.Lock()
	p.serverInstance = serverInstance
	p.serverInstanceMu.Unlock()

	go func() {
		if err := serverInstance.Serve(listener); err != nil {
			log.Errorf("control API stopped: %v", err)
		}
	}()
	serverInstance.Start()
	return nil
}

func (p *program) Stop(srv service.Service) error {
	p.serverInstanceMu.Lock()
	serverInstance := p.serverInstance
	p.serverInstanceMu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	if serverInstance != nil {
		if err := serverInstance.Shutdown(); err != nil {
			log.Warnf("failed to shut down control API: %v", err)
		}
	}

	log.Info("stopped qzmanager service") //nolint
	return nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "runs qzmanager as service",
	RunE: func(cmd *cobra.Command, args []string) error {
		util.SetFlagsFromEnvVars(rootCmd)
		util.SetFlagsFromEnvVars(serviceCmd)
		cmd.SetOut(cmd.OutOrStdout())

		if err := util.InitLog(logLevel, logFile); err != nil {
			return fmt.Errorf("failed initializing log %v", err)
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		svcConfig, err := newSVCConfig()
		if err != nil {
			return fmt.Errorf("create service config: %w", err)
		}

		s, err := newSVC(newProgram(ctx, cancel, cfg), svcConfig)
		if err != nil {
			return err
		}
		return s.Run()
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "starts qzmanager service",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := controlService(cmd)
		if err != nil {
			return err
		}
		if err := s.Start(); err != nil {
			return fmt.Errorf("start service: %w", err)
		}
		cmd.Println("qzmanager service has been started")
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "stops qzmanager service",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := controlService(cmd)
		if err != nil {
			return err
		}
		if err := s.Stop(); err != nil {
			return fmt.Errorf("stop service: %w", err)
		}
		cmd.Println("qzmanager service has been stopped")
		return nil
	},
}

var svcRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "restarts qzmanager service",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := controlService(cmd)
		if err != nil {
			return err
		}
		if err := s.Restart(); err != nil {
			return fmt.Errorf("restart service: %w", err)
		}
		cmd.Println("qzmanager service has been restarted")
		return nil
	},
}

var svcStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "shows qzmanager service status",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := controlService(cmd)
		if err != nil {
			return err
		}

		status, err := s.Status()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrGetServiceStatus, err)
		}

		var statusText string
		switch status {
		case service.StatusRunning:
			statusText = "Running"
		case service.StatusStopped:
			statusText = "Stopped"
		default:
			statusText = "Unknown"
		}
		cmd.Printf("qzmanager service status: %s\n", statusText)
		return nil
	},
}

// controlService builds a service handle for the control commands, which never run the program
func controlService(cmd *cobra.Command) (service.Service, error) {
	if err := setupServiceCommand(cmd); err != nil {
		return nil, err
	}

	cfg, err := newSVCConfig()
	if err != nil {
		return nil, fmt.Errorf("create service config: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	s, err := newSVC(newProgram(ctx, cancel, nil), cfg)
	if err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}
