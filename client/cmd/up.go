package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/netbirdio/qzmanager/client/internal/helper/downloader"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "install when missing, start and connect to the helper service",
	Long: `Runs the helper initialization in the foreground: probes the helper, installs it when absent,
launches it and waits until it accepts connections. Download progress is printed while the installer is fetched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initCommand(cmd); err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		SetupCloseHandler(ctx, cancel)

		target, err := resolveTarget(ctx, cfg, newReleaseChecker())
		if err != nil {
			return err
		}

		mgr := newManager(target, cfg, nil)
		if err := mgr.Initialize(ctx, progressPrinter(cmd.OutOrStdout())); err != nil {
			return fmt.Errorf("helper is not available: %w", err)
		}

		cmd.Printf("QZ Tray %s is running and accepting connections\n", target.Version)
		return nil
	},
}

// progressPrinter redraws a single progress line and ends it once the download completes
func progressPrinter(w io.Writer) downloader.ProgressFunc {
	last := -1
	return func(p downloader.Progress) {
		if p.Percent == last {
			return
		}
		last = p.Percent
		_, _ = fmt.Fprintf(w, "\rDownloading QZ Tray: %3d%% (%s/%s MB)", p.Percent, p.DownloadedMB(), p.TotalMB())
		if p.Percent >= 100 {
			_, _ = fmt.Fprintln(w)
		}
	}
}
