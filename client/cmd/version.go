package cmd

import (
	"github.com/spf13/cobra"

	"github.com/netbirdio/qzmanager/version"
)

var checkFlag bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "prints qzmanager version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SetOut(cmd.OutOrStdout())
		cmd.Println(version.ManagerVersion())
		if !checkFlag {
			return nil
		}

		if err := initCommand(cmd); err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd, apiTimeout)
		defer cancel()

		checker := newReleaseChecker()
		target, err := resolveTarget(ctx, cfg, checker)
		if err != nil {
			return err
		}

		latest := checker.Latest(ctx, target.Version)
		cmd.Printf("QZ Tray configured: %s\n", target.Version)
		cmd.Printf("QZ Tray latest: %s\n", latest)
		if version.UpdateAvailable(target.Version, latest) {
			cmd.Printf("A newer QZ Tray release is available, set --%s=%s or %q to use it\n", helperVersionFlag, latest, "latest")
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&checkFlag, "check", false, "compare the configured helper version with the latest release")
}
