package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

// a restart covers a full initialization, including a download
const restartTimeout = 10 * time.Minute

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "restarts the QZ Tray helper through the qzmanager service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initCommand(cmd); err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd, restartTimeout)
		defer cancel()
		SetupCloseHandler(ctx, cancel)

		resp, err := newAPIClient(apiAddr).restart(ctx)
		if err != nil {
			return err
		}

		cmd.Print(parseStatus(resp))
		return nil
	},
}
