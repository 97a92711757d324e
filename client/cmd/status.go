package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/netbirdio/qzmanager/client/server"
)

var (
	jsonFlag bool
	yamlFlag bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "status of the QZ Tray helper service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initCommand(cmd); err != nil {
			return err
		}

		if jsonFlag && yamlFlag {
			return fmt.Errorf("only one of --json and --yaml can be set")
		}

		ctx, cancel := commandContext(cmd, apiTimeout)
		defer cancel()

		resp, err := newAPIClient(apiAddr).status(ctx)
		if err != nil {
			return err
		}

		out, err := formatStatus(resp)
		if err != nil {
			return err
		}
		cmd.Print(out)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&jsonFlag, "json", false, "display status in JSON format")
	statusCmd.Flags().BoolVar(&yamlFlag, "yaml", false, "display status in YAML format")
}

func formatStatus(resp *server.StatusResponse) (string, error) {
	switch {
	case jsonFlag:
		bs, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal status: %w", err)
		}
		return string(bs) + "\n", nil
	case yamlFlag:
		bs, err := yaml.Marshal(resp)
		if err != nil {
			return "", fmt.Errorf("marshal status: %w", err)
		}
		return string(bs), nil
	default:
		return parseStatus(resp), nil
	}
}

func parseStatus(resp *server.StatusResponse) string {
	var b strings.Builder

	connected := "Disconnected"
	if resp.Connected {
		connected = "Connected"
	}

	fmt.Fprintf(&b, "QZ Tray version: %s\n", resp.Version)
	fmt.Fprintf(&b, "Phase: %s\n", resp.Phase)
	fmt.Fprintf(&b, "Connection: %s\n", connected)
	if resp.LastCheckedAt != nil {
		fmt.Fprintf(&b, "Last checked: %s\n", resp.LastCheckedAt.Format(time.RFC3339))
	}

	process := "not tracked"
	if resp.ProcessRunning {
		process = fmt.Sprintf("running (pid %d)", resp.PID)
	}
	fmt.Fprintf(&b, "Process: %s\n", process)
	fmt.Fprintf(&b, "Install attempt: %s\n", resp.InstallAttempt)

	if resp.Download != nil {
		fmt.Fprintf(&b, "Download: %d%% (%s/%s MB)\n", resp.Download.Percent, resp.Download.DownloadedMB(), resp.Download.TotalMB())
	}

	fmt.Fprintf(&b, "Cache: %s (%d files, %s MB)\n", resp.Cache.Directory, len(resp.Cache.Files), resp.Cache.TotalSizeMB)
	for _, f := range resp.Cache.Files {
		fmt.Fprintf(&b, "  %s  %s MB  %s\n", f.Name, f.SizeMB, f.Modified.Format(time.RFC3339))
	}
	return b.String()
}
