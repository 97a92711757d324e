package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/netbirdio/qzmanager/client/internal/helper/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "inspect and clean the helper installer cache",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "lists cached helper installers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initCommand(cmd); err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		info := cache.New(cfg.CacheDir).Info()
		switch {
		case jsonFlag:
			bs, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal cache info: %w", err)
			}
			cmd.Println(string(bs))
		case yamlFlag:
			bs, err := yaml.Marshal(info)
			if err != nil {
				return fmt.Errorf("marshal cache info: %w", err)
			}
			cmd.Print(string(bs))
		default:
			cmd.Print(parseCacheInfo(info))
		}
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "removes cached installers of other helper versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initCommand(cmd); err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd, apiTimeout)
		defer cancel()

		target, err := resolveTarget(ctx, cfg, newReleaseChecker())
		if err != nil {
			return err
		}

		removed := cache.New(cfg.CacheDir).Prune(target.Version)
		if len(removed) == 0 {
			cmd.Println("Nothing to remove")
			return nil
		}
		for _, path := range removed {
			cmd.Printf("Removed %s\n", path)
		}
		return nil
	},
}

var cacheOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "opens the cache directory in the file manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initCommand(cmd); err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		dir, err := cache.New(cfg.CacheDir).Dir()
		if err != nil {
			return err
		}

		if err := open.Run(dir); err != nil {
			return fmt.Errorf("open %s: %w", dir, err)
		}
		return nil
	},
}

func init() {
	cacheInfoCmd.Flags().BoolVar(&jsonFlag, "json", false, "display cache info in JSON format")
	cacheInfoCmd.Flags().BoolVar(&yamlFlag, "yaml", false, "display cache info in YAML format")

	cacheCmd.AddCommand(cacheInfoCmd, cachePruneCmd, cacheOpenCmd)
}

func parseCacheInfo(info cache.Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cache directory: %s\n", info.Directory)
	if len(info.Files) == 0 {
		b.WriteString("No cached installers\n")
		return b.String()
	}
	for _, f := range info.Files {
		ver := f.Version
		if ver == "" {
			ver = "-"
		}
		fmt.Fprintf(&b, "  %-40s %8s MB  %s\n", f.Name, f.SizeMB, ver)
	}
	fmt.Fprintf(&b, "Total: %s MB\n", info.TotalSizeMB)
	return b.String()
}
