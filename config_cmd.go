package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"goFileCacheX/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, the config file and
FILECACHEX_ environment variables, for example FILECACHEX_CACHE_CAPACITY=10.

With --write the configuration is saved to ./` + config.Name + `.yaml instead.
An existing file is never overwritten.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}

		write, _ := cmd.Flags().GetBool("write")
		if !write {
			if used := settings.ConfigFileUsed(); used != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", used)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}

		path := config.Name + ".yaml"
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("unable to stat config file: %w", err)
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Wrote config file to:", path)
		return nil
	},
}

func init() {
	configCmd.Flags().Bool("write", false, "save the configuration to ./"+config.Name+".yaml")
}
