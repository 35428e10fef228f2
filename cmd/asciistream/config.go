// ABOUTME: config subcommand printing or writing the default configuration
// ABOUTME: Also holds the shared config loading helper for other subcommands
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asciistream/asciistream-go/internal/appconfig"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the default configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := appconfig.MarshalDefault()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			written, err := appconfig.WriteDefault(path, force)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", written)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// loadConfig reads the file named by the persistent --config flag
func loadConfig(cmd *cobra.Command) (appconfig.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return appconfig.Config{}, err
	}
	return appconfig.Load(path)
}
