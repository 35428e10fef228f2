// ABOUTME: version subcommand
// ABOUTME: Prints the build version and protocol version
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asciistream/asciistream-go/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}
