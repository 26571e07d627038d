package cmd

import (
	"github.com/spf13/cobra"

	"github.com/alpacahq/barback/cmd/assets"
	"github.com/alpacahq/barback/cmd/peek"
	"github.com/alpacahq/barback/cmd/start"
	"github.com/alpacahq/barback/cmd/status"
	"github.com/alpacahq/barback/utils"
	"github.com/alpacahq/barback/utils/log"
)

// flagPrintVersion set flag to show current barback version.
var flagPrintVersion bool

// Execute builds the command tree and executes commands.
func Execute() error {
	// c is the root command.
	c := &cobra.Command{
		Use: "barback",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Print version if specified.
			if flagPrintVersion {
				log.Info("version: %v", utils.Tag)
				log.Info("commit hash: %v", utils.GitHash)
				log.Info("utc build time: %v", utils.BuildStamp)
				return nil
			}
			// Print information regarding usage.
			return cmd.Usage()
		},
	}

	// Adds subcommands and version flag.
	c.AddCommand(start.Cmd)
	c.AddCommand(status.Cmd)
	c.AddCommand(assets.Cmd)
	c.AddCommand(peek.Cmd)
	c.Flags().BoolVarP(&flagPrintVersion, "version", "v", false, "show the version info and exit")

	return c.Execute()
}
