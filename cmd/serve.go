package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the sync and listing endpoints over HTTP",
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			return appInstance.Run(cmd.Context())
		}),
	}
}
