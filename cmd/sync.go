package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/repack-catalog/internal/syncer"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Runs one sync and prints the added titles",
	}
	cmd.AddCommand(newSyncStrategyCmd("all", "Crawls the whole A-Z index", syncer.StrategyFull))
	cmd.AddCommand(newSyncStrategyCmd("feed", "Walks the release feed down to the newest stored title", syncer.StrategyFeed))
	return cmd
}

func newSyncStrategyCmd(use, short, strategy string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := appInstance.Sync(ctx, strategy)
			if summary := res.Summary(); summary != "" {
				fmt.Fprintln(cmd.OutOrStdout(), summary)
			}
			if err != nil {
				return fmt.Errorf("sync %s: %w", strategy, err)
			}
			appInstance.Logger().Info("sync command finished",
				zap.String("strategy", strategy),
				zap.Int("added", len(res.Added)),
				zap.Int("failed", len(res.Errors)),
			)
			if res.Failed() {
				return fmt.Errorf("sync %s: %d releases failed and none were added", strategy, len(res.Errors))
			}
			return nil
		}),
	}
}
