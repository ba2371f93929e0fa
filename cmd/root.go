// Package cmd defines the CLI commands for the catalogsync executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/repack-catalog/internal/config"
	"github.com/JakeFAU/repack-catalog/internal/server"
	"github.com/JakeFAU/repack-catalog/internal/syncer"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App is the application surface the commands use.
type App interface {
	Sync(ctx context.Context, strategy string) (syncer.Result, error)
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	appInstance, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return appInstance, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "catalogsync",
		Short: "Keeps the repack release catalog in sync with the source site.",
		Long: `catalogsync scrapes the source site's A-Z index and release feed,
extracts every release it has not stored yet and serves the catalog over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CATALOG_* env vars override it")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSyncCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp runs fn against the application and always closes it afterwards,
// including when fn fails; cobra skips post-run hooks on error.
func withApp(fn func(cmd *cobra.Command, appInstance App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) (err error) {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if cerr := appInstance.Close(context.Background()); cerr != nil {
				err = errors.Join(err, fmt.Errorf("close application: %w", cerr))
			}
		}()
		return fn(cmd, appInstance)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
