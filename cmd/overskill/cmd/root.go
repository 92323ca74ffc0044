package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/todddickerson/overskill-sub011/internal/app"
	"github.com/todddickerson/overskill-sub011/internal/config"
	"github.com/todddickerson/overskill-sub011/internal/logging"
)

// Global flags.
var (
	configPath string
	envName    string
)

var rootCmd = &cobra.Command{
	Use:   "overskill",
	Short: "Build and deploy generated web apps to the edge",
	Long: `overskill builds an app's source files with automatic error recovery,
packages the output into an edge worker plus offloaded assets, and deploys
it to the hosting provider.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (overrides OVERSKILL_CONFIG)")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Server.Env)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

// withComponents builds the component graph for one-shot commands and
// releases it afterwards.
func withComponents(ctx context.Context, fn func(*app.Components) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	comps, err := app.NewComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer comps.Close()
	return fn(comps)
}
