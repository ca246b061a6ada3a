// Package cmd defines the CLI commands of the appraiser executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-appraiser/internal/app"
	"github.com/JakeFAU/channel-appraiser/internal/config"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Commands that only touch the store and
// the entitlement gate use it as is; serve wires the rest.
var newApp = app.Build

type rootOptions struct {
	configFile string
	envFile    string
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "appraiser",
		Short: "Telegram bot that appraises channels and prices their ads.",
		Long: `appraiser answers channel handles sent to a Telegram bot with reach,
engagement and a fair advertising price, and manages the free quota,
subscriptions and gift codes behind it.`,
		SilenceUsage: true,

		// Runs before every subcommand: load .env, then config, then build
		// the shared services and stash them in the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(opts.envFile); err != nil {
				return err
			}
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			appInstance, err := newApp(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(ctx, appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, err := resolveApp(cmd.Context()); err == nil {
				if cerr := appInstance.Close(); cerr != nil {
					appInstance.Logger().Warn("close failed", zap.Error(cerr))
				}
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config; missing is fine")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newGiftCmd())
	cmd.AddCommand(newGrantCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

// loadEnvFile exports the variables from path without overriding ones that
// are already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	if ctx == nil {
		return nil, errors.New("application services not initialized")
	}
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
