package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the Telegram bot and the admin HTTP API",
		Long: `Connects to the Bot API, long-polls for updates and serves the admin
API (health, metrics, snapshots, gift codes, grants) until SIGINT or SIGTERM.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := appInstance.Config().ValidateBot(); err != nil {
		return err
	}
	tg, err := appInstance.ConnectTelegram()
	if err != nil {
		return err
	}
	if err := appInstance.WireServing(cmd.Context(), tg); err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	if err := appInstance.Serve(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	appInstance.Logger().Info("serve command finished", zap.String("command", cmd.Name()))
	return nil
}
