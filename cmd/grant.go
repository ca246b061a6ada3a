package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/channel-appraiser/internal/entitlement"
)

func newGrantCmd() *cobra.Command {
	var (
		userID int64
		days   int
	)
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Extends a user's subscription",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 {
				return errors.New("--user must be a Telegram user id")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			exp, err := appInstance.Gate().AdminGrant(cmd.Context(), entitlement.System, userID, days)
			if err != nil {
				return fmt.Errorf("grant: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d premium until %s\n", userID, exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "Telegram user id")
	cmd.Flags().IntVar(&days, "days", 30, "days to add")
	return cmd
}
