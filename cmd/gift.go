package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/channel-appraiser/internal/entitlement"
)

func newGiftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gift",
		Short: "Manages gift codes",
	}
	cmd.AddCommand(newGiftCreateCmd())
	return cmd
}

func newGiftCreateCmd() *cobra.Command {
	var days, count int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mints gift codes, one per line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			codes, err := appInstance.Gate().CreateGiftCodes(cmd.Context(), entitlement.System, days, count)
			if err != nil {
				return fmt.Errorf("create gift codes: %w", err)
			}
			for _, c := range codes {
				fmt.Fprintln(cmd.OutOrStdout(), c.Code)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "premium days granted by each code")
	cmd.Flags().IntVar(&count, "count", 1, "number of codes to create")
	return cmd
}
