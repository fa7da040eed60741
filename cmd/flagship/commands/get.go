package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagship-go/internal/cli"
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Evaluate a feature flag",
	Long: `Evaluate one setting for a user and show the value, the matched
variation and the reason.

Examples:
  flagship get new_checkout
  flagship get new_checkout --user-id 42 --attr plan=pro
  flagship get new_checkout --anonymous --output json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := buildUser()
		if err != nil {
			return err
		}

		ctx := context.Background()
		c, err := loadedClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		details := c.GetValueDetails(ctx, args[0], nil, user)
		if err := cli.PrintRow(cmd.OutOrStdout(), cli.RowFromDetails(details), cli.OutputFormat(format)); err != nil {
			return err
		}
		if details.Err != nil {
			return fmt.Errorf("evaluation failed: %w", details.Err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	addUserFlags(getCmd)
}
