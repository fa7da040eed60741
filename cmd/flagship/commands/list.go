package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagship-go/internal/cli"
)

var listErrorsOnly bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Evaluate all feature flags",
	Long: `Evaluate every setting of the configuration for a user.

Examples:
  flagship list
  flagship list --email jane@example.com --user-id 42 --output yaml
  flagship list --errors-only`,
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

		var rows []cli.Row
		for _, d := range c.GetAllValueDetails(ctx, user) {
			if listErrorsOnly && d.Err == nil {
				continue
			}
			rows = append(rows, cli.RowFromDetails(d))
		}

		if len(rows) == 0 && cli.OutputFormat(format) == cli.FormatTable {
			fmt.Fprintln(cmd.OutOrStdout(), "No flags found")
			return nil
		}
		return cli.PrintRows(cmd.OutOrStdout(), rows, cli.OutputFormat(format))
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	addUserFlags(listCmd)

	listCmd.Flags().BoolVar(&listErrorsOnly, "errors-only", false, "Show only failed evaluations")
}
