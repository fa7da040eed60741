package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagship-go/internal/cli"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List setting keys",
	Long: `List the keys of all settings in the configuration, sorted.

Example:
  flagship keys --output json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := loadedClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		return cli.PrintKeys(cmd.OutOrStdout(), c.GetAllKeys(ctx), cli.OutputFormat(format))
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
}
