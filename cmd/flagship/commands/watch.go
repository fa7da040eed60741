package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	flagship "github.com/TimurManjosov/flagship-go"
	"github.com/TimurManjosov/flagship-go/internal/cli"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [key...]",
	Short: "Re-evaluate flags whenever the config changes",
	Long: `Poll the configuration and print the evaluated flags each time a new
version is downloaded. Without keys every setting is shown. Stop with Ctrl+C.

Examples:
  flagship watch
  flagship watch new_checkout --user-id 42 --interval 15s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := buildUser()
		if err != nil {
			return err
		}

		c, err := newClient(flagship.AutoPoll, watchInterval)
		if err != nil {
			return err
		}
		defer c.Close()

		changes, unsubscribe := c.Subscribe()
		defer unsubscribe()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		render := func(snap *flagship.Snapshot) error {
			fmt.Fprintf(out, "config %s fetched at %s\n", snap.ETag, snap.FetchTime.Format(time.RFC3339))

			var rows []cli.Row
			if len(args) == 0 {
				for _, d := range c.GetAllValueDetails(ctx, user) {
					rows = append(rows, cli.RowFromDetails(d))
				}
			} else {
				for _, key := range args {
					rows = append(rows, cli.RowFromDetails(c.GetValueDetails(ctx, key, nil, user)))
				}
			}
			return cli.PrintRows(out, rows, cli.OutputFormat(format))
		}

		// The first download may finish before the subscription.
		last := c.Snapshot(ctx)
		if !last.IsEmpty() {
			if err := render(last); err != nil {
				return err
			}
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case snap := <-changes:
				if snap == last {
					continue
				}
				last = snap
				if err := render(snap); err != nil {
					return err
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addUserFlags(watchCmd)

	watchCmd.Flags().DurationVar(&watchInterval, "interval", 60*time.Second, "Poll interval")
}
