package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	flagship "github.com/TimurManjosov/flagship-go"
	"github.com/TimurManjosov/flagship-go/internal/cli"
	"github.com/TimurManjosov/flagship-go/internal/logging"
)

var (
	// Global flags
	profile  string
	sdkKey   string
	baseURL  string
	format   string
	logLevel string
	timeout  time.Duration

	// User flags shared by evaluating commands
	userID    string
	email     string
	country   string
	userAttrs map[string]string
	anonymous bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "flagship",
	Short: "CLI tool for evaluating feature flags",
	Long: `Flagship is a command-line tool for evaluating the feature flags of a
configuration document exactly as the SDK does.

Examples:
  flagship config init --sdk-key my-sdk-key
  flagship keys
  flagship get new_checkout --user-id 42 --email jane@example.com
  flagship list --anonymous --output json
  flagship watch --interval 30s`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "Profile from ~/.flagship/config.yaml")
	rootCmd.PersistentFlags().StringVar(&sdkKey, "sdk-key", "", "SDK key (overrides the profile)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Custom CDN base URL")
	rootCmd.PersistentFlags().StringVarP(&format, "output", "o", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level of the SDK")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "HTTP timeout for config downloads")
}

// addUserFlags registers the flags that build the evaluation user.
func addUserFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&userID, "user-id", "", "User identifier")
	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().StringVar(&country, "country", "", "User country")
	cmd.Flags().StringToStringVar(&userAttrs, "attr", nil, "Custom user attribute (key=value), repeatable")
	cmd.Flags().BoolVar(&anonymous, "anonymous", false, "Evaluate for a random user identifier")
}

// buildUser returns nil when no user flag was given.
func buildUser() (*flagship.User, error) {
	id := userID
	if anonymous {
		if id != "" {
			return nil, fmt.Errorf("--anonymous and --user-id are mutually exclusive")
		}
		id = uuid.NewString()
	}
	if id == "" {
		if email != "" || country != "" || len(userAttrs) > 0 {
			return nil, fmt.Errorf("--user-id or --anonymous is required with user attributes")
		}
		return nil, nil
	}

	user := &flagship.User{Identifier: id, Email: email, Country: country}
	if len(userAttrs) > 0 {
		user.Custom = make(map[string]any, len(userAttrs))
		for k, v := range userAttrs {
			user.Custom[k] = v
		}
	}
	return user, nil
}

// newClient resolves the profile and creates a client in the given polling mode.
func newClient(mode flagship.PollingMode, interval time.Duration) (*flagship.Client, error) {
	p, _, err := cli.ResolveProfile(profile, sdkKey, baseURL)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	logger, err := logging.New(logging.Options{Level: logLevel, Format: logging.FormatConsole, Output: os.Stderr})
	if err != nil {
		return nil, err
	}

	opts := flagship.Options{
		PollingMode:  mode,
		PollInterval: interval,
		BaseURL:      p.BaseURL,
		Timeout:      timeout,
		Logger:       &logger,
	}
	if p.DataGovernance == "eu" {
		opts.DataGovernance = flagship.EUOnly
	}
	return flagship.NewClient(p.SDKKey, opts)
}

// loadedClient creates a manual client and downloads the config once.
func loadedClient(ctx context.Context) (*flagship.Client, error) {
	c, err := newClient(flagship.Manual, 0)
	if err != nil {
		return nil, err
	}
	if res := c.ForceRefresh(ctx); !res.Success {
		c.Close()
		return nil, fmt.Errorf("failed to download config: %w", res.Err)
	}
	return c, nil
}
