package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagship-go/internal/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage flagship CLI configuration file.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long: `Create a configuration file with a default profile at ~/.flagship/config.yaml

Example:
  flagship config init --sdk-key my-sdk-key`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.InitConfig(sdkKey); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		configPath, _ := cli.GetConfigPath()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
		if sdkKey == "" {
			fmt.Fprintln(out, "\nSet the SDK key of the default profile with:")
			fmt.Fprintln(out, "  flagship config set default.sdk_key <key>")
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration",
	Long: `Display the current configuration.

Example:
  flagship config list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Default Profile: %s\n\n", cfg.DefaultProfile)
		fmt.Fprintln(out, "Profiles:")

		names := make([]string, 0, len(cfg.Profiles))
		for name := range cfg.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := cfg.Profiles[name]
			fmt.Fprintf(out, "  %s:\n", name)
			// Mask SDK key for security
			fmt.Fprintf(out, "    sdk_key: %s\n", maskKey(p.SDKKey))
			if p.BaseURL != "" {
				fmt.Fprintf(out, "    base_url: %s\n", p.BaseURL)
			}
			if p.DataGovernance != "" {
				fmt.Fprintf(out, "    data_governance: %s\n", p.DataGovernance)
			}
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <profile.key> <value>",
	Short: "Set a configuration value",
	Long: `Set a specific configuration value.

Examples:
  flagship config set default.sdk_key my-sdk-key
  flagship config set eu.data_governance eu`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		name, key, ok := strings.Cut(args[0], ".")
		if !ok || name == "" {
			return fmt.Errorf("invalid key format, expected 'profile.key' (e.g., 'default.sdk_key')")
		}
		value := args[1]

		// Create profile if it doesn't exist
		if cfg.Profiles == nil {
			cfg.Profiles = make(map[string]cli.Profile)
		}
		p := cfg.Profiles[name]

		switch key {
		case "sdk_key":
			p.SDKKey = value
		case "base_url":
			p.BaseURL = value
		case "data_governance":
			if value != "global" && value != "eu" {
				return fmt.Errorf("data_governance must be 'global' or 'eu'")
			}
			p.DataGovernance = value
		default:
			return fmt.Errorf("unknown key '%s', valid keys: sdk_key, base_url, data_governance", key)
		}
		cfg.Profiles[name] = p

		if err := cli.SaveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Successfully set %s.%s\n", name, key)
		return nil
	},
}

func maskKey(key string) string {
	if len(key) > 4 {
		return key[:4] + "***"
	}
	return "***"
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configSetCmd)
}
