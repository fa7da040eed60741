package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the CLI configuration
type Config struct {
	DefaultProfile string             `yaml:"default_profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile holds the connection settings for one configuration document
type Profile struct {
	SDKKey         string `yaml:"sdk_key"`
	BaseURL        string `yaml:"base_url,omitempty"`
	DataGovernance string `yaml:"data_governance,omitempty"`
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".flagship", "config.yaml"), nil
}

// LoadConfig loads the configuration from file
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &Config{
				DefaultProfile: "default",
				Profiles:       make(map[string]Profile),
			}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}

	return &cfg, nil
}

// SaveConfig saves the configuration to file
func SaveConfig(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// the file holds SDK keys
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ResolveProfile returns the effective profile and its name.
// Priority: command flags > environment variables > config file
func ResolveProfile(name, sdkKeyFlag, baseURLFlag string) (*Profile, string, error) {
	if sdkKeyFlag != "" {
		return &Profile{SDKKey: sdkKeyFlag, BaseURL: baseURLFlag}, "flags", nil
	}

	if envKey := os.Getenv("FLAGSHIP_SDK_KEY"); envKey != "" {
		baseURL := baseURLFlag
		if baseURL == "" {
			baseURL = os.Getenv("FLAGSHIP_BASE_URL")
		}
		return &Profile{SDKKey: envKey, BaseURL: baseURL}, "env", nil
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, "", err
	}

	if name == "" {
		name = cfg.DefaultProfile
	}

	profile, ok := cfg.Profiles[name]
	if !ok {
		return nil, "", fmt.Errorf("profile '%s' not found in config (run 'flagship config init' or pass --sdk-key)", name)
	}
	if baseURLFlag != "" {
		profile.BaseURL = baseURLFlag
	}
	if profile.SDKKey == "" {
		return nil, "", fmt.Errorf("sdk_key must be configured for profile '%s'", name)
	}

	return &profile, name, nil
}

// InitConfig creates a config file with a single default profile
func InitConfig(sdkKey string) error {
	cfg := &Config{
		DefaultProfile: "default",
		Profiles: map[string]Profile{
			"default": {SDKKey: sdkKey, DataGovernance: "global"},
		},
	}
	return SaveConfig(cfg)
}
