package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/stall/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
)

// configFile is the layout written to config.yaml on first run. Durations
// are written as strings so the file stays readable.
type configFile struct {
	Backend          string          `yaml:"backend"`
	DataDir          string          `yaml:"data_dir,omitempty"`
	DSN              string          `yaml:"dsn,omitempty"`
	EscrowAccount    string          `yaml:"escrow_account"`
	ExpiryAuthority  string          `yaml:"expiry_authority"`
	ListingTTL       string          `yaml:"listing_ttl"`
	DisableWhitelist bool            `yaml:"disable_whitelist"`
	Retry            retryFile       `yaml:"retry"`
	Log              types.LogConfig `yaml:"log"`
}

type retryFile struct {
	Attempts int    `yaml:"attempts"`
	MinDelay string `yaml:"min_delay"`
	MaxDelay string `yaml:"max_delay"`
}

// defaultConfig is the configuration used when config.yaml leaves a key
// unset.
func defaultConfig() types.Config {
	cfg := types.Config{
		Backend: types.BackendSQLite,
		Log:     types.LogConfig{Level: "info", Format: "text"},
	}
	return cfg.WithDefaults()
}

func defaultConfigFile() configFile {
	cfg := defaultConfig()
	return configFile{
		Backend:         cfg.Backend,
		EscrowAccount:   cfg.EscrowAccount,
		ExpiryAuthority: cfg.ExpiryAuthority,
		ListingTTL:      cfg.ListingTTL.String(),
		Retry: retryFile{
			Attempts: cfg.Retry.Attempts,
			MinDelay: cfg.Retry.MinDelay.String(),
			MaxDelay: cfg.Retry.MaxDelay.String(),
		},
		Log: cfg.Log,
	}
}

// ensureDefaultConfigFile creates config.yaml in configDir if it does not
// exist yet.
func ensureDefaultConfigFile(configDir string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	path := filepath.Join(configDir, configFileExt)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}

	data, err := yaml.Marshal(defaultConfigFile())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append([]byte("# stall configuration\n"), data...)
	return os.WriteFile(path, data, 0o644)
}

// loadConfig reads config.yaml from configDir with Viper, writing the
// default file on first run. Keys missing from the file take their
// default values.
func loadConfig(configDir string) (types.Config, error) {
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return types.Config{}, err
	}

	def := defaultConfig()
	v := viper.New()
	v.SetDefault("backend", def.Backend)
	v.SetDefault("escrow_account", def.EscrowAccount)
	v.SetDefault("expiry_authority", def.ExpiryAuthority)
	v.SetDefault("listing_ttl", time.Duration(0))
	v.SetDefault("disable_whitelist", false)
	v.SetDefault("retry.attempts", def.Retry.Attempts)
	v.SetDefault("retry.min_delay", def.Retry.MinDelay)
	v.SetDefault("retry.max_delay", def.Retry.MaxDelay)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return types.Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
