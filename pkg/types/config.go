package types

import (
	"errors"
	"time"
)

// Config holds backend selection and engine parameters.
type Config struct {
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	DSN     string `json:"dsn,omitempty" yaml:"dsn,omitempty" mapstructure:"dsn"`

	// EscrowAccount is the account that holds custody of listed assets.
	EscrowAccount string `json:"escrow_account" yaml:"escrow_account" mapstructure:"escrow_account"`

	// ExpiryAuthority is the actor allowed to cancel expired listings.
	ExpiryAuthority string `json:"expiry_authority" yaml:"expiry_authority" mapstructure:"expiry_authority"`

	// ListingTTL sets ExpiresAt on new listings. Zero disables expiry.
	ListingTTL time.Duration `json:"listing_ttl" yaml:"listing_ttl" mapstructure:"listing_ttl"`

	// DisableWhitelist skips collection checks even when the asset ledger
	// can resolve collections.
	DisableWhitelist bool `json:"disable_whitelist" yaml:"disable_whitelist" mapstructure:"disable_whitelist"`

	Retry RetryConfig `json:"retry" yaml:"retry" mapstructure:"retry"`
	Log   LogConfig   `json:"log" yaml:"log" mapstructure:"log"`
}

// RetryConfig bounds the retries of compensating custody transfers.
type RetryConfig struct {
	Attempts int           `json:"attempts" yaml:"attempts" mapstructure:"attempts"`
	MinDelay time.Duration `json:"min_delay" yaml:"min_delay" mapstructure:"min_delay"`
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay" mapstructure:"max_delay"`
}

// LogConfig selects log level, format (text or json), and an optional
// rotating log file.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
	File   string `json:"file,omitempty" yaml:"file,omitempty" mapstructure:"file"`
}

// Supported backend names.
const (
	BackendSQLite   = "sqlite"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Defaults applied by WithDefaults.
const (
	DefaultEscrowAccount   = "escrow"
	DefaultExpiryAuthority = "expiry"
	DefaultRetryAttempts   = 5
	DefaultRetryMinDelay   = 50 * time.Millisecond
	DefaultRetryMaxDelay   = 2 * time.Second
)

// Config validation errors.
var (
	ErrBackendEmpty    = errors.New("backend must not be empty")
	ErrBackendUnknown  = errors.New("unknown backend")
	ErrDSNEmpty        = errors.New("postgres backend requires a dsn")
	ErrRetryInvalid    = errors.New("retry attempts must be positive and delays ordered")
	ErrTTLInvalid      = errors.New("listing ttl must not be negative")
	ErrAccountConflict = errors.New("escrow account and expiry authority must differ")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite:   true,
	BackendBolt:     true,
	BackendPostgres: true,
	BackendMemory:   true,
}

// WithDefaults returns a copy of c with empty engine fields filled in.
func (c Config) WithDefaults() Config {
	if c.EscrowAccount == "" {
		c.EscrowAccount = DefaultEscrowAccount
	}
	if c.ExpiryAuthority == "" {
		c.ExpiryAuthority = DefaultExpiryAuthority
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = DefaultRetryAttempts
	}
	if c.Retry.MinDelay == 0 {
		c.Retry.MinDelay = DefaultRetryMinDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = DefaultRetryMaxDelay
	}
	return c
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.Backend == BackendPostgres && c.DSN == "" {
		return ErrDSNEmpty
	}
	if c.ListingTTL < 0 {
		return ErrTTLInvalid
	}
	if c.Retry.Attempts < 0 || c.Retry.MinDelay < 0 || c.Retry.MaxDelay < 0 {
		return ErrRetryInvalid
	}
	if c.Retry.MaxDelay > 0 && c.Retry.MinDelay > c.Retry.MaxDelay {
		return ErrRetryInvalid
	}
	if c.EscrowAccount != "" && c.EscrowAccount == c.ExpiryAuthority {
		return ErrAccountConflict
	}
	return nil
}
