package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "empty backend returns ErrBackendEmpty",
			config:  Config{Backend: "", DataDir: "/tmp/data"},
			wantErr: ErrBackendEmpty,
		},
		{
			name:    "unknown backend returns ErrBackendUnknown",
			config:  Config{Backend: "mongo", DataDir: "/tmp/data"},
			wantErr: ErrBackendUnknown,
		},
		{
			name:    "valid sqlite config",
			config:  Config{Backend: "sqlite", DataDir: "/tmp/data"},
			wantErr: nil,
		},
		{
			name:    "sqlite with empty DataDir is valid at config level",
			config:  Config{Backend: "sqlite", DataDir: ""},
			wantErr: nil,
		},
		{
			name:    "postgres without dsn",
			config:  Config{Backend: "postgres"},
			wantErr: ErrDSNEmpty,
		},
		{
			name:    "postgres with dsn",
			config:  Config{Backend: "postgres", DSN: "postgres://localhost/stall"},
			wantErr: nil,
		},
		{
			name:    "negative ttl",
			config:  Config{Backend: "memory", ListingTTL: -time.Second},
			wantErr: ErrTTLInvalid,
		},
		{
			name: "min delay above max delay",
			config: Config{Backend: "memory", Retry: RetryConfig{
				Attempts: 3, MinDelay: time.Second, MaxDelay: time.Millisecond,
			}},
			wantErr: ErrRetryInvalid,
		},
		{
			name:    "escrow account equals expiry authority",
			config:  Config{Backend: "memory", EscrowAccount: "vault", ExpiryAuthority: "vault"},
			wantErr: ErrAccountConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error %v, got nil", tt.wantErr)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{Backend: BackendMemory}.WithDefaults()
	assert.Equal(t, DefaultEscrowAccount, cfg.EscrowAccount)
	assert.Equal(t, DefaultExpiryAuthority, cfg.ExpiryAuthority)
	assert.Equal(t, DefaultRetryAttempts, cfg.Retry.Attempts)
	assert.Equal(t, DefaultRetryMinDelay, cfg.Retry.MinDelay)
	assert.Equal(t, DefaultRetryMaxDelay, cfg.Retry.MaxDelay)
	assert.NoError(t, cfg.Validate())

	custom := Config{Backend: BackendMemory, EscrowAccount: "vault", Retry: RetryConfig{Attempts: 1}}.WithDefaults()
	assert.Equal(t, "vault", custom.EscrowAccount)
	assert.Equal(t, 1, custom.Retry.Attempts)
}
