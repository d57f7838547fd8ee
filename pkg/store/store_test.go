package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/stall/pkg/types"
)

func TestOpenBackends(t *testing.T) {
	tests := []struct {
		name    string
		backend string
	}{
		{"memory", types.BackendMemory},
		{"sqlite", types.BackendSQLite},
		{"bolt", types.BackendBolt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s, err := Open(ctx, types.Config{Backend: tt.backend, DataDir: t.TempDir()})
			require.NoError(t, err)
			defer s.Close()

			ok, err := s.HasCollection(ctx, "apes")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  types.Config
		want error
	}{
		{"empty backend", types.Config{}, types.ErrBackendEmpty},
		{"unknown backend", types.Config{Backend: "mongo"}, types.ErrBackendUnknown},
		{"postgres without dsn", types.Config{Backend: types.BackendPostgres}, types.ErrDSNEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), tt.cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
