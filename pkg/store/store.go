// Package store provides the public factory for Escrow Store backends.
// Callers choose a backend by name in types.Config while implementation
// details stay internal.
//
// Example:
//
//	s, err := store.Open(ctx, types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".stall-db",
//	})
//	defer s.Close()
package store

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/stall/internal/bolt"
	"github.com/mesh-intelligence/stall/internal/memory"
	"github.com/mesh-intelligence/stall/internal/postgres"
	"github.com/mesh-intelligence/stall/internal/sqlite"
	"github.com/mesh-intelligence/stall/pkg/types"
)

// Open validates cfg and returns the selected backend, ready for use.
func Open(ctx context.Context, cfg types.Config) (types.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case types.BackendMemory:
		return memory.New(), nil
	case types.BackendSQLite:
		b := sqlite.NewBackend()
		if err := b.Attach(cfg); err != nil {
			return nil, err
		}
		return b, nil
	case types.BackendBolt:
		return bolt.Open(cfg.DataDir, nil)
	case types.BackendPostgres:
		return postgres.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrBackendUnknown, cfg.Backend)
	}
}
