package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stall/internal/ledger"
	"github.com/mesh-intelligence/stall/internal/logging"
	"github.com/mesh-intelligence/stall/internal/metrics"
	"github.com/mesh-intelligence/stall/internal/paths"
	"github.com/mesh-intelligence/stall/pkg/market"
	"github.com/mesh-intelligence/stall/pkg/store"
	"github.com/mesh-intelligence/stall/pkg/types"
)

// ledgerFile is the ledger snapshot kept in the data directory.
const ledgerFile = "ledger.jsonl"

// app is the state shared by commands that touch the market: the resolved
// configuration, the open store, the local ledger, and the market built
// over them.
type app struct {
	cfg     types.Config
	dataDir string
	log     *logrus.Logger
	metrics *metrics.Collector
	store   types.Store
	ledger  *ledger.Ledger
	market  *market.Market
	out     io.Writer
	lock    *flock.Flock
}

// resolveDirs returns the config and data directories and the loaded
// configuration, with DataDir set to the resolved data directory.
func resolveDirs() (string, types.Config, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir, flags.user)
	if err != nil {
		return "", types.Config{}, fmt.Errorf("resolve config dir: %w", err)
	}
	cfg, err := loadConfig(configDir)
	if err != nil {
		return "", types.Config{}, err
	}
	dataDir, err := paths.ResolveDataDir(flags.dataDir, cfg.DataDir, flags.user)
	if err != nil {
		return "", types.Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.DataDir = dataDir
	return configDir, cfg, nil
}

// openApp loads configuration, locks the data directory, opens the store
// and the ledger snapshot, and builds the market. The caller must call
// close.
func openApp(cmd *cobra.Command) (*app, error) {
	_, cfg, err := resolveDirs()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	lock, err := lockDataDir(cmd.Context(), cfg.DataDir)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cmd.Context(), cfg)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{
		cfg:     cfg,
		dataDir: cfg.DataDir,
		log:     log,
		metrics: metrics.NewCollector(),
		store:   st,
		out:     cmd.OutOrStdout(),
		lock:    lock,
	}

	a.ledger, err = ledger.Load(a.ledgerPath())
	if err != nil {
		st.Close()
		lock.Unlock()
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	a.market, err = market.New(st, a.ledger, a.ledger, cfg,
		market.WithLogger(log),
		market.WithMetrics(a.metrics),
	)
	if err != nil {
		st.Close()
		lock.Unlock()
		return nil, err
	}
	return a, nil
}

func (a *app) ledgerPath() string {
	return ledgerPath(a.dataDir)
}

func ledgerPath(dataDir string) string {
	return filepath.Join(dataDir, ledgerFile)
}

// close saves the ledger snapshot, closes the store, and releases the data
// directory. The snapshot is saved even after a failed command since
// custody may already have moved.
func (a *app) close() error {
	var errs []error
	if err := a.ledger.Save(a.ledgerPath()); err != nil {
		errs = append(errs, fmt.Errorf("save ledger: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := a.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("unlock data directory: %w", err))
	}
	return errors.Join(errs...)
}

// withApp opens the app, runs fn, and closes the app, keeping the first
// error.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	err = fn(a)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

// render writes v as indented JSON in --json mode, otherwise calls human.
func render(w io.Writer, v any, human func(io.Writer)) error {
	if flags.jsonMode {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}

// parsePrice reads amount and denom arguments as a price.
func parsePrice(amount, denom string) (types.Price, error) {
	p, err := types.ParsePrice(amount, denom)
	if err != nil {
		return types.Price{}, usageError{fmt.Errorf("price %s %s: %w", amount, denom, err)}
	}
	return p, nil
}
