package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stall/internal/ledger"
	"github.com/mesh-intelligence/stall/pkg/store"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize stall storage",
		Long:  "Create configuration and data directories, then initialize the storage backend and ledger.",
		Args:  exactArgs(0),
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, _ []string) error {
	configDir, cfg, err := resolveDirs()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	lock, err := lockDataDir(cmd.Context(), cfg.DataDir)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	st, err := store.Open(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	if err := st.Close(); err != nil {
		return fmt.Errorf("finalize storage: %w", err)
	}

	// Loading then saving keeps an existing snapshot and creates a missing one.
	path := ledgerPath(cfg.DataDir)
	l, err := ledger.Load(path)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if err := l.Save(path); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}

	out := map[string]string{
		"config_dir": configDir,
		"data_dir":   cfg.DataDir,
		"backend":    cfg.Backend,
	}
	return render(cmd.OutOrStdout(), out, func(w io.Writer) {
		fmt.Fprintf(w, "Stall initialized (%s backend)\nconfig: %s\ndata:   %s\n", cfg.Backend, configDir, cfg.DataDir)
	})
}
