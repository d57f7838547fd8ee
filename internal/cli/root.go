// Package cli implements the stall command-line interface.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stall/internal/ledger"
	"github.com/mesh-intelligence/stall/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
	user      bool
}

var flags rootFlags

// NewRootCmd creates the top-level "stall" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stall",
		Short: "An escrow marketplace for fixed-price asset listings",
		Long: "Stall lists asset units at a fixed price, holds them in escrow custody,\n" +
			"and settles purchases atomically against a local ledger.",
		// Do not print usage on errors returned by subcommands.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: .stall)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory (default: .stall-db)")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVar(&flags.user, "user", false, "use per-user platform directories instead of CWD-relative ones")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newMarketCmd(),
		newLedgerCmd(),
		newListCmd(),
		newDelistCmd(),
		newBuyCmd(),
		newShowCmd(),
		newListingsCmd(),
		newReconcileCmd(),
		newSweepCmd(),
		newMetricsCmd(),
		newExportCmd(),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "stall:", err)
		os.Exit(exitCode(err))
	}
}

// usageError marks malformed invocations.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// exactArgs is cobra.ExactArgs with the error marked as a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// userErrors are failures the caller can fix by changing the request.
var userErrors = []error{
	types.ErrInvalidPrice,
	types.ErrPriceMismatch,
	types.ErrUnauthorized,
	types.ErrDuplicateListing,
	types.ErrAssetListed,
	types.ErrInvalidArgument,
	types.ErrInvalidName,
	types.ErrInvalidFee,
	types.ErrInvalidCollection,
	types.ErrCollectionNotSet,
	types.ErrInvalidState,
	types.ErrAlreadySold,
	types.ErrAlreadyInitialized,
	types.ErrNotFound,
	types.ErrBackendEmpty,
	types.ErrBackendUnknown,
	types.ErrDSNEmpty,
	types.ErrRetryInvalid,
	types.ErrTTLInvalid,
	types.ErrAccountConflict,
	ledger.ErrUnknownAsset,
	ledger.ErrAssetExists,
	ledger.ErrNotOwner,
	ledger.ErrInsufficientFunds,
}

// exitCode maps err to the process exit code. Incomplete settlements and
// store or ledger outages are system errors even when a user error is
// also in the chain.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ue usageError
	if errors.As(err, &ue) {
		return exitUserError
	}
	// A lost listing race leaves custody with the winner.
	if errors.Is(err, types.ErrAssetListed) {
		return exitUserError
	}
	for _, sys := range []error{types.ErrSettlementIncomplete, types.ErrReleaseIncomplete, types.ErrCreateFailed, types.ErrStoreClosed} {
		if errors.Is(err, sys) {
			return exitSysError
		}
	}
	for _, u := range userErrors {
		if errors.Is(err, u) {
			return exitUserError
		}
	}
	return exitSysError
}
