// Package types defines the Listing entity, the Escrow Store and ledger
// adapter interfaces, and the standard error types for the Stall escrow
// ledger.
package types
