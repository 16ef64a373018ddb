package chain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAccountNotFound is returned when an on-chain account does not exist
	// or has been closed.
	ErrAccountNotFound = errors.New("chain: account not found")
	// ErrTransactionNotFound is returned when a signature cannot be located
	// at confirmed commitment.
	ErrTransactionNotFound = errors.New("chain: transaction not found")
)

// TransientError wraps RPC failures that are worth retrying (timeouts,
// temporary node unavailability). Callers use errors.As to distinguish them
// from permanent failures.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "chain: transient rpc error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// LogBatch is one notification from the program log subscription.
type LogBatch struct {
	Signature string
	Slot      uint64
	Logs      []string
	Failed    bool
}

// SignatureInfo is one entry from the historical signature walk,
// returned newest-first.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	BlockTime *time.Time
	Failed    bool
}

// TransactionInfo is a fetched confirmed transaction.
type TransactionInfo struct {
	Signature   string
	Slot        uint64
	BlockTime   *time.Time
	Logs        []string
	AccountKeys []string
	Success     bool
}

// ProgramAccount is one raw account returned by a program-account scan.
type ProgramAccount struct {
	Address string
	Data    []byte
}

// Client is the boundary to the chain. The indexer, scheduler and checkout
// services consume this interface; the only shipped implementation is the
// Solana JSON-RPC adapter in this package.
type Client interface {
	// CurrentSlot returns the current confirmed slot.
	CurrentSlot(ctx context.Context) (uint64, error)

	// SignaturesForProgram walks transaction signatures touching the
	// program address, newest first, up to limit.
	SignaturesForProgram(ctx context.Context, limit int) ([]SignatureInfo, error)

	// Transaction fetches a confirmed transaction by signature.
	Transaction(ctx context.Context, signature string) (*TransactionInfo, error)

	// ProgramAccounts scans all program accounts whose data starts with the
	// given type discriminator.
	ProgramAccounts(ctx context.Context, discriminator [8]byte) ([]ProgramAccount, error)

	// SubscribeLogs streams log batches for the program until ctx is
	// cancelled. The channel is closed when the subscription ends.
	SubscribeLogs(ctx context.Context) (<-chan LogBatch, error)

	// SubscriptionState fetches and decodes a single subscription account.
	SubscriptionState(ctx context.Context, subscriptionPda string) (*SubscriptionState, error)

	// ExecutePayment submits the recurring debit instruction for a
	// subscription and waits for confirmation, returning the signature.
	ExecutePayment(ctx context.Context, subscriptionPda, walletPda, merchantWallet string) (string, error)
}
