// Package ledger defines the boundary to the external settlement ledger.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/gurssagar/finalicp-sub006/internal/models"
)

// ErrUnavailable marks transport-level failures. Callers may retry.
var ErrUnavailable = errors.New("ledger: unavailable")

// Gateway is the narrow surface the escrow service needs from a ledger.
// Both calls may block on the network and may observe not-yet-final state.
type Gateway interface {
	BalanceOf(ctx context.Context, account models.Account) (Balance, error)
	Transfer(ctx context.Context, args TransferArgs) (uint64, error)
}

type Balance struct {
	Amount uint64
	// LastBlockIndex is the index of the most recent inbound transfer, when the ledger exposes it.
	LastBlockIndex *uint64
}

type TransferArgs struct {
	FromSubaccount models.Subaccount
	To             models.Account
	Amount         uint64
	// Memo deduplicates retries: a second transfer with the same memo and
	// source is reported as TransferErrorDuplicate instead of executed.
	Memo string
}

type TransferErrorKind int

const (
	TransferErrorGeneric TransferErrorKind = iota
	TransferErrorInsufficientFunds
	TransferErrorDuplicate
	TransferErrorTemporarilyUnavailable
	TransferErrorRejected
)

func (k TransferErrorKind) String() string {
	switch k {
	case TransferErrorInsufficientFunds:
		return "insufficient_funds"
	case TransferErrorDuplicate:
		return "duplicate"
	case TransferErrorTemporarilyUnavailable:
		return "temporarily_unavailable"
	case TransferErrorRejected:
		return "rejected"
	default:
		return "generic"
	}
}

// TransferError is a ledger-reported rejection of a transfer.
type TransferError struct {
	Kind        TransferErrorKind
	Balance     uint64  // set for TransferErrorInsufficientFunds
	DuplicateOf *uint64 // set for TransferErrorDuplicate
	Message     string
}

func (e *TransferError) Error() string {
	switch e.Kind {
	case TransferErrorInsufficientFunds:
		return fmt.Sprintf("ledger: insufficient funds (balance %d)", e.Balance)
	case TransferErrorDuplicate:
		if e.DuplicateOf != nil {
			return fmt.Sprintf("ledger: duplicate of block %d", *e.DuplicateOf)
		}
		return "ledger: duplicate transfer"
	}
	if e.Message != "" {
		return fmt.Sprintf("ledger: transfer %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("ledger: transfer %s", e.Kind)
}

// Unwrap lets errors.Is(err, ErrUnavailable) match temporary ledger rejections.
func (e *TransferError) Unwrap() error {
	if e.Kind == TransferErrorTemporarilyUnavailable {
		return ErrUnavailable
	}
	return nil
}

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
