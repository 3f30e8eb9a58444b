// Package ledger tracks per-user token balances. It is the only place in
// the system that mutates balances; every debit and credit goes through a
// Ledger implementation so that the never-negative invariant holds under
// concurrent access.
package ledger

import (
	"context"
	"errors"
)

// Sentinel errors returned by Ledger implementations.
var (
	// ErrUserNotFound means the account does not exist in the ledger. The
	// identity layer guarantees existence for authenticated requests, so
	// hitting this signals an inconsistency and is surfaced, never defaulted.
	ErrUserNotFound = errors.New("ledger: user not found")

	// ErrInvalidAmount is returned when a credit or debit amount is not
	// strictly positive.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Ledger holds integer token balances keyed by user ID.
//
// TryDebit must be linearizable per user: when several debits race on the
// same account, the set of debits that succeed never jointly exceeds the
// balance they started from. Operations on different users need no mutual
// ordering.
type Ledger interface {
	// GetBalance returns the current balance. No side effects.
	GetBalance(ctx context.Context, userID int64) (int64, error)

	// TryDebit atomically checks balance >= amount and, if so, subtracts
	// it. It reports whether the debit happened and the balance after the
	// call (unchanged when ok is false).
	TryDebit(ctx context.Context, userID int64, amount int64) (ok bool, balance int64, err error)

	// Credit adds amount to the balance and returns the new balance.
	// Amounts <= 0 fail with ErrInvalidAmount. There is no upper bound.
	Credit(ctx context.Context, userID int64, amount int64) (int64, error)
}
