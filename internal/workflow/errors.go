package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/trungdo2789/mpl-candy/internal/ledger"
)

// ErrorKind classifies collaborator failures.
type ErrorKind string

const (
	// KindTransient failures may succeed if retried later (network, rate
	// limits, expired blockhash).
	KindTransient ErrorKind = "transient"

	// KindRejected failures were refused by the chain or program and need
	// an operator (insufficient funds, guard violation).
	KindRejected ErrorKind = "rejected"
)

// Collaborator operations.
const (
	OpMint    = "mint"
	OpLookup  = "lookup"
	OpDeliver = "deliver"
)

// CollaboratorError is a classified failure from a MintRequester or
// DeliveryExecutor.
type CollaboratorError struct {
	Kind      ErrorKind
	Op        string
	AssetID   string
	Recipient string
	Err       error
}

// Error implements the error interface.
func (e *CollaboratorError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Kind, e.Op)
	if e.AssetID != "" {
		msg += fmt.Sprintf(" (asset=%s", e.AssetID)
		if e.Recipient != "" {
			msg += fmt.Sprintf(", recipient=%s", e.Recipient)
		}
		msg += ")"
	} else if e.Recipient != "" {
		msg += fmt.Sprintf(" (recipient=%s)", e.Recipient)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable.
func Transient(op string, err error) error {
	return &CollaboratorError{Kind: KindTransient, Op: op, Err: err}
}

// Rejected marks err as refused by the chain.
func Rejected(op string, err error) error {
	return &CollaboratorError{Kind: KindRejected, Op: op, Err: err}
}

// IsRejected reports whether err is a rejected collaborator failure.
// Uses errors.As to handle wrapped errors.
func IsRejected(err error) bool {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce.Kind == KindRejected
	}
	return false
}

// IsTransient reports whether err should abort the pass and be retried.
// Errors nobody classified count as transient.
func IsTransient(err error) bool {
	if err == nil || IsFatal(err) || IsRejected(err) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether err is a ledger invariant violation, a broken
// ledger key or a lost run lease. None of them goes away by retrying.
func IsFatal(err error) bool {
	return ledger.IsInvariantViolation(err) || errors.Is(err, ledger.ErrBadPassphrase) || errors.Is(err, ErrLeaseLost)
}

// annotate fills the asset and recipient on a classified error, or wraps an
// unclassified one as transient.
func annotate(op, assetID, recipient string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		if ce.Op == "" {
			ce.Op = op
		}
		if ce.AssetID == "" {
			ce.AssetID = assetID
		}
		if ce.Recipient == "" {
			ce.Recipient = recipient
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &CollaboratorError{Kind: KindTransient, Op: op, AssetID: assetID, Recipient: recipient, Err: err}
}
