package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Invariant violations. Any of these reaching the workflow means a logic bug
// or a second writer; callers treat them as fatal.
var (
	// ErrDuplicateAsset is returned by CreatePending when the asset id already exists.
	ErrDuplicateAsset = errors.New("ledger: duplicate asset id")

	// ErrSlotTaken is returned by CreatePending when (recipient, ordinal) already has a row.
	ErrSlotTaken = errors.New("ledger: slot already has an asset")

	// ErrNotFound is returned when no row has the given asset id.
	ErrNotFound = errors.New("ledger: mint record not found")

	// ErrNotMinted is returned by MarkDelivered when the row has no mint proof.
	ErrNotMinted = errors.New("ledger: mint record has no mint proof")
)

// ErrBadPassphrase is returned by Open when the passphrase does not match the
// one the ledger was created with.
var ErrBadPassphrase = errors.New("ledger: passphrase does not match this ledger")

// LockedError is returned by AcquireRunLock when another live run holds the lease.
type LockedError struct {
	Owner string
	Since time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("ledger: locked by run %s since %s", e.Owner, e.Since.UTC().Format(time.RFC3339))
}

// IsLocked reports whether err is a LockedError.
func IsLocked(err error) bool {
	var le *LockedError
	return errors.As(err, &le)
}

// IsInvariantViolation reports whether err is one of the ledger invariant errors.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrDuplicateAsset) ||
		errors.Is(err, ErrSlotTaken) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNotMinted)
}
