package solana

import (
	"context"
	"errors"
	"strings"

	"github.com/trungdo2789/mpl-candy/internal/workflow"
)

// Substrings of RPC / program errors that retrying will not fix.
var rejectedMarkers = []string{
	"insufficient funds",
	"insufficient lamports",
	"custom program error",
	"invalid account data",
	"owner does not match",
	"account already in use",
	"signer mismatch",
	"missing required signature",
	"invalid public key",
	"base58",
}

// Substrings that mean the account simply does not exist.
var notFoundMarkers = []string{
	"not found",
	"could not find account",
	"account does not exist",
}

// classify wraps an RPC error as rejected or transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isRejectedMessage(err.Error()) {
		return workflow.Rejected(op, err)
	}
	return workflow.Transient(op, err)
}

func isRejectedMessage(msg string) bool {
	return containsAny(strings.ToLower(msg), rejectedMarkers)
}

func isNotFound(err error) bool {
	return err != nil && containsAny(strings.ToLower(err.Error()), notFoundMarkers)
}

// isAlreadyInUse matches the system program error for creating an account
// that exists.
func isAlreadyInUse(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already in use")
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
