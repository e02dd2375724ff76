package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

const testPassphrase = "correct horse battery staple"

// createTestLedger opens a fresh sqlite ledger in a temp dir with a fixed clock.
func createTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), testPassphrase)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	l.SetClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) })
	t.Cleanup(func() { l.Close() })
	return l
}

// createTestPending builds a pending record with a recognisable secret.
func createTestPending(assetID, recipient string, ordinal int) PendingRecord {
	return PendingRecord{
		AssetID:   assetID,
		Recipient: recipient,
		Ordinal:   ordinal,
		Channel:   "pre",
		Secret:    []byte(fmt.Sprintf("secret-%s", assetID)),
	}
}

// mustCreate inserts a pending row and fails the test on error.
func mustCreate(t *testing.T, l *Ledger, assetID, recipient string, ordinal int) {
	t.Helper()
	if _, err := l.CreatePending(context.Background(), createTestPending(assetID, recipient, ordinal)); err != nil {
		t.Fatalf("CreatePending(%s) failed: %v", assetID, err)
	}
}
