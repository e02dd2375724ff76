package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/trungdo2789/mpl-candy/internal/sealer"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := OpenSQLite(context.Background(), path, testPassphrase)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	defer l.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if l.Driver() != DriverSQLite {
		t.Errorf("Driver() = %q, want %q", l.Driver(), DriverSQLite)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l, err := OpenSQLite(ctx, path, testPassphrase)
		if err != nil {
			t.Fatalf("OpenSQLite() iteration %d failed: %v", i, err)
		}
		l.Close()
	}

	l, err := OpenSQLite(ctx, path, testPassphrase)
	if err != nil {
		t.Fatalf("final OpenSQLite() failed: %v", err)
	}
	defer l.Close()

	for _, table := range []string{"ledger_meta", "mint_records", "run_lock"} {
		var name string
		err := l.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_Pragmas(t *testing.T) {
	l := createTestLedger(t)

	tests := []struct{ name, want string }{
		{"journal_mode", "wal"},
		{"synchronous", "2"}, // FULL
		{"busy_timeout", "5000"},
	}
	for _, tt := range tests {
		if err := l.verifyPragma(tt.name, tt.want); err != nil {
			t.Error(err)
		}
	}
}

func TestOpen_SchemaVersion(t *testing.T) {
	l := createTestLedger(t)

	var version int
	if err := l.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("query user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}

	var idx string
	err := l.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_mint_records_incomplete'",
	).Scan(&idx)
	if err != nil {
		t.Errorf("incomplete index missing: %v", err)
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := OpenSQLite(ctx, path, testPassphrase)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	if _, err := l.db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	l.Close()

	if _, err := OpenSQLite(ctx, path, testPassphrase); err == nil {
		t.Fatal("OpenSQLite() on a newer schema should fail")
	}
}

func TestOpen_WrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := OpenSQLite(ctx, path, testPassphrase)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	l.Close()

	_, err = OpenSQLite(ctx, path, "not the passphrase")
	if !errors.Is(err, ErrBadPassphrase) {
		t.Fatalf("OpenSQLite() error = %v, want ErrBadPassphrase", err)
	}
}

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()

	if _, err := Open(ctx, Options{DSN: "x.db"}); !errors.Is(err, sealer.ErrEmptyPassphrase) {
		t.Errorf("empty passphrase: error = %v, want ErrEmptyPassphrase", err)
	}
	if _, err := Open(ctx, Options{Passphrase: "p"}); err == nil {
		t.Error("empty dsn: expected error")
	}
	if _, err := Open(ctx, Options{Driver: "mysql", DSN: "x", Passphrase: "p"}); err == nil {
		t.Error("unknown driver: expected error")
	}
}

func TestOpen_SecretsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := OpenSQLite(ctx, path, testPassphrase)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	mustCreate(t, l, "asset-1", "alice", 1)
	l.Close()

	l, err = OpenSQLite(ctx, path, testPassphrase)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer l.Close()

	rec, err := l.Get(ctx, "asset-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(rec.Secret) != "secret-asset-1" {
		t.Errorf("Secret = %q, want %q", rec.Secret, "secret-asset-1")
	}

	var stored []byte
	if err := l.db.QueryRow("SELECT sealed_secret FROM mint_records WHERE asset_id = 'asset-1'").Scan(&stored); err != nil {
		t.Fatalf("query sealed_secret: %v", err)
	}
	if string(stored) == "secret-asset-1" {
		t.Error("secret stored in plaintext")
	}
}
