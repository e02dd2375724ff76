package ledger

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

func TestRebindDollar(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"WHERE a = ?", "WHERE a = $1"},
		{"VALUES (?, ?, ?)", "VALUES ($1, $2, $3)"},
		{"WHERE seq > ? AND x = ? LIMIT ?", "WHERE seq > $1 AND x = $2 LIMIT $3"},
	}
	for _, tt := range tests {
		if got := rebindDollar(tt.in); got != tt.want {
			t.Errorf("rebindDollar(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDialectFor(t *testing.T) {
	for _, name := range []string{"", "sqlite", "sqlite3", "SQLite"} {
		d, err := dialectFor(name)
		if err != nil {
			t.Fatalf("dialectFor(%q) failed: %v", name, err)
		}
		if d.driverName != "sqlite3" {
			t.Errorf("dialectFor(%q).driverName = %q", name, d.driverName)
		}
		if d.rebind("a = ?") != "a = ?" {
			t.Errorf("sqlite dialect should not rebind")
		}
	}

	for _, name := range []string{"postgres", "postgresql", "pg"} {
		d, err := dialectFor(name)
		if err != nil {
			t.Fatalf("dialectFor(%q) failed: %v", name, err)
		}
		if d.driverName != "postgres" {
			t.Errorf("dialectFor(%q).driverName = %q", name, d.driverName)
		}
		if d.rebind("a = ?") != "a = $1" {
			t.Errorf("postgres dialect should rebind")
		}
	}

	if _, err := dialectFor("oracle"); err == nil {
		t.Error("dialectFor(oracle) should fail")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(sqlite3.Error{Code: sqlite3.ErrConstraint}) {
		t.Error("sqlite constraint error not detected")
	}
	if isUniqueViolation(sqlite3.Error{Code: sqlite3.ErrBusy}) {
		t.Error("sqlite busy error detected as unique violation")
	}
	if !isUniqueViolation(&pq.Error{Code: "23505"}) {
		t.Error("pq unique_violation not detected")
	}
	if isUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Error("pq foreign_key_violation detected as unique violation")
	}
	if isUniqueViolation(errors.New("UNIQUE constraint failed")) {
		t.Error("plain error detected as unique violation")
	}
}
