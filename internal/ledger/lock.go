package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AcquireRunLock takes the single run lease for owner. The lease is granted
// when nobody holds it, when owner already holds it (refreshing acquired_at),
// or when the holder's lease is older than ttl. Otherwise a *LockedError is
// returned.
//
// Two concurrent runs against one ledger could each see the same incomplete
// target and mint twice; the lease keeps that from happening.
func (l *Ledger) AcquireRunLock(ctx context.Context, owner string, ttl time.Duration) error {
	if owner == "" {
		return errors.New("acquire run lock: owner is empty")
	}
	now := l.nowMillis()

	res, err := l.db.ExecContext(ctx, l.dialect.rebind(`
		INSERT INTO run_lock (id, owner, acquired_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`), owner, now)
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	staleBefore := now - ttl.Milliseconds()
	res, err = l.db.ExecContext(ctx, l.dialect.rebind(`
		UPDATE run_lock SET owner = ?, acquired_at = ?
		WHERE id = 1 AND (owner = ? OR acquired_at < ?)
	`), owner, now, owner, staleBefore)
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	holder, since, err := l.RunLockHolder(ctx)
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	return &LockedError{Owner: holder, Since: since}
}

// ReleaseRunLock drops the lease if owner holds it. Releasing a lease held
// by someone else is a no-op.
func (l *Ledger) ReleaseRunLock(ctx context.Context, owner string) error {
	_, err := l.db.ExecContext(ctx, l.dialect.rebind(
		"DELETE FROM run_lock WHERE id = 1 AND owner = ?"), owner)
	if err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}

// RunLockHolder returns the current lease holder, or "" when the lease is free.
func (l *Ledger) RunLockHolder(ctx context.Context) (string, time.Time, error) {
	var (
		owner string
		at    int64
	)
	err := l.db.QueryRowContext(ctx, "SELECT owner, acquired_at FROM run_lock WHERE id = 1").Scan(&owner, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return owner, time.UnixMilli(at).UTC(), nil
}
