// Package ledger provides the durable allocation ledger for the
// mint-and-deliver workflow.
//
// The ledger is the sole owner of MintRecord rows. Every mutating call is
// committed before it returns, so a crash right after a successful call never
// loses the recorded state. The workflow mutates rows only through
// CreatePending, MarkMinted and MarkDelivered.
//
// # Invariants enforced by the schema
//
//   - asset_id is UNIQUE: an asset is never recorded twice (ErrDuplicateAsset).
//   - (recipient, ordinal) is UNIQUE: a slot holds at most one asset (ErrSlotTaken).
//   - seq is the creation order. All listings use ORDER BY seq ASC, never timestamps.
//
// # Backends
//
//   - sqlite (default): WAL mode, synchronous=FULL, single connection.
//   - postgres: lib/pq, same tables, $n placeholders.
//
// Signing secrets are sealed with the sealer package before they are written.
// The salt and a key check value live in ledger_meta, so opening a ledger with
// the wrong passphrase fails immediately with ErrBadPassphrase instead of at
// the first retry.
package ledger
