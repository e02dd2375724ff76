package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/trungdo2789/mpl-candy/internal/model"
)

const recordColumns = `seq, asset_id, recipient, ordinal, channel, mint_proof, delivery_proof, sealed_secret, created_at, updated_at`

// CountCompleted returns the number of rows for recipient whose mint has been
// confirmed. Delivery is not required.
func (l *Ledger) CountCompleted(ctx context.Context, recipient string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, l.dialect.rebind(`
		SELECT COUNT(*) FROM mint_records
		WHERE recipient = ? AND mint_proof IS NOT NULL
	`), recipient).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count completed %s: %w", recipient, err)
	}
	return n, nil
}

// CountAttempted returns the number of rows for recipient in any state.
func (l *Ledger) CountAttempted(ctx context.Context, recipient string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, l.dialect.rebind(`
		SELECT COUNT(*) FROM mint_records WHERE recipient = ?
	`), recipient).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempted %s: %w", recipient, err)
	}
	return n, nil
}

// NextOrdinal returns one past the highest ordinal recorded for recipient.
func (l *Ledger) NextOrdinal(ctx context.Context, recipient string) (int, error) {
	var max sql.NullInt64
	err := l.db.QueryRowContext(ctx, l.dialect.rebind(`
		SELECT MAX(ordinal) FROM mint_records WHERE recipient = ?
	`), recipient).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("next ordinal %s: %w", recipient, err)
	}
	return int(max.Int64) + 1, nil
}

// Get returns the row for assetID, or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, assetID string) (model.MintRecord, error) {
	row := l.db.QueryRowContext(ctx, l.dialect.rebind(
		"SELECT "+recordColumns+" FROM mint_records WHERE asset_id = ?"), assetID)
	rec, err := l.scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MintRecord{}, fmt.Errorf("get %s: %w", assetID, ErrNotFound)
	}
	if err != nil {
		return model.MintRecord{}, fmt.Errorf("get %s: %w", assetID, err)
	}
	return rec, nil
}

// ListByRecipient returns every row for recipient in creation order.
func (l *Ledger) ListByRecipient(ctx context.Context, recipient string) ([]model.MintRecord, error) {
	rows, err := l.db.QueryContext(ctx, l.dialect.rebind(
		"SELECT "+recordColumns+" FROM mint_records WHERE recipient = ? ORDER BY seq ASC"), recipient)
	if err != nil {
		return nil, fmt.Errorf("list by recipient %s: %w", recipient, err)
	}
	defer rows.Close()
	return l.collect(rows)
}

// ListIncomplete yields rows missing either proof, in creation order.
//
// The sequence is lazy and keyset-paged on seq. Each page is read fully and
// its rows closed before anything is yielded, so the consumer may write to the
// ledger while iterating (the sqlite pool has a single connection). Ranging
// over the sequence again re-queries from the start.
//
// A query failure is yielded once as the error and ends the sequence.
func (l *Ledger) ListIncomplete(ctx context.Context) iter.Seq2[model.MintRecord, error] {
	return func(yield func(model.MintRecord, error) bool) {
		var after int64
		for {
			page, err := l.incompletePage(ctx, after)
			if err != nil {
				yield(model.MintRecord{}, fmt.Errorf("list incomplete: %w", err))
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
				after = rec.Seq
			}
			if len(page) < l.pageSize {
				return
			}
		}
	}
}

// CountIncomplete returns the number of rows missing either proof.
func (l *Ledger) CountIncomplete(ctx context.Context) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mint_records
		WHERE mint_proof IS NULL OR delivery_proof IS NULL
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count incomplete: %w", err)
	}
	return n, nil
}

func (l *Ledger) incompletePage(ctx context.Context, after int64) ([]model.MintRecord, error) {
	rows, err := l.db.QueryContext(ctx, l.dialect.rebind(`
		SELECT `+recordColumns+` FROM mint_records
		WHERE seq > ? AND (mint_proof IS NULL OR delivery_proof IS NULL)
		ORDER BY seq ASC
		LIMIT ?
	`), after, l.pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return l.collect(rows)
}

// Summaries aggregates rows per recipient, ordered by each recipient's first row.
func (l *Ledger) Summaries(ctx context.Context) ([]model.RecipientSummary, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT recipient,
		       COUNT(*),
		       COUNT(mint_proof),
		       COUNT(delivery_proof)
		FROM mint_records
		GROUP BY recipient
		ORDER BY MIN(seq) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("summaries: %w", err)
	}
	defer rows.Close()

	var out []model.RecipientSummary
	for rows.Next() {
		var s model.RecipientSummary
		if err := rows.Scan(&s.Recipient, &s.Attempted, &s.Minted, &s.Delivered); err != nil {
			return nil, fmt.Errorf("summaries: scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("summaries: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (l *Ledger) scanRecord(row rowScanner) (model.MintRecord, error) {
	var (
		rec                   model.MintRecord
		mintProof, delivProof sql.NullString
		sealed                []byte
		created, updated      int64
	)
	err := row.Scan(&rec.Seq, &rec.AssetID, &rec.Recipient, &rec.Ordinal, &rec.Channel,
		&mintProof, &delivProof, &sealed, &created, &updated)
	if err != nil {
		return model.MintRecord{}, err
	}
	if mintProof.Valid {
		rec.MintProof = model.Proof(mintProof.String)
	}
	if delivProof.Valid {
		rec.DeliveryProof = model.Proof(delivProof.String)
	}
	secret, err := l.sealer.Open(sealed)
	if err != nil {
		return model.MintRecord{}, fmt.Errorf("open secret for %s: %w", rec.AssetID, err)
	}
	rec.Secret = secret
	rec.CreatedAt = time.UnixMilli(created).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return rec, nil
}

func (l *Ledger) collect(rows *sql.Rows) ([]model.MintRecord, error) {
	var out []model.MintRecord
	for rows.Next() {
		rec, err := l.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
