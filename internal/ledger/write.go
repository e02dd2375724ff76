package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trungdo2789/mpl-candy/internal/model"
)

// PendingRecord is the input to CreatePending.
type PendingRecord struct {
	AssetID   string
	Recipient string
	Ordinal   int
	Channel   string
	Secret    []byte
}

func (p PendingRecord) validate() error {
	switch {
	case p.AssetID == "":
		return errors.New("asset id is empty")
	case p.Recipient == "":
		return errors.New("recipient is empty")
	case p.Ordinal < 1:
		return fmt.Errorf("ordinal must be >= 1, got %d", p.Ordinal)
	case len(p.Secret) == 0:
		return errors.New("secret is empty")
	}
	return nil
}

// CreatePending records a new slot with both proofs empty. The row is
// committed before the caller asks the chain for anything, which is what
// makes a crash between mint and confirmation recoverable.
//
// Returns ErrDuplicateAsset if the asset id exists, ErrSlotTaken if the
// (recipient, ordinal) slot already has a row.
func (l *Ledger) CreatePending(ctx context.Context, p PendingRecord) (model.MintRecord, error) {
	if err := p.validate(); err != nil {
		return model.MintRecord{}, fmt.Errorf("create pending: %w", err)
	}
	if p.Channel == "" {
		p.Channel = model.DefaultChannel
	}

	sealed, err := l.sealer.Seal(p.Secret)
	if err != nil {
		return model.MintRecord{}, fmt.Errorf("create pending: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return model.MintRecord{}, fmt.Errorf("create pending: begin: %w", err)
	}
	defer tx.Rollback()

	if exists, err := l.existsTx(ctx, tx, "asset_id = ?", p.AssetID); err != nil {
		return model.MintRecord{}, fmt.Errorf("create pending: %w", err)
	} else if exists {
		return model.MintRecord{}, fmt.Errorf("create pending %s: %w", p.AssetID, ErrDuplicateAsset)
	}
	if exists, err := l.existsTx(ctx, tx, "recipient = ? AND ordinal = ?", p.Recipient, p.Ordinal); err != nil {
		return model.MintRecord{}, fmt.Errorf("create pending: %w", err)
	} else if exists {
		return model.MintRecord{}, fmt.Errorf("create pending %s#%d: %w", p.Recipient, p.Ordinal, ErrSlotTaken)
	}

	now := l.nowMillis()
	var seq int64
	err = tx.QueryRowContext(ctx, l.dialect.rebind(`
		INSERT INTO mint_records
		(asset_id, recipient, ordinal, channel, sealed_secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`), p.AssetID, p.Recipient, p.Ordinal, p.Channel, sealed, now, now).Scan(&seq)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race with another writer between the checks and the insert.
			return model.MintRecord{}, fmt.Errorf("create pending %s: %w", p.AssetID, ErrDuplicateAsset)
		}
		return model.MintRecord{}, fmt.Errorf("create pending: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.MintRecord{}, fmt.Errorf("create pending: commit: %w", err)
	}

	ts := time.UnixMilli(now).UTC()
	return model.MintRecord{
		Seq:       seq,
		AssetID:   p.AssetID,
		Recipient: p.Recipient,
		Ordinal:   p.Ordinal,
		Channel:   p.Channel,
		Secret:    append([]byte(nil), p.Secret...),
		CreatedAt: ts,
		UpdatedAt: ts,
	}, nil
}

// MarkMinted stores the mint proof. Returns ErrNotFound if no row has assetID.
func (l *Ledger) MarkMinted(ctx context.Context, assetID, proof string) error {
	if proof == "" {
		return fmt.Errorf("mark minted %s: proof is empty", assetID)
	}
	res, err := l.db.ExecContext(ctx, l.dialect.rebind(`
		UPDATE mint_records SET mint_proof = ?, updated_at = ?
		WHERE asset_id = ?
	`), proof, l.nowMillis(), assetID)
	if err != nil {
		return fmt.Errorf("mark minted %s: %w", assetID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark minted %s: %w", assetID, err)
	}
	if n == 0 {
		return fmt.Errorf("mark minted %s: %w", assetID, ErrNotFound)
	}
	return nil
}

// MarkDelivered stores the delivery proof. Returns ErrNotFound if no row has
// assetID and ErrNotMinted if the row has no mint proof yet.
func (l *Ledger) MarkDelivered(ctx context.Context, assetID, proof string) error {
	if proof == "" {
		return fmt.Errorf("mark delivered %s: proof is empty", assetID)
	}
	res, err := l.db.ExecContext(ctx, l.dialect.rebind(`
		UPDATE mint_records SET delivery_proof = ?, updated_at = ?
		WHERE asset_id = ? AND mint_proof IS NOT NULL
	`), proof, l.nowMillis(), assetID)
	if err != nil {
		return fmt.Errorf("mark delivered %s: %w", assetID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark delivered %s: %w", assetID, err)
	}
	if n > 0 {
		return nil
	}

	exists, err := l.existsTx(ctx, l.db, "asset_id = ?", assetID)
	if err != nil {
		return fmt.Errorf("mark delivered %s: %w", assetID, err)
	}
	if !exists {
		return fmt.Errorf("mark delivered %s: %w", assetID, ErrNotFound)
	}
	return fmt.Errorf("mark delivered %s: %w", assetID, ErrNotMinted)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (l *Ledger) existsTx(ctx context.Context, q queryRower, where string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, l.dialect.rebind(
		"SELECT 1 FROM mint_records WHERE "+where+" LIMIT 1"), args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
