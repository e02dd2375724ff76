package workflow

import (
	"context"
	"iter"
	"time"

	"github.com/trungdo2789/mpl-candy/internal/ledger"
	"github.com/trungdo2789/mpl-candy/internal/model"
)

// MintRequest carries everything needed to issue one mint. Secret is the
// signing identity of the asset; a retry of the same slot passes the same
// AssetID and Secret.
type MintRequest struct {
	Channel   string
	AssetID   string
	Secret    []byte
	Recipient string
	Ordinal   int
}

// MintRequester issues mints against the distribution mechanism.
type MintRequester interface {
	// RequestMint submits the mint and returns its proof of submission.
	RequestMint(ctx context.Context, req MintRequest) (string, error)

	// LookupMint reports whether assetID already exists on chain, and if so
	// a proof for it.
	LookupMint(ctx context.Context, assetID string) (proof string, found bool, err error)
}

// DeliveryExecutor transfers a minted asset to its recipient.
type DeliveryExecutor interface {
	Deliver(ctx context.Context, assetID, recipient string) (string, error)
}

// IdentitySource creates fresh signing identities for new slots.
type IdentitySource interface {
	NewIdentity() (assetID string, secret []byte, err error)
}

// Ledger is the subset of *ledger.Ledger the workflow uses.
type Ledger interface {
	CountCompleted(ctx context.Context, recipient string) (int, error)
	CountAttempted(ctx context.Context, recipient string) (int, error)
	NextOrdinal(ctx context.Context, recipient string) (int, error)
	CreatePending(ctx context.Context, p ledger.PendingRecord) (model.MintRecord, error)
	MarkMinted(ctx context.Context, assetID, proof string) error
	MarkDelivered(ctx context.Context, assetID, proof string) error
	ListIncomplete(ctx context.Context) iter.Seq2[model.MintRecord, error]
	CountIncomplete(ctx context.Context) (int, error)

	AcquireRunLock(ctx context.Context, owner string, ttl time.Duration) error
	ReleaseRunLock(ctx context.Context, owner string) error
}

var _ Ledger = (*ledger.Ledger)(nil)

// RunIDGenerator produces run identifiers.
type RunIDGenerator interface {
	Generate() string
}
