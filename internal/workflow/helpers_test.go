package workflow_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trungdo2789/mpl-candy/internal/ledger"
	"github.com/trungdo2789/mpl-candy/internal/model"
	"github.com/trungdo2789/mpl-candy/internal/retry"
	"github.com/trungdo2789/mpl-candy/internal/testutil"
	"github.com/trungdo2789/mpl-candy/internal/workflow"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

type fixture struct {
	ledger *ledger.Ledger
	chain  *testutil.FakeChain
	ids    *testutil.SequentialIdentities
	cfg    workflow.Config
}

func newFixture(t *testing.T, faults ...testutil.Fault) *fixture {
	t.Helper()
	l, err := ledger.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), "test-passphrase")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	l.SetClock(testutil.NewStepClock(time.Second).Now)

	cfg := workflow.DefaultConfig()
	cfg.Retry = retry.Policy{MaxAttempts: 5}

	return &fixture{
		ledger: l,
		chain:  testutil.NewFakeChain(faults...),
		ids:    testutil.NewSequentialIdentities(""),
		cfg:    cfg,
	}
}

func (f *fixture) supervisor(opts ...workflow.Option) *workflow.Supervisor {
	opts = append([]workflow.Option{workflow.WithSleeper(noSleep)}, opts...)
	return workflow.NewSupervisor(f.ledger, f.chain, f.chain, f.ids, f.cfg, opts...)
}

func (f *fixture) reconciler() *workflow.Reconciler {
	return workflow.NewReconciler(f.ledger, f.chain, f.chain)
}

func (f *fixture) orchestrator() *workflow.Orchestrator {
	return workflow.NewOrchestrator(f.ledger, f.chain, f.chain, f.ids, f.cfg)
}

// seedPending records a pending slot the way a crashed run would leave it.
func (f *fixture) seedPending(t *testing.T, recipient string, ordinal int) model.MintRecord {
	t.Helper()
	id, secret, err := f.ids.NewIdentity()
	require.NoError(t, err)
	rec, err := f.ledger.CreatePending(context.Background(), ledger.PendingRecord{
		AssetID: id, Recipient: recipient, Ordinal: ordinal, Channel: "pre", Secret: secret,
	})
	require.NoError(t, err)
	return rec
}

func (f *fixture) records(t *testing.T, recipient string) []model.MintRecord {
	t.Helper()
	recs, err := f.ledger.ListByRecipient(context.Background(), recipient)
	require.NoError(t, err)
	return recs
}

func targets(pairs ...any) []model.AllocationTarget {
	var out []model.AllocationTarget
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, model.AllocationTarget{Recipient: pairs[i].(string), Quantity: pairs[i+1].(int)})
	}
	return out
}
