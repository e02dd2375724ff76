package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/trungdo2789/mpl-candy/internal/ledger"
	"github.com/trungdo2789/mpl-candy/internal/model"
	"github.com/trungdo2789/mpl-candy/internal/recipients"
	"github.com/trungdo2789/mpl-candy/internal/retry"
	"github.com/trungdo2789/mpl-candy/internal/testutil"
	"github.com/trungdo2789/mpl-candy/internal/workflow"
)

// simPassphrase seals secrets in the throwaway simulation ledger.
const simPassphrase = "candy-simulator"

// Harness holds the collaborators of one simulated run.
type Harness struct {
	ledger *ledger.Ledger
	chain  *testutil.FakeChain
	ids    *testutil.SequentialIdentities
	clock  *testutil.StepClock
	log    zerolog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh temporary ledger and a fake chain.
// Identities, timestamps and the run id are deterministic, so the trace is
// identical on every run with the same concurrency of one.
//
// Execution flow:
// 1. Create fresh ledger and fake chain with the scenario's faults
// 2. Seed leftover rows
// 3. Run the Supervisor with no backoff sleeps
// 4. Evaluate assertions
//
// A run that ends incomplete is not an error here; assertions decide.
func Run(ctx context.Context, scenario *Scenario, log zerolog.Logger) (*Result, error) {
	// Not ":memory:": a cancelled transaction can discard the only
	// connection, and the database with it.
	dir, err := os.MkdirTemp("", "candy-sim-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger dir: %w", err)
	}
	defer os.RemoveAll(dir)

	l, err := ledger.OpenSQLite(ctx, filepath.Join(dir, "ledger.db"), simPassphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to create simulation ledger: %w", err)
	}
	defer l.Close()

	clock := testutil.NewStepClock(time.Second)
	l.SetClock(clock.Now)

	h := &Harness{
		ledger: l,
		chain:  testutil.NewFakeChain(scenario.Faults...),
		ids:    testutil.NewSequentialIdentities(""),
		clock:  clock,
		log:    log,
	}

	if err := h.seed(ctx, scenario.Leftover); err != nil {
		return nil, err
	}

	report, runErr := h.supervise(ctx, scenario)
	if runErr != nil && report == nil {
		return nil, runErr
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result := NewResult()
	result.Summary = summarize(report, runErr)
	for _, call := range h.chain.Calls() {
		result.Trace = append(result.Trace, call.String())
	}

	for _, a := range scenario.Assertions {
		if err := h.evaluate(ctx, a, report); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

func (h *Harness) supervise(ctx context.Context, scenario *Scenario) (*workflow.Report, error) {
	cfg := workflow.DefaultConfig()
	cfg.Concurrency = scenario.Concurrency
	cfg.Retry = retry.Policy{MaxAttempts: scenario.MaxAttempts}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultMaxAttempts
	}

	sup := workflow.NewSupervisor(h.ledger, h.chain, h.chain, h.ids, cfg,
		workflow.WithLogger(h.log),
		workflow.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		workflow.WithRunIDGenerator(workflow.NewFixedGenerator("sim-"+scenario.Name)),
		workflow.WithClock(h.clock.Now),
	)

	return sup.Run(ctx, recipients.Merge(scenario.Recipients))
}

// seed writes leftover rows. On-chain rows are minted on the fake chain
// without a recorded call, as a crashed process would have.
func (h *Harness) seed(ctx context.Context, rows []LeftoverRow) error {
	for i, row := range rows {
		assetID, secret, err := h.ids.NewIdentity()
		if err != nil {
			return err
		}
		if _, err := h.ledger.CreatePending(ctx, ledger.PendingRecord{
			AssetID:   assetID,
			Recipient: row.Recipient,
			Ordinal:   row.Ordinal,
			Channel:   model.DefaultChannel,
			Secret:    secret,
		}); err != nil {
			return fmt.Errorf("leftover[%d]: %w", i, err)
		}
		if row.OnChain {
			h.chain.MintExternally(assetID, row.Recipient, secret)
		}
	}
	return nil
}
