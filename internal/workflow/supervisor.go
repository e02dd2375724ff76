package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/trungdo2789/mpl-candy/internal/model"
	"github.com/trungdo2789/mpl-candy/internal/retry"
)

// ErrIncomplete is returned for a pass that finished without error but left
// work behind (rejections, deferred targets, undelivered rows).
var ErrIncomplete = errors.New("batch incomplete")

// Supervisor runs reconcile-then-process passes until the batch is done.
type Supervisor struct {
	ledger       Ledger
	reconciler   *Reconciler
	orchestrator *Orchestrator
	cfg          Config
	opts         options
	log          zerolog.Logger
}

// NewSupervisor wires a Supervisor and the Reconciler and Orchestrator it drives.
func NewSupervisor(l Ledger, mint MintRequester, delivery DeliveryExecutor, ids IdentitySource, cfg Config, opts ...Option) *Supervisor {
	o := buildOptions(opts)
	cfg = cfg.withDefaults()
	return &Supervisor{
		ledger:       l,
		reconciler:   NewReconciler(l, mint, delivery, opts...),
		orchestrator: NewOrchestrator(l, mint, delivery, ids, cfg, opts...),
		cfg:          cfg,
		opts:         o,
		log:          o.log.With().Str("component", "supervisor").Logger(),
	}
}

// Run takes the run lease and repeats passes with backoff until every target
// is satisfied and every row complete.
//
// The lease is refreshed every LockTTL/3 while a pass runs; losing it to
// another run cancels the pass and stops the run with ErrLeaseLost.
//
// It stops early on a ledger invariant violation, on context cancellation,
// or when cfg.Retry.MaxAttempts passes have run. The report is filled in
// either way.
func (s *Supervisor) Run(ctx context.Context, targets []model.AllocationTarget) (*Report, error) {
	report := &Report{
		RunID:     s.opts.runIDs.Generate(),
		StartedAt: s.opts.now(),
	}
	log := s.log.With().Str("run", report.RunID).Logger()

	if err := s.ledger.AcquireRunLock(ctx, report.RunID, s.cfg.LockTTL); err != nil {
		return report, fmt.Errorf("acquire run lease: %w", err)
	}
	defer func() {
		if err := s.ledger.ReleaseRunLock(context.WithoutCancel(ctx), report.RunID); err != nil {
			log.Warn().Err(err).Msg("release run lease")
		}
	}()

	log.Info().Int("targets", len(targets)).Msg("run started")

	runErr := retry.DoWithSleeper(ctx, s.cfg.Retry, s.opts.sleeper, func(ctx context.Context, attempt int) error {
		plog := log.With().Int("attempt", attempt).Logger()

		if err := s.ledger.AcquireRunLock(ctx, report.RunID, s.cfg.LockTTL); err != nil {
			return retry.Permanent(fmt.Errorf("refresh run lease: %w", err))
		}

		passCtx, release := holdLease(ctx, s.ledger, report.RunID, s.cfg.LockTTL, plog)
		res, err := s.pass(passCtx, targets)
		if lost := release(); lost != nil {
			err = lost
		}
		report.addPass(res)
		if err != nil {
			if IsFatal(err) {
				plog.Error().Err(err).Msg("unrecoverable error; stopping")
				return retry.Permanent(err)
			}
			if ctx.Err() != nil {
				return err
			}
			s.opts.metrics.retried()
			plog.Warn().Err(err).Msg("pass aborted; retrying")
			return err
		}

		done, err := s.finished(ctx, targets, res, report)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		s.opts.metrics.retried()
		plog.Warn().
			Int("incomplete", report.Incomplete).
			Int("outstanding", report.Outstanding).
			Int("rejected", res.RejectedCount()).
			Int("deferred", res.Deferred).
			Msg("pass left work behind; retrying")
		return ErrIncomplete
	})

	// Counts after the last pass, even when it was aborted.
	if _, err := s.finished(context.WithoutCancel(ctx), targets, PassResult{}, report); err != nil {
		log.Warn().Err(err).Msg("final ledger count")
	}
	report.Done = runErr == nil
	report.FinishedAt = s.opts.now()

	ev := log.Info()
	if runErr != nil {
		ev = log.Error().Err(runErr)
	}
	ev.Int("passes", report.Passes).
		Int("minted", report.Minted).
		Int("recovered", report.Recovered).
		Int("delivered", report.Delivered).
		Int("incomplete", report.Incomplete).
		Int("outstanding", report.Outstanding).
		Bool("done", report.Done).
		Msg("run finished")

	return report, runErr
}

// pass runs the Reconciler before the Orchestrator so resumed rows are
// finished before any new work begins.
func (s *Supervisor) pass(ctx context.Context, targets []model.AllocationTarget) (PassResult, error) {
	res, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		return res, fmt.Errorf("reconcile: %w", err)
	}
	processed, err := s.orchestrator.Process(ctx, targets)
	res.merge(processed)
	if err != nil {
		return res, fmt.Errorf("process: %w", err)
	}
	return res, nil
}

// finished refreshes the report's counts and reports whether the batch is done.
func (s *Supervisor) finished(ctx context.Context, targets []model.AllocationTarget, res PassResult, report *Report) (bool, error) {
	incomplete, err := s.ledger.CountIncomplete(ctx)
	if err != nil {
		return false, err
	}
	outstanding, err := s.orchestrator.Outstanding(ctx, targets)
	if err != nil {
		return false, err
	}
	report.Incomplete = incomplete
	report.Outstanding = outstanding
	s.opts.metrics.setIncomplete(incomplete)

	return res.Rejected == nil && res.Deferred == 0 && incomplete == 0 && outstanding == 0, nil
}

// Reconcile runs a single reconciliation pass under the run lease.
func (s *Supervisor) Reconcile(ctx context.Context) (PassResult, error) {
	owner := s.opts.runIDs.Generate()
	if err := s.ledger.AcquireRunLock(ctx, owner, s.cfg.LockTTL); err != nil {
		return PassResult{}, fmt.Errorf("acquire run lease: %w", err)
	}
	defer s.ledger.ReleaseRunLock(context.WithoutCancel(ctx), owner)

	passCtx, release := holdLease(ctx, s.ledger, owner, s.cfg.LockTTL, s.log)
	res, err := s.reconciler.Reconcile(passCtx)
	if lost := release(); lost != nil {
		err = lost
	}
	if n, cerr := s.ledger.CountIncomplete(context.WithoutCancel(ctx)); cerr == nil {
		s.opts.metrics.setIncomplete(n)
	}
	return res, err
}
