package workflow

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/trungdo2789/mpl-candy/internal/ledger"
	"github.com/trungdo2789/mpl-candy/internal/model"
)

// Orchestrator mints and delivers the outstanding units of each target.
type Orchestrator struct {
	ledger   Ledger
	mint     MintRequester
	delivery DeliveryExecutor
	ids      IdentitySource
	cfg      Config
	log      zerolog.Logger
	metrics  *Metrics
}

// NewOrchestrator wires an Orchestrator. All collaborators are required.
func NewOrchestrator(l Ledger, mint MintRequester, delivery DeliveryExecutor, ids IdentitySource, cfg Config, opts ...Option) *Orchestrator {
	o := buildOptions(opts)
	return &Orchestrator{
		ledger:   l,
		mint:     mint,
		delivery: delivery,
		ids:      ids,
		cfg:      cfg.withDefaults(),
		log:      o.log.With().Str("component", "orchestrator").Logger(),
		metrics:  o.metrics,
	}
}

// Process runs one pass over targets in list order.
//
// A rejected collaborator error skips the rest of that target for this pass
// and is collected in the result. A transient error, a ledger failure or
// context cancellation aborts the pass and is returned together with the
// partial result.
func (o *Orchestrator) Process(ctx context.Context, targets []model.AllocationTarget) (PassResult, error) {
	if o.cfg.Concurrency <= 1 {
		var res PassResult
		for _, t := range targets {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			r, err := o.processTarget(ctx, t)
			res.merge(r)
			if err != nil {
				return res, err
			}
		}
		return res, nil
	}

	var col passCollector
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for _, t := range targets {
		g.Go(func() error {
			r, err := o.processTarget(gctx, t)
			col.add(r)
			return err
		})
	}
	err := g.Wait()
	return col.result(), err
}

// processTarget loops COMPUTE_REMAINING -> ... -> CONFIRM_DELIVERY until the
// target is satisfied, deferred or rejected.
func (o *Orchestrator) processTarget(ctx context.Context, t model.AllocationTarget) (PassResult, error) {
	var res PassResult
	log := o.log.With().Str("recipient", t.Recipient).Int("quantity", t.Quantity).Logger()

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		// COMPUTE_REMAINING
		completed, err := o.ledger.CountCompleted(ctx, t.Recipient)
		if err != nil {
			return res, err
		}
		remaining := t.Quantity - completed
		if remaining <= 0 {
			log.Debug().Int("completed", completed).Str("state", "done").Msg("target satisfied")
			res.Satisfied++
			return res, nil
		}

		attempted, err := o.ledger.CountAttempted(ctx, t.Recipient)
		if err != nil {
			return res, err
		}
		if attempted > completed {
			log.Warn().
				Int("completed", completed).
				Int("attempted", attempted).
				Msg("pending slot outstanding; leaving target for reconciliation")
			res.Deferred++
			return res, nil
		}

		ordinal, err := o.ledger.NextOrdinal(ctx, t.Recipient)
		if err != nil {
			return res, err
		}

		rec, err := o.createPending(ctx, t.Recipient, ordinal)
		if err != nil {
			return res, err
		}
		slotLog := log.With().Str("asset", rec.AssetID).Int("ordinal", ordinal).Str("slot", model.SlotKey(t.Recipient, ordinal)).Logger()
		slotLog.Info().Int("remaining", remaining).Str("state", "pending").Msg("slot recorded")

		// REQUEST_MINT, CONFIRM_MINT
		proof, err := o.mint.RequestMint(ctx, MintRequest{
			Channel:   o.cfg.Channel,
			AssetID:   rec.AssetID,
			Secret:    rec.Secret,
			Recipient: t.Recipient,
			Ordinal:   ordinal,
		})
		if err != nil {
			err = annotate(OpMint, rec.AssetID, t.Recipient, err)
			if IsRejected(err) {
				slotLog.Error().Err(err).Msg("mint rejected; needs manual attention")
				o.metrics.rejected(OpMint)
				res.Rejected = err
				return res, nil
			}
			slotLog.Warn().Err(err).Msg("mint failed")
			return res, err
		}
		if err := o.ledger.MarkMinted(ctx, rec.AssetID, proof); err != nil {
			return res, err
		}
		res.Minted++
		o.metrics.minted()
		slotLog.Info().Str("proof", proof).Str("state", "minted").Msg("mint confirmed")

		// REQUEST_DELIVERY, CONFIRM_DELIVERY
		delivered, err := deliver(ctx, o.ledger, o.delivery, o.metrics, slotLog, rec.AssetID, t.Recipient)
		if err != nil {
			if IsRejected(err) {
				res.Rejected = err
				return res, nil
			}
			return res, err
		}
		if delivered {
			res.Delivered++
		}
	}
}

func (o *Orchestrator) createPending(ctx context.Context, recipient string, ordinal int) (model.MintRecord, error) {
	assetID, secret, err := o.ids.NewIdentity()
	if err != nil {
		return model.MintRecord{}, fmt.Errorf("new identity: %w", err)
	}
	return o.ledger.CreatePending(ctx, ledger.PendingRecord{
		AssetID:   assetID,
		Recipient: recipient,
		Ordinal:   ordinal,
		Channel:   o.cfg.Channel,
		Secret:    secret,
	})
}

// Outstanding returns the number of units still owed across targets.
func (o *Orchestrator) Outstanding(ctx context.Context, targets []model.AllocationTarget) (int, error) {
	total := 0
	for _, t := range targets {
		completed, err := o.ledger.CountCompleted(ctx, t.Recipient)
		if err != nil {
			return 0, err
		}
		if owed := t.Quantity - completed; owed > 0 {
			total += owed
		}
	}
	return total, nil
}

// deliver runs REQUEST_DELIVERY and CONFIRM_DELIVERY for a minted row.
// A rejected delivery is logged, counted and returned.
func deliver(ctx context.Context, l Ledger, d DeliveryExecutor, m *Metrics, log zerolog.Logger, assetID, recipient string) (bool, error) {
	proof, err := d.Deliver(ctx, assetID, recipient)
	if err != nil {
		err = annotate(OpDeliver, assetID, recipient, err)
		if IsRejected(err) {
			log.Error().Err(err).Msg("delivery rejected; needs manual attention")
			m.rejected(OpDeliver)
			return false, err
		}
		log.Warn().Err(err).Msg("delivery failed")
		return false, err
	}
	if err := l.MarkDelivered(ctx, assetID, proof); err != nil {
		return false, err
	}
	m.delivered()
	log.Info().Str("proof", proof).Str("state", "delivered").Msg("delivery confirmed")
	return true, nil
}
