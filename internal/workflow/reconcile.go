package workflow

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/trungdo2789/mpl-candy/internal/model"
)

// Reconciler finishes ledger rows that are missing a proof.
type Reconciler struct {
	ledger   Ledger
	mint     MintRequester
	delivery DeliveryExecutor
	log      zerolog.Logger
	metrics  *Metrics
}

// NewReconciler wires a Reconciler.
func NewReconciler(l Ledger, mint MintRequester, delivery DeliveryExecutor, opts ...Option) *Reconciler {
	o := buildOptions(opts)
	return &Reconciler{
		ledger:   l,
		mint:     mint,
		delivery: delivery,
		log:      o.log.With().Str("component", "reconciler").Logger(),
		metrics:  o.metrics,
	}
}

// Reconcile walks every incomplete row in creation order.
//
// A pending row is looked up first. If the asset exists its proof is
// recorded; otherwise the mint is requested again with the row's own asset
// id and stored secret. A minted row is delivered. Rejections are collected
// and the row is left for manual attention; transient errors abort the pass.
//
// Rows already complete when read are skipped without external calls, so a
// second pass with no outside changes calls nothing.
func (r *Reconciler) Reconcile(ctx context.Context) (PassResult, error) {
	var res PassResult
	for rec, err := range r.ledger.ListIncomplete(ctx) {
		if err != nil {
			return res, err
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if rec.Complete() {
			continue
		}

		out, err := r.reconcileRecord(ctx, rec)
		res.merge(out)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *Reconciler) reconcileRecord(ctx context.Context, rec model.MintRecord) (PassResult, error) {
	var res PassResult
	log := r.log.With().
		Str("recipient", rec.Recipient).
		Str("asset", rec.AssetID).
		Int("ordinal", rec.Ordinal).
		Str("state", string(rec.State())).
		Logger()

	if !rec.Minted() {
		proof, recovered, err := r.confirmMint(ctx, rec, log)
		if err != nil {
			if IsRejected(err) {
				res.Rejected = err
				return res, nil
			}
			return res, err
		}
		if err := r.ledger.MarkMinted(ctx, rec.AssetID, proof); err != nil {
			return res, err
		}
		r.metrics.minted()
		if recovered {
			res.Recovered++
			log.Info().Str("proof", proof).Msg("pending mint found on chain")
		} else {
			res.Minted++
			log.Info().Str("proof", proof).Msg("pending mint re-requested with stored identity")
		}
	}

	delivered, err := deliver(ctx, r.ledger, r.delivery, r.metrics, log, rec.AssetID, rec.Recipient)
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
	return res, nil
}

// confirmMint returns a mint proof for a pending row, and whether it came
// from a lookup rather than a new request.
func (r *Reconciler) confirmMint(ctx context.Context, rec model.MintRecord, log zerolog.Logger) (string, bool, error) {
	proof, found, err := r.mint.LookupMint(ctx, rec.AssetID)
	if err != nil {
		err = annotate(OpLookup, rec.AssetID, rec.Recipient, err)
		if IsRejected(err) {
			log.Error().Err(err).Msg("lookup rejected; needs manual attention")
			r.metrics.rejected(OpLookup)
		} else {
			log.Warn().Err(err).Msg("lookup failed")
		}
		return "", false, err
	}
	if found {
		return proof, true, nil
	}

	proof, err = r.mint.RequestMint(ctx, MintRequest{
		Channel:   rec.Channel,
		AssetID:   rec.AssetID,
		Secret:    rec.Secret,
		Recipient: rec.Recipient,
		Ordinal:   rec.Ordinal,
	})
	if err != nil {
		err = annotate(OpMint, rec.AssetID, rec.Recipient, err)
		if IsRejected(err) {
			log.Error().Err(err).Msg("mint retry rejected; needs manual attention")
			r.metrics.rejected(OpMint)
		} else {
			log.Warn().Err(err).Msg("mint retry failed")
		}
		return "", false, err
	}
	return proof, false, nil
}
