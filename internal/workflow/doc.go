// Package workflow implements the idempotent batch mint-and-deliver workflow.
//
// Three pieces cooperate:
//
//   - Orchestrator walks the recipient list in order and, for each target,
//     mints and delivers until the recipient's confirmed mints reach its
//     quantity.
//   - Reconciler walks ledger rows missing a proof and finishes them: a
//     pending row is looked up on chain and either confirmed or re-minted
//     with its stored secret, a minted row is delivered.
//   - Supervisor runs reconcile-then-process passes under the run lease,
//     retrying with backoff until the batch is done.
//
// Per-target state machine:
//
//	COMPUTE_REMAINING -> REQUEST_MINT -> CONFIRM_MINT -> REQUEST_DELIVERY -> CONFIRM_DELIVERY
//	       ^                                                                      |
//	       +----------------------------------------------------------------------+
//
// Every transition is preceded by a committed ledger write. A crash at any
// point leaves either a pending row (its secret already stored) or a minted
// row, and the next Reconciler pass picks it up. A fresh mint is never
// requested while the recipient has a pending row, so a lost confirmation
// cannot turn into a second mint.
//
// Error policy:
//   - transient collaborator errors abort the pass; the Supervisor retries
//   - rejected collaborator errors skip the target or record for this pass
//   - ledger invariant violations are fatal and end the run
package workflow
