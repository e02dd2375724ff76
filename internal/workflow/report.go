package workflow

import (
	"sync"
	"time"

	"go.uber.org/multierr"
)

// PassResult counts what one reconcile or process pass did.
type PassResult struct {
	// Minted is the number of mints requested and confirmed.
	Minted int
	// Recovered is the number of pending rows found already minted by lookup.
	Recovered int
	// Delivered is the number of deliveries confirmed.
	Delivered int
	// Satisfied is the number of targets that needed no new mint.
	Satisfied int
	// Deferred is the number of targets left for reconciliation because they
	// had a pending row.
	Deferred int
	// Rejected aggregates rejected collaborator errors (multierr).
	Rejected error
}

// RejectedCount returns the number of rejections in the pass.
func (r PassResult) RejectedCount() int {
	return len(multierr.Errors(r.Rejected))
}

func (r *PassResult) merge(o PassResult) {
	r.Minted += o.Minted
	r.Recovered += o.Recovered
	r.Delivered += o.Delivered
	r.Satisfied += o.Satisfied
	r.Deferred += o.Deferred
	r.Rejected = multierr.Append(r.Rejected, o.Rejected)
}

// passCollector merges per-target results from concurrent workers.
type passCollector struct {
	mu  sync.Mutex
	res PassResult
}

func (c *passCollector) add(r PassResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.res.merge(r)
}

func (c *passCollector) result() PassResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res
}

// Report summarizes a Supervisor run.
type Report struct {
	RunID  string
	Passes int

	Minted    int
	Recovered int
	Delivered int

	// Rejected holds the rejections of the last pass only. Earlier passes'
	// rejections were retried.
	Rejected error

	// Incomplete is the number of ledger rows missing a proof at the end.
	Incomplete int
	// Outstanding is the number of units still owed across all targets.
	Outstanding int
	// Done is true when every target is satisfied and every row complete.
	Done bool

	StartedAt  time.Time
	FinishedAt time.Time
}

// RejectedMessages returns the last pass's rejections as strings.
func (r *Report) RejectedMessages() []string {
	errs := multierr.Errors(r.Rejected)
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

func (r *Report) addPass(p PassResult) {
	r.Passes++
	r.Minted += p.Minted
	r.Recovered += p.Recovered
	r.Delivered += p.Delivered
	r.Rejected = p.Rejected
}
