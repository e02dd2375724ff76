package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/trungdo2789/mpl-candy/internal/ledger"
)

// ErrLeaseLost is returned when another run took over the lease while a pass
// was in flight. The pass is cancelled and the run stops.
var ErrLeaseLost = errors.New("run lease lost")

// leaseKeeper refreshes the run lease every ttl/3 while a pass runs.
type leaseKeeper struct {
	ledger Ledger
	owner  string
	ttl    time.Duration
	log    zerolog.Logger

	cancel context.CancelCauseFunc
	done   chan struct{}
	once   sync.Once
	lost   error
}

// holdLease starts refreshing owner's lease and returns a context that is
// cancelled if the lease is taken over. stop ends the refresh and returns
// ErrLeaseLost (wrapping the *ledger.LockedError) if that happened.
func holdLease(ctx context.Context, l Ledger, owner string, ttl time.Duration, log zerolog.Logger) (context.Context, func() error) {
	passCtx, cancel := context.WithCancelCause(ctx)
	k := &leaseKeeper{
		ledger: l,
		owner:  owner,
		ttl:    ttl,
		log:    log,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go k.loop(passCtx, ctx)
	return passCtx, k.stop
}

func (k *leaseKeeper) loop(passCtx, parent context.Context) {
	defer close(k.done)
	interval := max(k.ttl/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-passCtx.Done():
			return
		case <-ticker.C:
		}
		err := k.ledger.AcquireRunLock(parent, k.owner, k.ttl)
		switch {
		case err == nil:
			continue
		case ledger.IsLocked(err):
			k.lost = fmt.Errorf("%w: %w", ErrLeaseLost, err)
			k.log.Error().Err(err).Msg("run lease taken over; cancelling pass")
			k.cancel(k.lost)
			return
		default:
			k.log.Warn().Err(err).Msg("refresh run lease")
		}
	}
}

func (k *leaseKeeper) stop() error {
	k.once.Do(func() {
		k.cancel(nil)
		<-k.done
	})
	return k.lost
}
