package solana

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blocto/solana-go-sdk/rpc"

	"github.com/trungdo2789/mpl-candy/internal/workflow"
)

const (
	DefaultConfirmInterval = 500 * time.Millisecond
	DefaultConfirmTimeout  = 90 * time.Second
)

var (
	// ErrBlockhashExpired means the transaction never landed and its
	// blockhash can no longer be included. Sending again is safe.
	ErrBlockhashExpired = errors.New("transaction expired before confirmation")

	// ErrConfirmTimeout means the transaction was neither confirmed nor
	// expired within Config.ConfirmTimeout.
	ErrConfirmTimeout = errors.New("transaction not confirmed in time")
)

func (c Config) confirmInterval() time.Duration {
	if c.ConfirmInterval > 0 {
		return c.ConfirmInterval
	}
	return DefaultConfirmInterval
}

func (c Config) confirmTimeout() time.Duration {
	if c.ConfirmTimeout > 0 {
		return c.ConfirmTimeout
	}
	return DefaultConfirmTimeout
}

// awaitConfirmation polls the status of sig until it reaches confirmed
// commitment. A transaction error is rejected; expiry of the blockhash
// (lastValid) or the timeout is transient.
func (c *Client) awaitConfirmation(parent context.Context, op, sig string, lastValid uint64) error {
	ctx, cancel := context.WithTimeout(parent, c.cfg.confirmTimeout())
	defer cancel()

	ticker := time.NewTicker(c.cfg.confirmInterval())
	defer ticker.Stop()

	for {
		done, err := c.checkStatus(ctx, op, sig, lastValid)
		if done || err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			if err := parent.Err(); err != nil {
				return err
			}
			return workflow.Transient(op, fmt.Errorf("%w: %s", ErrConfirmTimeout, sig))
		case <-ticker.C:
		}
	}
}

// checkStatus does one poll. RPC errors are logged and polled through.
func (c *Client) checkStatus(ctx context.Context, op, sig string, lastValid uint64) (bool, error) {
	st, err := c.rpc.GetSignatureStatus(ctx, sig)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Debug().Err(err).Str("tx", maskShort(sig)).Msg("get signature status")
		}
		return false, nil
	}
	if st != nil {
		if st.Err != nil {
			return true, workflow.Rejected(op, fmt.Errorf("transaction %s failed: %v", sig, st.Err))
		}
		if st.ConfirmationStatus != nil {
			switch *st.ConfirmationStatus {
			case rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
				return true, nil
			}
		}
		return false, nil
	}

	height, err := c.blockHeight(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Debug().Err(err).Msg("get block height")
		}
		return false, nil
	}
	if lastValid > 0 && height > lastValid {
		return true, workflow.Transient(op, fmt.Errorf("%w: %s (block height %d > %d)", ErrBlockhashExpired, sig, height, lastValid))
	}
	return false, nil
}

func (c *Client) blockHeight(ctx context.Context) (uint64, error) {
	res, err := c.rpc.RpcClient.GetBlockHeightWithConfig(ctx, rpc.GetBlockHeightConfig{Commitment: rpc.CommitmentConfirmed})
	if err != nil {
		return 0, err
	}
	if err := res.GetError(); err != nil {
		return 0, err
	}
	return res.GetResult(), nil
}
