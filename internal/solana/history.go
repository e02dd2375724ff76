package solana

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/rpc"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/trungdo2789/mpl-candy/internal/retry"
)

const (
	defaultSignaturePage = 100
	maxSignaturePage     = 1000

	// LamportsPerSOL converts lamports to SOL.
	LamportsPerSOL = 1_000_000_000

	systemTransferIndex = 2
)

var systemProgram = common.SystemProgramID.ToBase58()

// Transfer is one native SOL transfer instruction.
type Transfer struct {
	Signature string    `json:"signature"`
	Slot      uint64    `json:"slot"`
	BlockTime time.Time `json:"block_time"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Lamports  uint64    `json:"lamports"`
	SOL       float64   `json:"sol"`
}

// SignatureInfo is one entry of getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	BlockTime time.Time
	Failed    bool
}

// Instruction is a compiled instruction with its program resolved.
type Instruction struct {
	Program  string
	Accounts []string
	Data     []byte
}

// TxInfo is the part of a confirmed transaction the history reader needs.
type TxInfo struct {
	Signature    string
	Slot         uint64
	BlockTime    time.Time
	Failed       bool
	Instructions []Instruction
}

// HistorySource reads address history. Satisfied by the RPC adapter and by
// test fakes.
type HistorySource interface {
	Signatures(ctx context.Context, address, before string, limit int) ([]SignatureInfo, error)
	Transaction(ctx context.Context, signature string) (*TxInfo, error)
}

// HistoryOptions tunes ReadTransfers.
type HistoryOptions struct {
	// Since drops transactions older than this. Zero reads everything.
	Since time.Time
	// PageSize is the signatures page size, clamped to 1..1000. Zero means 100.
	PageSize int
	// Concurrency bounds parallel transaction fetches. Zero means 10.
	Concurrency int
	// Retry applies to each transaction fetch. Zero value means 5 attempts.
	Retry retry.Policy
}

func (o HistoryOptions) withDefaults() HistoryOptions {
	switch {
	case o.PageSize <= 0:
		o.PageSize = defaultSignaturePage
	case o.PageSize > maxSignaturePage:
		o.PageSize = maxSignaturePage
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 10
	}
	if o.Retry == (retry.Policy{}) {
		o.Retry = retry.Policy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}
	}
	return o
}

// ReadTransfers pages backwards through address history and returns native
// SOL transfers, newest first. Failed transactions are skipped.
func ReadTransfers(ctx context.Context, src HistorySource, address string, opts HistoryOptions, log zerolog.Logger) ([]Transfer, error) {
	opts = opts.withDefaults()

	sigs, err := collectSignatures(ctx, src, address, opts)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("address", address).Int("signatures", len(sigs)).Msg("signatures collected")

	results := make([][]Transfer, len(sigs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, sig := range sigs {
		g.Go(func() error {
			var tx *TxInfo
			err := retry.Do(gctx, opts.Retry, func(ctx context.Context, attempt int) error {
				var err error
				tx, err = src.Transaction(ctx, sig)
				if err != nil {
					log.Warn().Err(err).Str("signature", sig).Int("attempt", attempt).Msg("fetch transaction")
				}
				return err
			})
			if err != nil {
				return fmt.Errorf("fetch transaction %s: %w", sig, err)
			}
			if tx == nil || tx.Failed {
				return nil
			}
			results[i] = ParseTransfers(tx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Transfer
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// collectSignatures returns successful signatures at or after opts.Since,
// newest first.
func collectSignatures(ctx context.Context, src HistorySource, address string, opts HistoryOptions) ([]string, error) {
	var (
		out    []string
		before string
	)
	for {
		page, err := src.Signatures(ctx, address, before, opts.PageSize)
		if err != nil {
			return nil, fmt.Errorf("get signatures for %s: %w", address, err)
		}
		for _, s := range page {
			if s.Failed {
				continue
			}
			if !opts.Since.IsZero() && !s.BlockTime.IsZero() && s.BlockTime.Before(opts.Since) {
				continue
			}
			out = append(out, s.Signature)
		}
		if len(page) < opts.PageSize {
			return out, nil
		}
		oldest := page[len(page)-1]
		if !opts.Since.IsZero() && !oldest.BlockTime.IsZero() && oldest.BlockTime.Before(opts.Since) {
			return out, nil
		}
		before = oldest.Signature
	}
}

// ParseTransfers extracts system program transfer instructions.
func ParseTransfers(tx *TxInfo) []Transfer {
	var out []Transfer
	for _, ins := range tx.Instructions {
		if ins.Program != systemProgram || len(ins.Accounts) < 2 || len(ins.Data) != 12 {
			continue
		}
		if binary.LittleEndian.Uint32(ins.Data[:4]) != systemTransferIndex {
			continue
		}
		lamports := binary.LittleEndian.Uint64(ins.Data[4:])
		out = append(out, Transfer{
			Signature: tx.Signature,
			Slot:      tx.Slot,
			BlockTime: tx.BlockTime,
			From:      ins.Accounts[0],
			To:        ins.Accounts[1],
			Lamports:  lamports,
			SOL:       float64(lamports) / LamportsPerSOL,
		})
	}
	return out
}

// RPCHistory adapts a blocto client to HistorySource.
type RPCHistory struct {
	RPC *client.Client
}

// Signatures implements HistorySource.
func (h RPCHistory) Signatures(ctx context.Context, address, before string, limit int) ([]SignatureInfo, error) {
	res, err := h.RPC.GetSignaturesForAddressWithConfig(ctx, address, client.GetSignaturesForAddressConfig{
		Limit:      limit,
		Before:     before,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, err
	}
	out := make([]SignatureInfo, 0, len(res))
	for _, s := range res {
		info := SignatureInfo{Signature: s.Signature, Failed: s.Err != nil}
		if s.BlockTime != nil {
			info.BlockTime = time.Unix(*s.BlockTime, 0).UTC()
		}
		out = append(out, info)
	}
	return out, nil
}

// Transaction implements HistorySource. Returns nil for unknown signatures.
func (h RPCHistory) Transaction(ctx context.Context, signature string) (*TxInfo, error) {
	tx, err := h.RPC.GetTransaction(ctx, signature)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, nil
	}

	msg := tx.Transaction.Message
	keys := make([]string, len(msg.Accounts))
	for i, k := range msg.Accounts {
		keys[i] = k.ToBase58()
	}
	info := &TxInfo{
		Signature: signature,
		Slot:      tx.Slot,
		Failed:    tx.Meta != nil && tx.Meta.Err != nil,
	}
	if tx.BlockTime != nil {
		info.BlockTime = time.Unix(*tx.BlockTime, 0).UTC()
	}
	for _, ci := range msg.Instructions {
		if ci.ProgramIDIndex >= len(keys) {
			continue
		}
		ins := Instruction{Program: keys[ci.ProgramIDIndex], Data: ci.Data}
		for _, idx := range ci.Accounts {
			// Accounts loaded from lookup tables are not in the static key list.
			if idx >= len(keys) {
				ins.Accounts = nil
				break
			}
			ins.Accounts = append(ins.Accounts, keys[idx])
		}
		info.Instructions = append(info.Instructions, ins)
	}
	return info, nil
}

func (c *Client) signaturePage(ctx context.Context, address, before string, limit int) ([]SignatureInfo, error) {
	return RPCHistory{RPC: c.rpc}.Signatures(ctx, address, before, limit)
}
