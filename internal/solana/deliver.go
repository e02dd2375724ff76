package solana

import (
	"context"
	"errors"
	"fmt"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/associated_token_account"
	"github.com/blocto/solana-go-sdk/program/token"
	"github.com/blocto/solana-go-sdk/rpc"
	"github.com/blocto/solana-go-sdk/types"

	"github.com/trungdo2789/mpl-candy/internal/workflow"
)

// ErrSourceEmpty is returned when the authority does not hold the token to deliver.
var ErrSourceEmpty = errors.New("authority token account is empty")

// Deliver transfers the asset from the authority's associated token account
// to the recipient's, creating the destination account when missing.
//
// If the recipient already holds the token, the newest signature on the
// destination account is returned as the proof and nothing is sent. A sent
// transfer is returned only once it reaches confirmed commitment.
func (c *Client) Deliver(ctx context.Context, assetID, recipient string) (string, error) {
	mint := common.PublicKeyFromString(assetID)
	owner := common.PublicKeyFromString(recipient)
	if mint == (common.PublicKey{}) || owner == (common.PublicKey{}) {
		return "", workflow.Rejected(workflow.OpDeliver, fmt.Errorf("invalid address: asset=%q recipient=%q", assetID, recipient))
	}

	fromATA, _, err := common.FindAssociatedTokenAddress(c.authority.PublicKey, mint)
	if err != nil {
		return "", workflow.Rejected(workflow.OpDeliver, fmt.Errorf("derive source token account: %w", err))
	}
	toATA, _, err := common.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return "", workflow.Rejected(workflow.OpDeliver, fmt.Errorf("derive destination token account: %w", err))
	}

	held, toExists, err := c.tokenBalance(ctx, toATA.ToBase58())
	if err != nil {
		return "", classify(workflow.OpDeliver, fmt.Errorf("check destination token account: %w", err))
	}
	if held >= 1 {
		proof, err := c.newestSignature(ctx, toATA.ToBase58())
		if err != nil {
			return "", classify(workflow.OpDeliver, fmt.Errorf("get destination signatures: %w", err))
		}
		c.log.Info().Str("asset", maskShort(assetID)).Str("recipient", maskShort(recipient)).Msg("recipient already holds asset")
		return proof, nil
	}

	balance, fromExists, err := c.tokenBalance(ctx, fromATA.ToBase58())
	if err != nil {
		return "", classify(workflow.OpDeliver, fmt.Errorf("check source token account: %w", err))
	}
	if !fromExists || balance == 0 {
		return "", workflow.Rejected(workflow.OpDeliver, fmt.Errorf("%w: %s", ErrSourceEmpty, fromATA.ToBase58()))
	}

	ins := make([]types.Instruction, 0, 2)
	if !toExists {
		ins = append(ins, associated_token_account.CreateAssociatedTokenAccount(associated_token_account.CreateAssociatedTokenAccountParam{
			Funder:                 c.authority.PublicKey,
			Owner:                  owner,
			Mint:                   mint,
			AssociatedTokenAccount: toATA,
		}))
	}
	ins = append(ins, token.Transfer(token.TransferParam{
		From:   fromATA,
		To:     toATA,
		Auth:   c.authority.PublicKey,
		Amount: 1,
	}))

	latest, err := c.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", classify(workflow.OpDeliver, fmt.Errorf("get latest blockhash: %w", err))
	}
	tx, err := types.NewTransaction(types.NewTransactionParam{
		Message: types.NewMessage(types.NewMessageParam{
			FeePayer:        c.authority.PublicKey,
			RecentBlockhash: latest.Blockhash,
			Instructions:    ins,
		}),
		Signers: []types.Account{c.authority},
	})
	if err != nil {
		return "", workflow.Rejected(workflow.OpDeliver, fmt.Errorf("build transaction: %w", err))
	}

	sig, err := c.rpc.SendTransaction(ctx, tx)
	if err != nil {
		return "", classify(workflow.OpDeliver, fmt.Errorf("send transfer transaction: %w", err))
	}
	if err := c.awaitConfirmation(ctx, workflow.OpDeliver, sig, latest.LatestValidBlockHeight); err != nil {
		return "", err
	}

	c.log.Info().
		Str("asset", maskShort(assetID)).
		Str("recipient", maskShort(recipient)).
		Bool("created_ata", !toExists).
		Str("tx", maskShort(sig)).
		Msg("delivery confirmed")
	return sig, nil
}

// tokenBalance returns the amount held by an SPL token account and whether
// the account exists.
func (c *Client) tokenBalance(ctx context.Context, address string) (uint64, bool, error) {
	info, err := c.rpc.GetAccountInfoWithConfig(ctx, address, client.GetAccountInfoConfig{Commitment: rpc.CommitmentConfirmed})
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if len(info.Data) == 0 {
		return 0, false, nil
	}
	acct, err := token.TokenAccountFromData(info.Data)
	if err != nil {
		return 0, true, fmt.Errorf("decode token account %s: %w", address, err)
	}
	return acct.Amount, true, nil
}
