package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/associated_token_account"
	"github.com/blocto/solana-go-sdk/program/metaplex/token_metadata"
	"github.com/blocto/solana-go-sdk/program/system"
	"github.com/blocto/solana-go-sdk/program/token"
	"github.com/blocto/solana-go-sdk/rpc"
	"github.com/blocto/solana-go-sdk/types"

	"github.com/trungdo2789/mpl-candy/internal/workflow"
)

var memoProgramID = common.PublicKeyFromString("MemoSq4gqABAXKb96qnH8TyNoiazBN6yyLtfmXC2fvo5oo")

// ErrProofUnavailable is returned by LookupMint when the mint account exists
// but the node returns no signatures for it.
var ErrProofUnavailable = errors.New("mint account exists but its history is unavailable")

// mintAccountFromSecret restores the mint keypair and checks it matches the
// asset id it was stored under.
func mintAccountFromSecret(assetID string, secret []byte) (types.Account, error) {
	if len(secret) != 64 {
		return types.Account{}, fmt.Errorf("mint secret: want 64 bytes, got %d", len(secret))
	}
	acc, err := types.AccountFromBytes(secret)
	if err != nil {
		return types.Account{}, fmt.Errorf("mint secret: %w", err)
	}
	if got := acc.PublicKey.ToBase58(); got != assetID {
		return types.Account{}, fmt.Errorf("mint secret: signer mismatch: secret is for %s, asset is %s", got, assetID)
	}
	return acc, nil
}

// metadataFor builds the Metaplex data for one asset.
func (c *Client) metadataFor(req workflow.MintRequest) token_metadata.DataV2 {
	col := c.cfg.Collection
	uri := ""
	if col.URIPrefix != "" {
		uri = strings.TrimRight(col.URIPrefix, "/") + "/" + req.AssetID + ".json"
	}
	return token_metadata.DataV2{
		Name:                 col.Name,
		Symbol:               col.Symbol,
		Uri:                  uri,
		SellerFeeBasisPoints: col.SellerFeeBps,
		Creators: &[]token_metadata.Creator{
			{
				Address:  c.authority.PublicKey,
				Verified: true,
				Share:    100,
			},
		},
	}
}

// RequestMint creates the NFT for req.AssetID and mints one token into the
// authority's associated token account.
//
// The mint account is restored from req.Secret, so a retry targets the same
// address. If that address already exists the mint is treated as done and
// the existing proof is returned. Otherwise the signature is returned only
// once it reaches confirmed commitment.
func (c *Client) RequestMint(ctx context.Context, req workflow.MintRequest) (string, error) {
	mint, err := mintAccountFromSecret(req.AssetID, req.Secret)
	if err != nil {
		return "", workflow.Rejected(workflow.OpMint, err)
	}
	payer := c.authority

	ata, _, err := common.FindAssociatedTokenAddress(payer.PublicKey, mint.PublicKey)
	if err != nil {
		return "", workflow.Rejected(workflow.OpMint, fmt.Errorf("find associated token address: %w", err))
	}
	metadataPubkey, err := token_metadata.GetTokenMetaPubkey(mint.PublicKey)
	if err != nil {
		return "", workflow.Rejected(workflow.OpMint, fmt.Errorf("metadata address: %w", err))
	}
	masterEditionPubkey, err := token_metadata.GetMasterEdition(mint.PublicKey)
	if err != nil {
		return "", workflow.Rejected(workflow.OpMint, fmt.Errorf("master edition address: %w", err))
	}

	mintRent, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, token.MintAccountSize)
	if err != nil {
		return "", classify(workflow.OpMint, fmt.Errorf("get rent exemption: %w", err))
	}
	recent, err := c.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", classify(workflow.OpMint, fmt.Errorf("get latest blockhash: %w", err))
	}

	maxSupply := uint64(0)
	instructions := []types.Instruction{
		system.CreateAccount(system.CreateAccountParam{
			From:     payer.PublicKey,
			New:      mint.PublicKey,
			Owner:    common.TokenProgramID,
			Lamports: mintRent,
			Space:    token.MintAccountSize,
		}),
		token.InitializeMint(token.InitializeMintParam{
			Decimals:   0,
			Mint:       mint.PublicKey,
			MintAuth:   payer.PublicKey,
			FreezeAuth: &payer.PublicKey,
		}),
		token_metadata.CreateMetadataAccountV3(token_metadata.CreateMetadataAccountV3Param{
			Metadata:                metadataPubkey,
			Mint:                    mint.PublicKey,
			MintAuthority:           payer.PublicKey,
			UpdateAuthority:         payer.PublicKey,
			Payer:                   payer.PublicKey,
			UpdateAuthorityIsSigner: true,
			IsMutable:               true,
			Data:                    c.metadataFor(req),
		}),
		associated_token_account.CreateAssociatedTokenAccount(associated_token_account.CreateAssociatedTokenAccountParam{
			Funder:                 payer.PublicKey,
			Owner:                  payer.PublicKey,
			Mint:                   mint.PublicKey,
			AssociatedTokenAccount: ata,
		}),
		token.MintTo(token.MintToParam{
			Mint:   mint.PublicKey,
			To:     ata,
			Auth:   payer.PublicKey,
			Amount: 1,
		}),
		token_metadata.CreateMasterEditionV3(token_metadata.CreateMasterEditionParam{
			Edition:         masterEditionPubkey,
			Mint:            mint.PublicKey,
			UpdateAuthority: payer.PublicKey,
			MintAuthority:   payer.PublicKey,
			Metadata:        metadataPubkey,
			Payer:           payer.PublicKey,
			MaxSupply:       &maxSupply,
		}),
	}
	if c.cfg.Memo && req.Channel != "" {
		instructions = append(instructions, memoInstruction(payer.PublicKey, "candy:"+req.Channel))
	}

	tx, err := types.NewTransaction(types.NewTransactionParam{
		Signers: []types.Account{payer, mint},
		Message: types.NewMessage(types.NewMessageParam{
			FeePayer:        payer.PublicKey,
			RecentBlockhash: recent.Blockhash,
			Instructions:    instructions,
		}),
	})
	if err != nil {
		return "", workflow.Rejected(workflow.OpMint, fmt.Errorf("build transaction: %w", err))
	}

	sig, err := c.rpc.SendTransaction(ctx, tx)
	if err != nil {
		if isAlreadyInUse(err) {
			proof, found, lerr := c.LookupMint(ctx, req.AssetID)
			if lerr != nil {
				return "", lerr
			}
			if found {
				c.log.Info().Str("asset", maskShort(req.AssetID)).Msg("mint account already exists; using existing proof")
				return proof, nil
			}
		}
		return "", classify(workflow.OpMint, fmt.Errorf("send mint transaction: %w", err))
	}
	if err := c.awaitConfirmation(ctx, workflow.OpMint, sig, recent.LatestValidBlockHeight); err != nil {
		return "", err
	}

	c.log.Info().
		Str("asset", maskShort(req.AssetID)).
		Str("recipient", maskShort(req.Recipient)).
		Int("ordinal", req.Ordinal).
		Str("tx", maskShort(sig)).
		Msg("mint confirmed")
	return sig, nil
}

// LookupMint reports whether the mint account for assetID exists at
// confirmed commitment. The proof is the oldest signature touching the
// account, which is the creating transaction for any mint with fewer than
// 1000 transactions. An account whose history the node no longer serves is
// a transient ErrProofUnavailable, not a found mint without proof.
func (c *Client) LookupMint(ctx context.Context, assetID string) (string, bool, error) {
	exists, err := c.accountExists(ctx, assetID)
	if err != nil {
		return "", false, classify(workflow.OpLookup, fmt.Errorf("get mint account: %w", err))
	}
	if !exists {
		return "", false, nil
	}
	sig, err := c.oldestSignature(ctx, assetID)
	if err != nil {
		return "", false, classify(workflow.OpLookup, fmt.Errorf("get mint signatures: %w", err))
	}
	if sig == "" {
		return "", false, workflow.Transient(workflow.OpLookup, fmt.Errorf("%w: %s", ErrProofUnavailable, assetID))
	}
	return sig, true, nil
}

func (c *Client) accountExists(ctx context.Context, address string) (bool, error) {
	info, err := c.rpc.GetAccountInfoWithConfig(ctx, address, client.GetAccountInfoConfig{Commitment: rpc.CommitmentConfirmed})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if info.Owner == (common.PublicKey{}) && info.Lamports == 0 {
		return false, nil
	}
	return true, nil
}

func (c *Client) oldestSignature(ctx context.Context, address string) (string, error) {
	page, err := c.signaturePage(ctx, address, "", maxSignaturePage)
	if err != nil {
		return "", err
	}
	if len(page) == 0 {
		return "", nil
	}
	return page[len(page)-1].Signature, nil
}

func (c *Client) newestSignature(ctx context.Context, address string) (string, error) {
	page, err := c.signaturePage(ctx, address, "", 1)
	if err != nil {
		return "", err
	}
	if len(page) == 0 {
		return "", errors.New("no signatures for " + address)
	}
	return page[0].Signature, nil
}

func memoInstruction(signer common.PublicKey, text string) types.Instruction {
	return types.Instruction{
		ProgramID: memoProgramID,
		Accounts: []types.AccountMeta{
			{PubKey: signer, IsSigner: true, IsWritable: false},
		},
		Data: []byte(text),
	}
}
