// Package solana implements the workflow collaborators against a Solana RPC
// node using blocto/solana-go-sdk.
//
// A mint creates a Metaplex NFT whose mint account is the asset: the asset id
// is the mint address and the stored secret is the mint account's 64-byte
// keypair. Re-requesting a mint with the same secret targets the same
// address, so a retry can never produce a second asset for one slot.
//
// Minted tokens land in the authority's associated token account. Deliver
// moves them to the recipient's associated token account, creating it when
// missing. Both calls check chain state first and return an existing proof
// when the effect is already there.
package solana
