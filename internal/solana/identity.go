package solana

import (
	"github.com/blocto/solana-go-sdk/types"
)

// Identities generates fresh mint keypairs. The asset id is the mint address.
//
// Implements workflow.IdentitySource.
type Identities struct{}

// NewIdentity returns a new mint address and its 64-byte keypair.
func (Identities) NewIdentity() (string, []byte, error) {
	acc := types.NewAccount()
	return acc.PublicKey.ToBase58(), append([]byte(nil), acc.PrivateKey...), nil
}
