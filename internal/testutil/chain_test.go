package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trungdo2789/mpl-candy/internal/workflow"
)

func mintReq(asset, recipient string) workflow.MintRequest {
	return workflow.MintRequest{Channel: "pre", AssetID: asset, Secret: SecretFor(asset), Recipient: recipient, Ordinal: 1}
}

func TestFakeChain_MintLookupDeliver(t *testing.T) {
	ctx := context.Background()
	c := NewFakeChain()

	_, found, err := c.LookupMint(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, found)

	proof, err := c.RequestMint(ctx, mintReq("a1", "alice"))
	require.NoError(t, err)
	assert.Equal(t, "mint-sig-0001", proof)

	got, found, err := c.LookupMint(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, proof, got)

	dproof, err := c.Deliver(ctx, "a1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "xfer-sig-0002", dproof)

	// Repeat delivery to the same recipient returns the original proof.
	again, err := c.Deliver(ctx, "a1", "alice")
	require.NoError(t, err)
	assert.Equal(t, dproof, again)

	assert.Equal(t, 1, c.MintedFor("alice"))
	assert.Equal(t, 1, c.DeliveredTo("alice"))
	assert.Equal(t, 1, c.CallCount(workflow.OpMint, "alice"))
	assert.Equal(t, 2, c.CallCount(workflow.OpDeliver, ""))
}

func TestFakeChain_RemintRejected(t *testing.T) {
	ctx := context.Background()
	c := NewFakeChain()

	_, err := c.RequestMint(ctx, mintReq("a1", "alice"))
	require.NoError(t, err)

	_, err = c.RequestMint(ctx, mintReq("a1", "alice"))
	assert.True(t, workflow.IsRejected(err))
	assert.Equal(t, 1, c.MintedFor("alice"))
}

func TestFakeChain_SignerMismatch(t *testing.T) {
	ctx := context.Background()
	c := NewFakeChain(Fault{Op: workflow.OpMint, Kind: FaultTransient, Times: 1})

	_, err := c.RequestMint(ctx, mintReq("a1", "alice"))
	require.True(t, workflow.IsTransient(err))

	req := mintReq("a1", "alice")
	req.Secret = []byte("different")
	_, err = c.RequestMint(ctx, req)
	assert.True(t, workflow.IsRejected(err))
	assert.False(t, c.HasAsset("a1"))
}

func TestFakeChain_FaultTimes(t *testing.T) {
	ctx := context.Background()
	c := NewFakeChain(Fault{Op: workflow.OpDeliver, Recipient: "bob", Kind: FaultTransient, Times: 2})

	_, err := c.RequestMint(ctx, mintReq("a1", "bob"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := c.Deliver(ctx, "a1", "bob")
		assert.True(t, workflow.IsTransient(err), "call %d", i)
	}
	_, err = c.Deliver(ctx, "a1", "bob")
	assert.NoError(t, err)
}

func TestFakeChain_FaultRecipientFilter(t *testing.T) {
	ctx := context.Background()
	c := NewFakeChain(Fault{Op: workflow.OpMint, Recipient: "bob", Kind: FaultRejected})

	_, err := c.RequestMint(ctx, mintReq("a1", "alice"))
	assert.NoError(t, err)

	_, err = c.RequestMint(ctx, mintReq("b1", "bob"))
	assert.True(t, workflow.IsRejected(err))
	_, err = c.RequestMint(ctx, mintReq("b1", "bob"))
	assert.True(t, workflow.IsRejected(err), "times=0 fails every call")
}

func TestFakeChain_LostConfirmation(t *testing.T) {
	ctx := context.Background()
	c := NewFakeChain(
		Fault{Op: workflow.OpMint, Kind: FaultLostConfirmation, Times: 1},
		Fault{Op: workflow.OpDeliver, Kind: FaultLostConfirmation, Times: 1},
	)

	_, err := c.RequestMint(ctx, mintReq("a1", "alice"))
	assert.True(t, workflow.IsTransient(err))
	assert.True(t, c.HasAsset("a1"), "effect applied despite error")

	_, err = c.Deliver(ctx, "a1", "alice")
	assert.True(t, workflow.IsTransient(err))
	assert.Equal(t, 1, c.DeliveredTo("alice"))

	proof, err := c.Deliver(ctx, "a1", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, proof)
}

func TestFakeChain_DeliverMissingAsset(t *testing.T) {
	c := NewFakeChain()
	_, err := c.Deliver(context.Background(), "ghost", "alice")
	assert.True(t, workflow.IsRejected(err))
}

func TestFakeChain_MintExternally(t *testing.T) {
	c := NewFakeChain()
	proof := c.MintExternally("a1", "alice", SecretFor("a1"))

	got, found, err := c.LookupMint(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, proof, got)
}

func TestFakeChain_CallString(t *testing.T) {
	call := Call{Seq: 3, Op: "mint", AssetID: "asset-0001", Recipient: "alice", Outcome: "mint-sig-0001"}
	assert.Equal(t, "003 mint    asset-0001 alice -> mint-sig-0001", call.String())

	call = Call{Seq: 4, Op: "lookup", AssetID: "asset-0002", Outcome: "absent"}
	assert.Equal(t, "004 lookup  asset-0002 -> absent", call.String())
}

func TestSequentialIdentities(t *testing.T) {
	ids := NewSequentialIdentities("")

	id1, s1, err := ids.NewIdentity()
	require.NoError(t, err)
	id2, s2, err := ids.NewIdentity()
	require.NoError(t, err)

	assert.Equal(t, "asset-0001", id1)
	assert.Equal(t, "asset-0002", id2)
	assert.Equal(t, SecretFor(id1), s1)
	assert.NotEqual(t, s1, s2)
	assert.Equal(t, 2, ids.Issued())

	ids.FailWith(ErrInjected)
	_, _, err = ids.NewIdentity()
	assert.ErrorIs(t, err, ErrInjected)
}

func TestStepClock(t *testing.T) {
	c := NewStepClock(0)
	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch.Add(1e9), c.Now())
	assert.Equal(t, Epoch.Add(2e9), c.Peek())
	c.Reset()
	assert.Equal(t, Epoch, c.Peek())
}
