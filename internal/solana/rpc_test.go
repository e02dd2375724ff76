package solana

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/token"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trungdo2789/mpl-candy/internal/workflow"
)

const lastValidHeight = 100

type nodeAccount struct {
	lamports uint64
	owner    common.PublicKey
	data     []byte
}

// fakeNode answers the JSON-RPC methods the Client uses.
type fakeNode struct {
	mu         sync.Mutex
	calls      []string
	accounts   map[string]nodeAccount
	signatures map[string][]string // newest first
	blockhash  string
	height     uint64
	sendSig    string
	sendErr    map[string]any
	// statuses are returned in order; the last one repeats.
	statuses []any
}

func newFakeNode(t *testing.T) (*fakeNode, *Client) {
	t.Helper()
	n := &fakeNode{
		accounts:   map[string]nodeAccount{},
		signatures: map[string][]string{},
		blockhash:  types.NewAccount().PublicKey.ToBase58(),
		height:     10,
		sendSig:    "sent-sig",
		statuses:   []any{confirmedStatus("confirmed")},
	}
	srv := httptest.NewServer(n)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		RPCURL:          srv.URL,
		RPCRetries:      -1,
		ConfirmInterval: time.Millisecond,
		ConfirmTimeout:  2 * time.Second,
	}, types.NewAccount(), zerolog.Nop())
	require.NoError(t, err)
	return n, c
}

func confirmedStatus(level string) map[string]any {
	return map[string]any{"slot": 1, "confirmations": nil, "err": nil, "confirmationStatus": level}
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls = append(n.calls, req.Method)
	result, rpcErr := n.answer(req.Method, req.Params)
	n.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func withContext(v any) map[string]any {
	return map[string]any{"context": map[string]any{"slot": 1}, "value": v}
}

func (n *fakeNode) answer(method string, params []json.RawMessage) (any, map[string]any) {
	address := func() string {
		var s string
		if len(params) > 0 {
			_ = json.Unmarshal(params[0], &s)
		}
		return s
	}

	switch method {
	case "getMinimumBalanceForRentExemption":
		return 1461600, nil
	case "getLatestBlockhash":
		return withContext(map[string]any{"blockhash": n.blockhash, "lastValidBlockHeight": lastValidHeight}), nil
	case "sendTransaction":
		if n.sendErr != nil {
			return nil, n.sendErr
		}
		return n.sendSig, nil
	case "getSignatureStatuses":
		st := n.statuses[0]
		if len(n.statuses) > 1 {
			n.statuses = n.statuses[1:]
		}
		return withContext([]any{st}), nil
	case "getBlockHeight":
		return n.height, nil
	case "getAccountInfo":
		acc, ok := n.accounts[address()]
		if !ok {
			return withContext(nil), nil
		}
		return withContext(map[string]any{
			"data":       []any{base64.StdEncoding.EncodeToString(acc.data), "base64"},
			"executable": false,
			"lamports":   acc.lamports,
			"owner":      acc.owner.ToBase58(),
			"rentEpoch":  0,
		}), nil
	case "getSignaturesForAddress":
		var cfg struct {
			Limit int `json:"limit"`
		}
		if len(params) > 1 {
			_ = json.Unmarshal(params[1], &cfg)
		}
		sigs := n.signatures[address()]
		if cfg.Limit > 0 && len(sigs) > cfg.Limit {
			sigs = sigs[:cfg.Limit]
		}
		out := make([]any, 0, len(sigs))
		for _, s := range sigs {
			out = append(out, map[string]any{"signature": s, "slot": 1, "err": nil, "memo": nil, "blockTime": 1700000000})
		}
		return out, nil
	}
	return nil, map[string]any{"code": -32601, "message": "method not found: " + method}
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.calls {
		if m == method {
			c++
		}
	}
	return c
}

func (n *fakeNode) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func (n *fakeNode) set(fn func(n *fakeNode)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fn(n)
}

func tokenAccountData(mint, owner common.PublicKey, amount uint64) []byte {
	data := make([]byte, token.TokenAccountSize)
	copy(data[:32], mint.Bytes())
	copy(data[32:64], owner.Bytes())
	binary.LittleEndian.PutUint64(data[64:72], amount)
	data[108] = 1
	return data
}

func newMintRequest(t *testing.T) workflow.MintRequest {
	t.Helper()
	id, secret, err := Identities{}.NewIdentity()
	require.NoError(t, err)
	return workflow.MintRequest{
		Channel:   "pre",
		AssetID:   id,
		Secret:    secret,
		Recipient: types.NewAccount().PublicKey.ToBase58(),
	}
}

func TestRequestMint_WaitsForConfirmation(t *testing.T) {
	n, c := newFakeNode(t)
	n.statuses = []any{nil, confirmedStatus("processed"), confirmedStatus("confirmed")}

	proof, err := c.RequestMint(context.Background(), newMintRequest(t))
	require.NoError(t, err)
	assert.Equal(t, "sent-sig", proof)
	assert.Equal(t, 1, n.count("sendTransaction"))
	assert.Equal(t, 3, n.count("getSignatureStatuses"))
}

func TestRequestMint_Finalized(t *testing.T) {
	n, c := newFakeNode(t)
	n.statuses = []any{confirmedStatus("finalized")}

	proof, err := c.RequestMint(context.Background(), newMintRequest(t))
	require.NoError(t, err)
	assert.Equal(t, "sent-sig", proof)
}

func TestRequestMint_DroppedIsTransient(t *testing.T) {
	n, c := newFakeNode(t)
	n.statuses = []any{nil}
	n.height = lastValidHeight + 100

	proof, err := c.RequestMint(context.Background(), newMintRequest(t))
	require.Error(t, err)
	assert.Empty(t, proof)
	assert.ErrorIs(t, err, ErrBlockhashExpired)
	assert.True(t, workflow.IsTransient(err))
	assert.False(t, workflow.IsRejected(err))
}

func TestRequestMint_FailedIsRejected(t *testing.T) {
	n, c := newFakeNode(t)
	n.statuses = []any{map[string]any{
		"slot": 1, "confirmations": nil, "confirmationStatus": "confirmed",
		"err": map[string]any{"InstructionError": []any{0, map[string]any{"Custom": 0}}},
	}}

	proof, err := c.RequestMint(context.Background(), newMintRequest(t))
	require.Error(t, err)
	assert.Empty(t, proof)
	assert.True(t, workflow.IsRejected(err))
}

func TestRequestMint_ConfirmTimeout(t *testing.T) {
	n, c := newFakeNode(t)
	c.cfg.ConfirmTimeout = 20 * time.Millisecond
	n.statuses = []any{confirmedStatus("processed")}

	_, err := c.RequestMint(context.Background(), newMintRequest(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfirmTimeout)
	assert.True(t, workflow.IsTransient(err))
}

func TestRequestMint_CallerCancelled(t *testing.T) {
	n, c := newFakeNode(t)
	n.statuses = []any{confirmedStatus("processed")}

	// Expires while polling, well before ConfirmTimeout.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := c.RequestMint(ctx, newMintRequest(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrConfirmTimeout)
}

func TestRequestMint_AlreadyInUseUsesExistingProof(t *testing.T) {
	n, c := newFakeNode(t)
	req := newMintRequest(t)
	n.sendErr = map[string]any{
		"code":    -32002,
		"message": "Transaction simulation failed: Error processing Instruction 0: account Address { address: " + req.AssetID + " } already in use",
	}
	n.accounts[req.AssetID] = nodeAccount{lamports: 1461600, owner: common.TokenProgramID, data: make([]byte, token.MintAccountSize)}
	n.signatures[req.AssetID] = []string{"later-sig", "creating-sig"}

	proof, err := c.RequestMint(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "creating-sig", proof)
	assert.Zero(t, n.count("getSignatureStatuses"))
}

func TestRequestMint_AlreadyInUseWithoutAccount(t *testing.T) {
	n, c := newFakeNode(t)
	n.sendErr = map[string]any{"code": -32002, "message": "account already in use"}

	_, err := c.RequestMint(context.Background(), newMintRequest(t))
	require.Error(t, err)
	assert.True(t, workflow.IsRejected(err))
}

func TestRequestMint_BadSecretRejected(t *testing.T) {
	n, c := newFakeNode(t)
	req := newMintRequest(t)
	req.Secret = req.Secret[:10]

	_, err := c.RequestMint(context.Background(), req)
	require.Error(t, err)
	assert.True(t, workflow.IsRejected(err))
	assert.Zero(t, n.total())
}

func TestLookupMint_NotFound(t *testing.T) {
	n, c := newFakeNode(t)

	proof, found, err := c.LookupMint(context.Background(), types.NewAccount().PublicKey.ToBase58())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, proof)
	assert.Zero(t, n.count("getSignaturesForAddress"))
}

func TestLookupMint_Found(t *testing.T) {
	n, c := newFakeNode(t)
	asset := types.NewAccount().PublicKey.ToBase58()
	n.accounts[asset] = nodeAccount{lamports: 1461600, owner: common.TokenProgramID}
	n.signatures[asset] = []string{"third", "second", "first"}

	proof, found, err := c.LookupMint(context.Background(), asset)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "first", proof)
}

func TestLookupMint_NoHistoryIsTransient(t *testing.T) {
	n, c := newFakeNode(t)
	asset := types.NewAccount().PublicKey.ToBase58()
	n.accounts[asset] = nodeAccount{lamports: 1461600, owner: common.TokenProgramID}

	proof, found, err := c.LookupMint(context.Background(), asset)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProofUnavailable)
	assert.True(t, workflow.IsTransient(err))
	assert.False(t, found)
	assert.Empty(t, proof)
}

type deliverySetup struct {
	asset, recipient string
	fromATA, toATA   string
	mint, owner      common.PublicKey
}

func newDeliverySetup(t *testing.T, c *Client) deliverySetup {
	t.Helper()
	mint := types.NewAccount().PublicKey
	owner := types.NewAccount().PublicKey
	from, _, err := common.FindAssociatedTokenAddress(c.authority.PublicKey, mint)
	require.NoError(t, err)
	to, _, err := common.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)
	return deliverySetup{
		asset:     mint.ToBase58(),
		recipient: owner.ToBase58(),
		fromATA:   from.ToBase58(),
		toATA:     to.ToBase58(),
		mint:      mint,
		owner:     owner,
	}
}

func TestDeliver_Confirmed(t *testing.T) {
	n, c := newFakeNode(t)
	d := newDeliverySetup(t, c)
	n.accounts[d.fromATA] = nodeAccount{lamports: 2039280, owner: common.TokenProgramID, data: tokenAccountData(d.mint, c.authority.PublicKey, 1)}
	n.sendSig = "xfer-sig"

	proof, err := c.Deliver(context.Background(), d.asset, d.recipient)
	require.NoError(t, err)
	assert.Equal(t, "xfer-sig", proof)
	assert.Equal(t, 1, n.count("sendTransaction"))
	assert.Equal(t, 1, n.count("getSignatureStatuses"))
}

func TestDeliver_AlreadyHeldSendsNothing(t *testing.T) {
	n, c := newFakeNode(t)
	d := newDeliverySetup(t, c)
	n.accounts[d.toATA] = nodeAccount{lamports: 2039280, owner: common.TokenProgramID, data: tokenAccountData(d.mint, d.owner, 1)}
	n.signatures[d.toATA] = []string{"delivered-sig", "ata-created-sig"}

	proof, err := c.Deliver(context.Background(), d.asset, d.recipient)
	require.NoError(t, err)
	assert.Equal(t, "delivered-sig", proof)
	assert.Zero(t, n.count("sendTransaction"))
	assert.Zero(t, n.count("getSignatureStatuses"))
}

func TestDeliver_DroppedIsTransient(t *testing.T) {
	n, c := newFakeNode(t)
	d := newDeliverySetup(t, c)
	n.accounts[d.fromATA] = nodeAccount{lamports: 2039280, owner: common.TokenProgramID, data: tokenAccountData(d.mint, c.authority.PublicKey, 1)}
	n.statuses = []any{nil}
	n.height = lastValidHeight + 1

	proof, err := c.Deliver(context.Background(), d.asset, d.recipient)
	require.Error(t, err)
	assert.Empty(t, proof)
	assert.ErrorIs(t, err, ErrBlockhashExpired)
	assert.True(t, workflow.IsTransient(err))
}

func TestDeliver_RetryAfterDropLandsOnce(t *testing.T) {
	n, c := newFakeNode(t)
	d := newDeliverySetup(t, c)
	n.accounts[d.fromATA] = nodeAccount{lamports: 2039280, owner: common.TokenProgramID, data: tokenAccountData(d.mint, c.authority.PublicKey, 1)}
	n.statuses = []any{nil}
	n.height = lastValidHeight + 1

	_, err := c.Deliver(context.Background(), d.asset, d.recipient)
	require.Error(t, err)

	// The dropped transfer actually landed late; the retry must notice.
	n.set(func(n *fakeNode) {
		delete(n.accounts, d.fromATA)
		n.accounts[d.toATA] = nodeAccount{lamports: 2039280, owner: common.TokenProgramID, data: tokenAccountData(d.mint, d.owner, 1)}
		n.signatures[d.toATA] = []string{"sent-sig"}
	})

	proof, err := c.Deliver(context.Background(), d.asset, d.recipient)
	require.NoError(t, err)
	assert.Equal(t, "sent-sig", proof)
	assert.Equal(t, 1, n.count("sendTransaction"))
}

func TestDeliver_SourceEmptyRejected(t *testing.T) {
	n, c := newFakeNode(t)
	d := newDeliverySetup(t, c)
	n.accounts[d.fromATA] = nodeAccount{lamports: 2039280, owner: common.TokenProgramID, data: tokenAccountData(d.mint, c.authority.PublicKey, 0)}

	_, err := c.Deliver(context.Background(), d.asset, d.recipient)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceEmpty)
	assert.True(t, workflow.IsRejected(err))
	assert.Zero(t, n.count("sendTransaction"))
}

func TestDeliver_InvalidAddressRejected(t *testing.T) {
	n, c := newFakeNode(t)

	_, err := c.Deliver(context.Background(), "0OIl", types.NewAccount().PublicKey.ToBase58())
	require.Error(t, err)
	assert.True(t, workflow.IsRejected(err))
	assert.Zero(t, n.total())
}

func TestTokenBalance(t *testing.T) {
	n, c := newFakeNode(t)
	mint := types.NewAccount().PublicKey
	held := types.NewAccount().PublicKey.ToBase58()
	broken := types.NewAccount().PublicKey.ToBase58()
	n.accounts[held] = nodeAccount{lamports: 2039280, owner: common.TokenProgramID, data: tokenAccountData(mint, c.authority.PublicKey, 3)}
	n.accounts[broken] = nodeAccount{lamports: 1, owner: common.TokenProgramID, data: []byte{1, 2, 3}}

	amount, exists, err := c.tokenBalance(context.Background(), types.NewAccount().PublicKey.ToBase58())
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Zero(t, amount)

	amount, exists, err = c.tokenBalance(context.Background(), held)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, uint64(3), amount)

	_, exists, err = c.tokenBalance(context.Background(), broken)
	assert.Error(t, err)
	assert.True(t, exists)
}
