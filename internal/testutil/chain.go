package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/trungdo2789/mpl-candy/internal/workflow"
)

// FaultKind is the failure a Fault injects.
type FaultKind string

const (
	// FaultTransient fails the call with a transient error and no effect.
	FaultTransient FaultKind = "transient"
	// FaultRejected fails the call with a rejected error and no effect.
	FaultRejected FaultKind = "rejected"
	// FaultLostConfirmation applies the call's effect, then reports a
	// transient error as if the response was lost.
	FaultLostConfirmation FaultKind = "lost_confirmation"
)

// Fault scripts a failure for calls matching Op and Recipient.
type Fault struct {
	Op        string    `yaml:"op" json:"op"`
	Recipient string    `yaml:"recipient,omitempty" json:"recipient,omitempty"`
	Kind      FaultKind `yaml:"kind" json:"kind"`
	// Times is how many matching calls fail. Zero means every call.
	Times int `yaml:"times,omitempty" json:"times,omitempty"`
}

// ErrInjected is the cause of every scripted failure.
var ErrInjected = errors.New("injected fault")

// Call is one collaborator call seen by FakeChain.
type Call struct {
	Seq       int
	Op        string
	AssetID   string
	Recipient string
	Outcome   string
}

func (c Call) String() string {
	if c.Recipient == "" {
		return fmt.Sprintf("%03d %-7s %s -> %s", c.Seq, c.Op, c.AssetID, c.Outcome)
	}
	return fmt.Sprintf("%03d %-7s %s %s -> %s", c.Seq, c.Op, c.AssetID, c.Recipient, c.Outcome)
}

type fakeAsset struct {
	recipient     string
	secret        []byte
	mintProof     string
	deliveredTo   string
	deliveryProof string
}

type faultState struct {
	Fault
	used int
}

// FakeChain is an in-memory distribution mechanism with scripted faults.
//
// Mints are keyed by asset id and signed by a secret: re-minting an existing
// asset is rejected, as on chain, and so is a retry that presents a different
// secret for an asset id seen before. Delivery of an already delivered asset
// returns the original proof.
//
// Implements workflow.MintRequester and workflow.DeliveryExecutor.
//
// Thread-safety: FakeChain is safe for concurrent use via internal mutex.
type FakeChain struct {
	mu      sync.Mutex
	assets  map[string]*fakeAsset
	owners  map[string]string // asset -> recipient from the first mint request
	secrets map[string][]byte // asset -> secret from the first mint request
	faults  []*faultState
	calls   []Call
	txSeq   int
}

// NewFakeChain creates a chain with the given faults. Faults are matched in
// order; the first live match wins.
func NewFakeChain(faults ...Fault) *FakeChain {
	c := &FakeChain{
		assets:  make(map[string]*fakeAsset),
		owners:  make(map[string]string),
		secrets: make(map[string][]byte),
	}
	for _, f := range faults {
		c.faults = append(c.faults, &faultState{Fault: f})
	}
	return c
}

// RequestMint implements workflow.MintRequester.
func (c *FakeChain) RequestMint(ctx context.Context, req workflow.MintRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.owners[req.AssetID]; !ok {
		c.owners[req.AssetID] = req.Recipient
		c.secrets[req.AssetID] = append([]byte(nil), req.Secret...)
	} else if !bytes.Equal(c.secrets[req.AssetID], req.Secret) {
		c.record(workflow.OpMint, req.AssetID, req.Recipient, "rejected: signer mismatch")
		return "", workflow.Rejected(workflow.OpMint, fmt.Errorf("asset %s: signer mismatch", req.AssetID))
	}

	fault := c.matchFault(workflow.OpMint, req.Recipient)
	switch {
	case fault == FaultTransient || fault == FaultRejected:
		c.record(workflow.OpMint, req.AssetID, req.Recipient, string(fault))
		return "", faultError(workflow.OpMint, fault)
	case c.assets[req.AssetID] != nil:
		c.record(workflow.OpMint, req.AssetID, req.Recipient, "rejected: already minted")
		return "", workflow.Rejected(workflow.OpMint, fmt.Errorf("asset %s already in use", req.AssetID))
	}

	proof := c.nextSig("mint")
	c.assets[req.AssetID] = &fakeAsset{
		recipient: req.Recipient,
		secret:    append([]byte(nil), req.Secret...),
		mintProof: proof,
	}
	if fault == FaultLostConfirmation {
		c.record(workflow.OpMint, req.AssetID, req.Recipient, "minted, confirmation lost")
		return "", faultError(workflow.OpMint, FaultTransient)
	}
	c.record(workflow.OpMint, req.AssetID, req.Recipient, proof)
	return proof, nil
}

// LookupMint implements workflow.MintRequester.
func (c *FakeChain) LookupMint(ctx context.Context, assetID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	recipient := c.owners[assetID]
	if fault := c.matchFault(workflow.OpLookup, recipient); fault != "" {
		c.record(workflow.OpLookup, assetID, recipient, string(fault))
		return "", false, faultError(workflow.OpLookup, fault)
	}
	a := c.assets[assetID]
	if a == nil {
		c.record(workflow.OpLookup, assetID, recipient, "absent")
		return "", false, nil
	}
	c.record(workflow.OpLookup, assetID, recipient, "found "+a.mintProof)
	return a.mintProof, true, nil
}

// Deliver implements workflow.DeliveryExecutor.
func (c *FakeChain) Deliver(ctx context.Context, assetID, recipient string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	fault := c.matchFault(workflow.OpDeliver, recipient)
	if fault == FaultTransient || fault == FaultRejected {
		c.record(workflow.OpDeliver, assetID, recipient, string(fault))
		return "", faultError(workflow.OpDeliver, fault)
	}

	a := c.assets[assetID]
	switch {
	case a == nil:
		c.record(workflow.OpDeliver, assetID, recipient, "rejected: no such asset")
		return "", workflow.Rejected(workflow.OpDeliver, fmt.Errorf("asset %s does not exist", assetID))
	case a.deliveredTo == recipient:
		c.record(workflow.OpDeliver, assetID, recipient, "already "+a.deliveryProof)
		return a.deliveryProof, nil
	case a.deliveredTo != "":
		c.record(workflow.OpDeliver, assetID, recipient, "rejected: held by "+a.deliveredTo)
		return "", workflow.Rejected(workflow.OpDeliver, fmt.Errorf("asset %s already delivered to %s", assetID, a.deliveredTo))
	}

	a.deliveredTo = recipient
	a.deliveryProof = c.nextSig("xfer")
	if fault == FaultLostConfirmation {
		c.record(workflow.OpDeliver, assetID, recipient, "delivered, confirmation lost")
		return "", faultError(workflow.OpDeliver, FaultTransient)
	}
	c.record(workflow.OpDeliver, assetID, recipient, a.deliveryProof)
	return a.deliveryProof, nil
}

// matchFault consumes one use of the first live fault matching op and
// recipient. Must hold c.mu.
func (c *FakeChain) matchFault(op, recipient string) FaultKind {
	for _, f := range c.faults {
		if f.Op != op {
			continue
		}
		if f.Recipient != "" && f.Recipient != recipient {
			continue
		}
		if f.Times > 0 && f.used >= f.Times {
			continue
		}
		f.used++
		return f.Kind
	}
	return ""
}

func faultError(op string, kind FaultKind) error {
	if kind == FaultRejected {
		return workflow.Rejected(op, ErrInjected)
	}
	return workflow.Transient(op, ErrInjected)
}

// Must hold c.mu.
func (c *FakeChain) nextSig(prefix string) string {
	c.txSeq++
	return fmt.Sprintf("%s-sig-%04d", prefix, c.txSeq)
}

// Must hold c.mu.
func (c *FakeChain) record(op, assetID, recipient, outcome string) {
	c.calls = append(c.calls, Call{
		Seq:       len(c.calls) + 1,
		Op:        op,
		AssetID:   assetID,
		Recipient: recipient,
		Outcome:   outcome,
	})
}

// Calls returns a copy of every call in order.
func (c *FakeChain) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallCount returns the number of calls for op, optionally filtered by
// recipient ("" matches all).
func (c *FakeChain) CallCount(op, recipient string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Op == op && (recipient == "" || call.Recipient == recipient) {
			n++
		}
	}
	return n
}

// MintedFor returns the number of assets on chain minted for recipient.
func (c *FakeChain) MintedFor(recipient string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, a := range c.assets {
		if a.recipient == recipient {
			n++
		}
	}
	return n
}

// DeliveredTo returns the number of assets held by recipient.
func (c *FakeChain) DeliveredTo(recipient string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, a := range c.assets {
		if a.deliveredTo == recipient {
			n++
		}
	}
	return n
}

// HasAsset reports whether assetID exists on chain.
func (c *FakeChain) HasAsset(assetID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assets[assetID] != nil
}

// SecretOf returns the secret assetID was first requested with.
func (c *FakeChain) SecretOf(assetID string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.secrets[assetID]...)
}

// MintExternally creates assetID on chain without a RequestMint call, as if
// an earlier process minted it before crashing.
func (c *FakeChain) MintExternally(assetID, recipient string, secret []byte) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	proof := c.nextSig("mint")
	c.assets[assetID] = &fakeAsset{recipient: recipient, secret: append([]byte(nil), secret...), mintProof: proof}
	c.owners[assetID] = recipient
	c.secrets[assetID] = append([]byte(nil), secret...)
	return proof
}
