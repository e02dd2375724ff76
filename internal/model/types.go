package model

import "time"

// DefaultChannel is the guard group used when none is configured.
const DefaultChannel = "pre"

// AllocationTarget is a recipient's entitlement for one run.
type AllocationTarget struct {
	Recipient string `json:"address" yaml:"address"`
	Quantity  int    `json:"amount" yaml:"amount"`
}

// MintRecord is one attempted unit of distribution.
type MintRecord struct {
	Seq           int64     `json:"seq"`
	AssetID       string    `json:"asset_id"`
	Recipient     string    `json:"recipient"`
	Ordinal       int       `json:"ordinal"`
	Channel       string    `json:"channel"`
	MintProof     *string   `json:"mint_proof,omitempty"`
	DeliveryProof *string   `json:"delivery_proof,omitempty"`
	Secret        []byte    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RecordState is the progress of a MintRecord derived from its proofs.
type RecordState string

const (
	StatePending   RecordState = "pending"
	StateMinted    RecordState = "minted"
	StateDelivered RecordState = "delivered"
)

// State derives the record's progress from its proofs.
func (r MintRecord) State() RecordState {
	switch {
	case r.MintProof == nil:
		return StatePending
	case r.DeliveryProof == nil:
		return StateMinted
	default:
		return StateDelivered
	}
}

// Minted reports whether the mint step has been confirmed.
func (r MintRecord) Minted() bool {
	return r.MintProof != nil
}

// Complete reports whether both steps have been confirmed.
func (r MintRecord) Complete() bool {
	return r.MintProof != nil && r.DeliveryProof != nil
}

// Proof returns a pointer to a copy of s, for filling the proof fields.
func Proof(s string) *string {
	return &s
}

// RecipientSummary aggregates ledger rows for one recipient.
type RecipientSummary struct {
	Recipient string `json:"recipient"`
	Attempted int    `json:"attempted"`
	Minted    int    `json:"minted"`
	Delivered int    `json:"delivered"`
}

// Pending is the number of rows still waiting on a mint confirmation.
func (s RecipientSummary) Pending() int {
	return s.Attempted - s.Minted
}

// Undelivered is the number of minted rows not yet delivered.
func (s RecipientSummary) Undelivered() int {
	return s.Minted - s.Delivered
}
