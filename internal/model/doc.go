// Package model defines the records shared by the allocation ledger and the
// mint-and-deliver workflow.
//
// An AllocationTarget is a recipient's entitlement: the number of assets that
// recipient should end up owning. A MintRecord is one attempted unit of that
// entitlement. The two proofs on a MintRecord are the only source of truth for
// progress:
//
//   - MintProof == nil: the mint was requested (or is about to be) but not
//     confirmed. The record is not counted against the recipient's quota and
//     must be verified or retried with its stored secret.
//   - MintProof != nil, DeliveryProof == nil: the asset exists but is still
//     owned by the distributor. Only a delivery retry is allowed.
//   - both set: the unit is done.
//
// AssetIDs are never reused. A retry of a slot re-signs with the secret that
// was persisted before the first attempt, so the same AssetID comes back.
package model
