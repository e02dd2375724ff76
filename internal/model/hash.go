package model

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Domain prefixes for content digests. The version suffix leaves room for
// changing the layout without colliding with old digests.
const (
	DomainRecipientList = "candy/recipients/v1"
	DomainSlot          = "candy/slot/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ListDigest fingerprints a recipient list so runs can log which list they
// worked from. Order matters: the workflow processes targets FIFO.
func ListDigest(targets []AllocationTarget) string {
	var buf []byte
	for _, t := range targets {
		buf = binary.AppendUvarint(buf, uint64(len(t.Recipient)))
		buf = append(buf, t.Recipient...)
		buf = binary.AppendVarint(buf, int64(t.Quantity))
	}
	return hashWithDomain(DomainRecipientList, buf)
}

// SlotKey identifies the logical slot (recipient, ordinal) independent of the
// asset minted into it.
func SlotKey(recipient string, ordinal int) string {
	var buf []byte
	buf = binary.AppendUvarint(buf, uint64(len(recipient)))
	buf = append(buf, recipient...)
	buf = binary.AppendVarint(buf, int64(ordinal))
	return hashWithDomain(DomainSlot, buf)[:16]
}
