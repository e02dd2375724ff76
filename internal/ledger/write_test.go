package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestCreatePending_Basic(t *testing.T) {
	l := createTestLedger(t)
	ctx := context.Background()

	rec, err := l.CreatePending(ctx, createTestPending("asset-1", "alice", 1))
	if err != nil {
		t.Fatalf("CreatePending() failed: %v", err)
	}
	if rec.Seq != 1 {
		t.Errorf("Seq = %d, want 1", rec.Seq)
	}
	if rec.MintProof != nil || rec.DeliveryProof != nil {
		t.Error("new record should have no proofs")
	}

	got, err := l.Get(ctx, "asset-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Recipient != "alice" || got.Ordinal != 1 || got.Channel != "pre" {
		t.Errorf("Get() = %+v", got)
	}
	if string(got.Secret) != "secret-asset-1" {
		t.Errorf("Secret = %q", got.Secret)
	}
}

func TestCreatePending_DefaultChannel(t *testing.T) {
	l := createTestLedger(t)
	p := createTestPending("asset-1", "alice", 1)
	p.Channel = ""

	rec, err := l.CreatePending(context.Background(), p)
	if err != nil {
		t.Fatalf("CreatePending() failed: %v", err)
	}
	if rec.Channel != "pre" {
		t.Errorf("Channel = %q, want pre", rec.Channel)
	}
}

func TestCreatePending_DuplicateAsset(t *testing.T) {
	l := createTestLedger(t)
	mustCreate(t, l, "asset-1", "alice", 1)

	_, err := l.CreatePending(context.Background(), createTestPending("asset-1", "bob", 1))
	if !errors.Is(err, ErrDuplicateAsset) {
		t.Fatalf("error = %v, want ErrDuplicateAsset", err)
	}
}

func TestCreatePending_SlotTaken(t *testing.T) {
	l := createTestLedger(t)
	mustCreate(t, l, "asset-1", "alice", 1)

	_, err := l.CreatePending(context.Background(), createTestPending("asset-2", "alice", 1))
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("error = %v, want ErrSlotTaken", err)
	}

	n, err := l.CountAttempted(context.Background(), "alice")
	if err != nil {
		t.Fatalf("CountAttempted() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("CountAttempted = %d, want 1 (rejected insert must not leave a row)", n)
	}
}

func TestCreatePending_Validation(t *testing.T) {
	l := createTestLedger(t)
	ctx := context.Background()

	bad := []PendingRecord{
		{Recipient: "alice", Ordinal: 1, Secret: []byte("s")},
		{AssetID: "a", Ordinal: 1, Secret: []byte("s")},
		{AssetID: "a", Recipient: "alice", Ordinal: 0, Secret: []byte("s")},
		{AssetID: "a", Recipient: "alice", Ordinal: 1},
	}
	for i, p := range bad {
		if _, err := l.CreatePending(ctx, p); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestMarkMinted(t *testing.T) {
	l := createTestLedger(t)
	ctx := context.Background()
	mustCreate(t, l, "asset-1", "alice", 1)

	if err := l.MarkMinted(ctx, "asset-1", "sig-mint"); err != nil {
		t.Fatalf("MarkMinted() failed: %v", err)
	}

	rec, err := l.Get(ctx, "asset-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if rec.MintProof == nil || *rec.MintProof != "sig-mint" {
		t.Errorf("MintProof = %v, want sig-mint", rec.MintProof)
	}
	if rec.DeliveryProof != nil {
		t.Error("DeliveryProof should still be nil")
	}
}

func TestMarkMinted_NotFound(t *testing.T) {
	l := createTestLedger(t)

	err := l.MarkMinted(context.Background(), "missing", "sig")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestMarkMinted_EmptyProof(t *testing.T) {
	l := createTestLedger(t)
	mustCreate(t, l, "asset-1", "alice", 1)

	if err := l.MarkMinted(context.Background(), "asset-1", ""); err == nil {
		t.Fatal("MarkMinted() with empty proof should fail")
	}
}

func TestMarkDelivered(t *testing.T) {
	l := createTestLedger(t)
	ctx := context.Background()
	mustCreate(t, l, "asset-1", "alice", 1)

	if err := l.MarkMinted(ctx, "asset-1", "sig-mint"); err != nil {
		t.Fatalf("MarkMinted() failed: %v", err)
	}
	if err := l.MarkDelivered(ctx, "asset-1", "sig-deliver"); err != nil {
		t.Fatalf("MarkDelivered() failed: %v", err)
	}

	rec, err := l.Get(ctx, "asset-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !rec.Complete() {
		t.Errorf("record should be complete: %+v", rec)
	}
	if *rec.DeliveryProof != "sig-deliver" {
		t.Errorf("DeliveryProof = %q", *rec.DeliveryProof)
	}
}

func TestMarkDelivered_NotFound(t *testing.T) {
	l := createTestLedger(t)

	err := l.MarkDelivered(context.Background(), "missing", "sig")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestMarkDelivered_BeforeMint(t *testing.T) {
	l := createTestLedger(t)
	ctx := context.Background()
	mustCreate(t, l, "asset-1", "alice", 1)

	err := l.MarkDelivered(ctx, "asset-1", "sig")
	if !errors.Is(err, ErrNotMinted) {
		t.Fatalf("error = %v, want ErrNotMinted", err)
	}

	rec, err := l.Get(ctx, "asset-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if rec.DeliveryProof != nil {
		t.Error("DeliveryProof must not be set before mint")
	}
}

func TestInvariantErrors(t *testing.T) {
	for _, err := range []error{ErrDuplicateAsset, ErrSlotTaken, ErrNotFound, ErrNotMinted} {
		if !IsInvariantViolation(err) {
			t.Errorf("IsInvariantViolation(%v) = false", err)
		}
	}
	if IsInvariantViolation(errors.New("network down")) {
		t.Error("IsInvariantViolation(plain) = true")
	}
}
