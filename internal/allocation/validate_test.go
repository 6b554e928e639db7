package allocation

import (
	"errors"
	"testing"
)

func TestValidatePayoutConservation(t *testing.T) {
	// Worked example: $4000.00 refund, $125.00 prep fee, $500.00 advance.
	items := []Item{
		{ID: "i1", Label: "Prep fee", Amount: 12_500, Type: ItemFee},
		{ID: "i2", Label: "Refund advance", Amount: 50_000, Type: ItemAdvance},
	}
	payout, err := Validate(400_000, items)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if payout != 337_500 {
		t.Fatalf("payout=%d, want 337500", payout)
	}
	var sum int64
	for _, it := range items {
		sum += it.Amount
	}
	if sum+payout != 400_000 {
		t.Fatalf("conservation violated: %d + %d != 400000", sum, payout)
	}
}

func TestValidateExceedsRefund(t *testing.T) {
	items := []Item{
		{ID: "i1", Amount: 12_500, Type: ItemFee},
		{ID: "i2", Amount: 100_000, Type: ItemAdvance},
	}
	_, err := Validate(100_000, items)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Reason != ReasonExceedsRefund {
		t.Fatalf("reason=%s, want %s", verr.Reason, ReasonExceedsRefund)
	}
	if verr.OverBy != 12_500 {
		t.Fatalf("overBy=%d, want 12500", verr.OverBy)
	}
}

func TestValidateNegativeAmountWinsRegardlessOfTotal(t *testing.T) {
	// Sum is far under the refund; the negative item must still fail.
	items := []Item{
		{ID: "ok", Amount: 1_000, Type: ItemFee},
		{ID: "bad", Amount: -1, Type: ItemOther},
	}
	_, err := Validate(1_000_000, items)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Reason != ReasonNegativeAmount || verr.ItemID != "bad" {
		t.Fatalf("unexpected failure detail: %+v", verr)
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	items := []Item{{ID: "i1", Amount: 300, Type: ItemFee}}
	p1, e1 := Validate(1_000, items)
	p2, e2 := Validate(1_000, items)
	if p1 != p2 || (e1 == nil) != (e2 == nil) {
		t.Fatalf("repeated calls diverged: (%d,%v) vs (%d,%v)", p1, e1, p2, e2)
	}
}

func TestValidateEmptyItems(t *testing.T) {
	payout, err := Validate(42_000, nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if payout != 42_000 {
		t.Fatalf("payout=%d, want full refund", payout)
	}
}

func TestValidateNegativeRefund(t *testing.T) {
	if _, err := Validate(-1, nil); !errors.Is(err, ErrInvalidRefund) {
		t.Fatalf("expected ErrInvalidRefund, got %v", err)
	}
}

func TestValidateExactFit(t *testing.T) {
	payout, err := Validate(500, []Item{{ID: "i1", Amount: 500, Type: ItemFee}})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if payout != 0 {
		t.Fatalf("payout=%d, want 0", payout)
	}
}
