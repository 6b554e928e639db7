package allocation

import (
	"context"
	"errors"
	"testing"
	"time"
)

func draftAllocation(t *testing.T) RefundAllocation {
	t.Helper()
	a, err := New("alloc-1", "client-1", 2025, 400_000, []Item{
		{ID: "i1", Label: "Prep fee", Amount: 12_500, Type: ItemFee, Required: true},
		{ID: "i2", Label: "Refund advance", Amount: 50_000, Type: ItemAdvance},
	}, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestSubmitRequiresValidItems(t *testing.T) {
	a := draftAllocation(t)
	a.Items = append(a.Items, Item{ID: "i3", Amount: 400_000, Type: ItemOther})

	_, err := Submit(a, time.Now().UTC())
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Reason != ReasonExceedsRefund || verr.OverBy != 62_500 {
		t.Fatalf("unexpected detail: %+v", verr)
	}
}

func TestSubmitDerivesPayout(t *testing.T) {
	a := draftAllocation(t)
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	got, err := Submit(a, now)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("status=%s, want pending", got.Status)
	}
	if got.ClientPayout != 337_500 {
		t.Fatalf("payout=%d, want 337500", got.ClientPayout)
	}
	if !got.UpdatedAt.Equal(now) {
		t.Fatalf("updatedAt=%v, want %v", got.UpdatedAt, now)
	}
	if got.Version != a.Version+1 {
		t.Fatalf("version=%d, want %d", got.Version, a.Version+1)
	}
	// The input value is untouched.
	if a.Status != StatusDraft {
		t.Fatalf("input mutated: %s", a.Status)
	}
}

func TestApproveStampsActorAndTime(t *testing.T) {
	a := draftAllocation(t)
	a, _ = Submit(a, time.Now().UTC())

	now := time.Date(2026, 2, 2, 12, 30, 0, 0, time.UTC)
	got, err := Approve(a, "ero-7", now)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if got.Status != StatusApproved {
		t.Fatalf("status=%s", got.Status)
	}
	if got.ApprovedBy != "ero-7" {
		t.Fatalf("approvedBy=%s", got.ApprovedBy)
	}
	if got.ApprovedAt == nil || !got.ApprovedAt.Equal(now) {
		t.Fatalf("approvedAt=%v, want %v", got.ApprovedAt, now)
	}
}

func TestApproveRejectsEmptyActor(t *testing.T) {
	a := draftAllocation(t)
	a, _ = Submit(a, time.Now().UTC())
	if _, err := Approve(a, "  ", time.Now().UTC()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCompleteRequiresConfirmation(t *testing.T) {
	a := draftAllocation(t)
	a, _ = Submit(a, time.Now().UTC())
	a, _ = Approve(a, "admin-1", time.Now().UTC())

	if _, err := Complete(a, "", time.Now().UTC()); !errors.Is(err, ErrPrematureCompletion) {
		t.Fatalf("expected ErrPrematureCompletion, got %v", err)
	}
	got, err := Complete(a, "mef-ack-9137", time.Now().UTC())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("status=%s", got.Status)
	}
}

func TestRejectReturnsToDraft(t *testing.T) {
	a := draftAllocation(t)
	a, _ = Submit(a, time.Now().UTC())
	got, err := Reject(a, time.Now().UTC())
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if got.Status != StatusDraft {
		t.Fatalf("status=%s", got.Status)
	}
}

func TestDisallowedTransitions(t *testing.T) {
	now := time.Now().UTC()
	draft := draftAllocation(t)
	pending, _ := Submit(draft, now)
	approved, _ := Approve(pending, "admin-1", now)
	completed, _ := Complete(approved, "ack", now)

	cases := []struct {
		name string
		err  error
	}{
		{"draft-approve", secondErr(Approve(draft, "admin-1", now))},
		{"draft-complete", secondErr(Complete(draft, "ack", now))},
		{"draft-reject", secondErr(Reject(draft, now))},
		{"pending-submit", secondErr(Submit(pending, now))},
		{"pending-complete", secondErr(Complete(pending, "ack", now))},
		{"approved-submit", secondErr(Submit(approved, now))},
		{"approved-reject", secondErr(Reject(approved, now))},
		{"completed-approve", secondErr(Approve(completed, "admin-1", now))},
		{"completed-complete", secondErr(Complete(completed, "ack", now))},
	}
	for _, tc := range cases {
		var terr *TransitionError
		if !errors.As(tc.err, &terr) {
			t.Fatalf("%s: expected TransitionError, got %v", tc.name, tc.err)
		}
	}
}

func secondErr(_ RefundAllocation, err error) error { return err }

func TestTransitionsNeverTouchRefundOrClient(t *testing.T) {
	a := draftAllocation(t)
	now := time.Now().UTC()
	p, _ := Submit(a, now)
	ap, _ := Approve(p, "admin-1", now)
	c, _ := Complete(ap, "ack", now)
	for _, state := range []RefundAllocation{p, ap, c} {
		if state.TotalRefund != a.TotalRefund || state.ClientID != a.ClientID {
			t.Fatalf("transition mutated refund or client: %+v", state)
		}
	}
}

func TestStoreOptimisticCheck(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	a := draftAllocation(t)
	if err := s.SaveAllocation(ctx, a); err != nil {
		t.Fatalf("initial save: %v", err)
	}

	// Two callers load the same pending state.
	base, _ := Submit(a, time.Now().UTC())
	if err := s.SaveAllocation(ctx, base); err != nil {
		t.Fatalf("save pending: %v", err)
	}

	rejected, _ := Reject(base, time.Now().UTC())
	approved, _ := Approve(base, "admin-1", time.Now().UTC())

	if err := s.SaveAllocation(ctx, rejected); err != nil {
		t.Fatalf("save rejection: %v", err)
	}
	// The stale approval must not clobber the rejection.
	if err := s.SaveAllocation(ctx, approved); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	cur, _ := s.Allocation(ctx, a.ID)
	if cur.Status != StatusDraft {
		t.Fatalf("status=%s, want draft after rejection", cur.Status)
	}
}

func TestStoreUnknownAllocation(t *testing.T) {
	s := NewInMemory()
	if _, err := s.Allocation(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
