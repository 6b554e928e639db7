package allocation

import (
	"strings"
	"time"
)

// Lifecycle transitions are pure functions of (current state, input): they
// return the transitioned copy or a typed error, never mutate the receiver,
// and never touch TotalRefund or ClientID. That keeps them safe to retry and
// indifferent to whatever concurrency model the host runs them under;
// serialization of concurrent saves is the store's job via Version.

// New creates a draft allocation for the given client and refund.
func New(id, clientID string, taxYear int, totalRefund int64, items []Item, now time.Time) (RefundAllocation, error) {
	if totalRefund < 0 {
		return RefundAllocation{}, ErrInvalidRefund
	}
	a := RefundAllocation{
		ID:          id,
		ClientID:    clientID,
		TaxYear:     taxYear,
		TotalRefund: totalRefund,
		Items:       items,
		Status:      StatusDraft,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// Payout is derived even for drafts so the conservation invariant holds
	// from the first save; an over-allocated draft keeps payout at zero until
	// it validates.
	if payout, err := Validate(a.TotalRefund, a.Items); err == nil {
		a.ClientPayout = payout
	}
	return a, nil
}

// Submit moves draft -> pending. The current item set must validate; the
// validation error is passed through unchanged so callers see reason/overBy.
func Submit(a RefundAllocation, now time.Time) (RefundAllocation, error) {
	if a.Status != StatusDraft {
		return RefundAllocation{}, &TransitionError{From: a.Status, To: StatusPending}
	}
	payout, err := Validate(a.TotalRefund, a.Items)
	if err != nil {
		return RefundAllocation{}, err
	}
	a.ClientPayout = payout
	a.Status = StatusPending
	a.UpdatedAt = now
	a.Version++
	return a, nil
}

// Approve moves pending -> approved, stamping ApprovedBy/ApprovedAt in the
// same step. The authorization decision itself lives behind auth.Approver;
// callers consult it before invoking Approve. An empty actor is still
// rejected here so an unauthenticated path cannot slip through.
func Approve(a RefundAllocation, actorID string, now time.Time) (RefundAllocation, error) {
	if a.Status != StatusPending {
		return RefundAllocation{}, &TransitionError{From: a.Status, To: StatusApproved}
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return RefundAllocation{}, ErrUnauthorized
	}
	a.Status = StatusApproved
	a.ApprovedBy = actorID
	approvedAt := now
	a.ApprovedAt = &approvedAt
	a.UpdatedAt = now
	a.Version++
	return a, nil
}

// Complete moves approved -> completed, the terminal state. It requires the
// confirmation token handed back by the disbursement or e-file system; the
// core only checks presence and shape, it never calls those systems.
func Complete(a RefundAllocation, confirmation string, now time.Time) (RefundAllocation, error) {
	if a.Status != StatusApproved {
		return RefundAllocation{}, &TransitionError{From: a.Status, To: StatusCompleted}
	}
	if strings.TrimSpace(confirmation) == "" {
		return RefundAllocation{}, ErrPrematureCompletion
	}
	a.Status = StatusCompleted
	a.UpdatedAt = now
	a.Version++
	return a, nil
}

// Reject moves pending -> draft. This is the one sanctioned reversal: an
// explicit rejection handing the allocation back for editing, not a generic
// backward transition.
func Reject(a RefundAllocation, now time.Time) (RefundAllocation, error) {
	if a.Status != StatusPending {
		return RefundAllocation{}, &TransitionError{From: a.Status, To: StatusDraft}
	}
	a.Status = StatusDraft
	a.UpdatedAt = now
	a.Version++
	return a, nil
}
