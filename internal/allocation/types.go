package allocation

import (
	"errors"
	"fmt"
	"time"
)

// ItemType tags a line item in a refund allocation.
type ItemType string

const (
	ItemFee     ItemType = "fee"
	ItemAdvance ItemType = "advance"
	ItemPayout  ItemType = "payout"
	ItemOther   ItemType = "other"
)

// Item is a single line in an allocation. Amounts are minor units (cents).
// An item belongs to exactly one RefundAllocation.
type Item struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Amount   int64    `json:"amount"`
	Type     ItemType `json:"type"`
	Required bool     `json:"required"`
}

// Status is the lifecycle state of a RefundAllocation.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCompleted Status = "completed"
)

// RefundAllocation is the aggregate: a client's refund broken into line items
// plus the derived client payout. ClientPayout is never set directly; it is
// recomputed from TotalRefund and Items so the conservation invariant
// sum(items) + payout == total holds at every state.
//
// Version is the optimistic concurrency counter: every transition bumps it,
// and stores reject saves whose expected version is stale.
type RefundAllocation struct {
	ID           string     `json:"id"`
	ClientID     string     `json:"client_id"`
	TaxYear      int        `json:"tax_year"`
	TotalRefund  int64      `json:"total_refund"`
	Items        []Item     `json:"items"`
	ClientPayout int64      `json:"client_payout"`
	Status       Status     `json:"status"`
	Version      uint64     `json:"version"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ApprovedBy   string     `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
}

var (
	ErrInvalidRefund = errors.New("allocation: total refund must be >= 0")
	ErrNotFound      = errors.New("allocation: not found")
	// ErrVersionConflict means a concurrent transition won the save race;
	// reload and retry against the fresh state.
	ErrVersionConflict = errors.New("allocation: version conflict")
	// ErrUnauthorized means the acting user lacks approval capability.
	ErrUnauthorized = errors.New("allocation: actor is not authorized to approve")
	// ErrPrematureCompletion means completion was requested without a
	// disbursement confirmation token.
	ErrPrematureCompletion = errors.New("allocation: completion requires a disbursement confirmation")
)

// Validation failure reason codes.
const (
	ReasonExceedsRefund  = "exceeds-refund"
	ReasonNegativeAmount = "negative-amount"
)

// ValidationError carries enough structure for a caller to render an
// actionable message: the reason code, the overdraw for exceeds-refund, and
// the offending item id for negative-amount.
type ValidationError struct {
	Reason string `json:"reason"`
	OverBy int64  `json:"over_by,omitempty"`
	ItemID string `json:"item_id,omitempty"`
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonExceedsRefund:
		return fmt.Sprintf("allocation: items exceed refund by %d", e.OverBy)
	case ReasonNegativeAmount:
		return fmt.Sprintf("allocation: item %s has a negative amount", e.ItemID)
	default:
		return "allocation: invalid"
	}
}

// TransitionError reports a lifecycle transition that is not permitted from
// the current state.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("allocation: transition %s -> %s not permitted", e.From, e.To)
}
