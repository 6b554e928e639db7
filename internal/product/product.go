package product

import (
	"fmt"
	"sort"
	"time"
)

// Kind classifies a bank product.
type Kind string

const (
	KindAdvance  Kind = "advance"
	KindTransfer Kind = "transfer"
	KindCard     Kind = "card"
)

// Product is one entry in a bank provider's catalog. A product qualifies for
// a refund R iff R >= MinimumRefund; the disbursed amount is additionally
// capped at min(MaximumAmount, R): an advance never exceeds the refund it is
// drawn against. Fee is a flat amount in cents unless FeeScheduleID points at
// a fee schedule, in which case the schedule wins.
type Product struct {
	ID            string `json:"id"`
	ProviderID    string `json:"provider_id"`
	Name          string `json:"name"`
	Kind          Kind   `json:"kind"`
	MinimumRefund int64  `json:"minimum_refund"`
	MaximumAmount int64  `json:"maximum_amount"`
	Fee           int64  `json:"fee,omitempty"`
	FeeScheduleID string `json:"fee_schedule_id,omitempty"`
}

// Provider owns a catalog of bank products.
type Provider struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Products []Product `json:"products"`
}

// OfferStatus is the application state of a product offer.
type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferApproved OfferStatus = "approved"
	OfferDeclined OfferStatus = "declined"
	OfferExpired  OfferStatus = "expired"
)

// Offer is a specific bank product proposed to a client at a priced amount.
type Offer struct {
	ID         string      `json:"id"`
	ClientID   string      `json:"client_id"`
	ProviderID string      `json:"provider_id"`
	ProductID  string      `json:"product_id"`
	Amount     int64       `json:"amount"`
	Fee        int64       `json:"fee"`
	Status     OfferStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
}

// Usable reports whether the offer can still back an allocation at the given
// instant. A lapsed ExpiresAt counts as declined even while Status still
// reads pending.
func (o Offer) Usable(now time.Time) bool {
	if o.Status == OfferDeclined || o.Status == OfferExpired {
		return false
	}
	if o.ExpiresAt != nil && now.After(*o.ExpiresAt) {
		return false
	}
	return true
}

// Ineligibility reason codes.
const (
	ReasonBelowMinimum = "refund-below-minimum"
	ReasonExceedsCap   = "amount-exceeds-cap"
	ReasonOfferLapsed  = "offer-expired"
	ReasonUnknown      = "unknown-product"
)

// IneligibleError reports why an offer cannot become an allocation line.
type IneligibleError struct {
	ProductID string
	Reason    string
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("product: %s ineligible: %s", e.ProductID, e.Reason)
}

// eligibleSorted is the shared filter/order step: products qualifying for the
// refund, most generous threshold first, ties broken by id for determinism.
func eligibleSorted(p Provider, refund int64) []Product {
	out := make([]Product, 0, len(p.Products))
	for _, prod := range p.Products {
		if prod.MinimumRefund <= refund {
			out = append(out, prod)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MinimumRefund != out[j].MinimumRefund {
			return out[i].MinimumRefund > out[j].MinimumRefund
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CappedAmount is the most a product may disburse against the given refund.
func (p Product) CappedAmount(refund int64) int64 {
	if refund < p.MaximumAmount {
		return refund
	}
	return p.MaximumAmount
}
