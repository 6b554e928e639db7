package product

import (
	"context"
	"iter"
	"sync"
	"time"

	"refundly.org/internal/allocation"
	"refundly.org/internal/fees"
	"refundly.org/internal/ids"
)

// Eligible yields (product, cappedAmount) pairs for every catalog product the
// refund qualifies for, ordered by minimum refund descending with ties broken
// by product id. The sequence is finite and restartable: ranging over it
// again replays the same pairs.
func Eligible(p Provider, refund int64) iter.Seq2[Product, int64] {
	return func(yield func(Product, int64) bool) {
		for _, prod := range eligibleSorted(p, refund) {
			if !yield(prod, prod.CappedAmount(refund)) {
				return
			}
		}
	}
}

// SelectProduct converts an accepted offer into an advance allocation line.
// The second return is the bank fee the product charges, resolved through its
// fee schedule when one is referenced (computed over the refund amount) and
// taken flat otherwise; callers record it as a separate fee line.
func SelectProduct(o Offer, p Provider, refund int64, schedules map[string]fees.Schedule, now time.Time) (allocation.Item, int64, error) {
	var prod Product
	found := false
	for _, cand := range p.Products {
		if cand.ID == o.ProductID {
			prod = cand
			found = true
			break
		}
	}
	if !found {
		return allocation.Item{}, 0, &IneligibleError{ProductID: o.ProductID, Reason: ReasonUnknown}
	}
	if !o.Usable(now) {
		return allocation.Item{}, 0, &IneligibleError{ProductID: prod.ID, Reason: ReasonOfferLapsed}
	}
	if refund < prod.MinimumRefund {
		return allocation.Item{}, 0, &IneligibleError{ProductID: prod.ID, Reason: ReasonBelowMinimum}
	}
	if o.Amount > prod.CappedAmount(refund) {
		return allocation.Item{}, 0, &IneligibleError{ProductID: prod.ID, Reason: ReasonExceedsCap}
	}

	fee := prod.Fee
	if prod.FeeScheduleID != "" {
		s, ok := schedules[prod.FeeScheduleID]
		if !ok {
			return allocation.Item{}, 0, &IneligibleError{ProductID: prod.ID, Reason: ReasonUnknown}
		}
		resolved, err := fees.ComputeFee(s, refund)
		if err != nil {
			return allocation.Item{}, 0, err
		}
		fee = resolved
	}

	item := allocation.Item{
		ID:     ids.New(),
		Label:  prod.Name,
		Amount: o.Amount,
		Type:   allocation.ItemAdvance,
	}
	return item, fee, nil
}

// Store is the persistence collaborator for provider catalogs.
type Store interface {
	Provider(ctx context.Context, id string) (Provider, error)
}

// Catalog is an in-memory Store for tests and the dev server.
type Catalog struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{providers: make(map[string]Provider)}
}

var _ Store = (*Catalog)(nil)

func (c *Catalog) Provider(ctx context.Context, id string) (Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.providers[id]
	if !ok {
		return Provider{}, allocation.ErrNotFound
	}
	out := p
	out.Products = append([]Product(nil), p.Products...)
	return out, nil
}

// Put registers a provider catalog.
func (c *Catalog) Put(p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[p.ID] = p
}
