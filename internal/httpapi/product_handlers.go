package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"refundly.org/internal/allocation"
	"refundly.org/internal/auth"
	"refundly.org/internal/ids"
	"refundly.org/internal/obs"
	"refundly.org/internal/product"
)

type eligibleProductResponse struct {
	Product      product.Product `json:"product"`
	CappedAmount int64           `json:"capped_amount"`
}

type eligibleProductsResponse struct {
	ProviderID string                    `json:"provider_id"`
	Refund     int64                     `json:"refund"`
	Products   []eligibleProductResponse `json:"products"`
}

// handleProviderResource dispatches /v1/providers/{id}/products.
func (a *API) handleProviderResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/providers/")
	id, rest, _ := strings.Cut(path, "/")
	if id == "" || rest != "products" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	a.listEligibleProducts(w, r, id)
}

func (a *API) listEligibleProducts(w http.ResponseWriter, r *http.Request, providerID string) {
	raw := strings.TrimSpace(r.URL.Query().Get("refund"))
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, "refund query parameter is required")
		return
	}
	refund, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || refund < 0 {
		writeError(w, r, http.StatusBadRequest, "refund must be a non-negative integer (cents)")
		return
	}

	p, err := a.products.Provider(r.Context(), providerID)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	obs.OffersEvaluated.Add(float64(len(p.Products)))

	resp := eligibleProductsResponse{
		ProviderID: p.ID,
		Refund:     refund,
		Products:   []eligibleProductResponse{},
	}
	for prod, capped := range product.Eligible(p, refund) {
		resp.Products = append(resp.Products, eligibleProductResponse{Product: prod, CappedAmount: capped})
	}
	writeJSON(w, http.StatusOK, resp)
}

// selectProduct attaches an accepted bank product to a draft allocation: the
// advance becomes a line item, the bank fee a second one when nonzero.
func (a *API) selectProduct(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requireRole(r.Context(), auth.RoleAdmin, auth.RoleERO, auth.RolePreparer); err != nil {
		handleCoreError(w, r, err)
		return
	}
	var req selectProductRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.ProviderID == "" || req.ProductID == "" {
		writeError(w, r, http.StatusBadRequest, "provider_id and product_id are required")
		return
	}
	if req.Amount <= 0 {
		writeError(w, r, http.StatusBadRequest, "amount must be > 0")
		return
	}

	alloc, err := a.store.Allocation(r.Context(), id)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	if alloc.Status != allocation.StatusDraft {
		handleCoreError(w, r, &allocation.TransitionError{From: alloc.Status, To: alloc.Status})
		return
	}

	p, err := a.products.Provider(r.Context(), req.ProviderID)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	schedules, err := a.store.FeeSchedules(r.Context())
	if err != nil {
		handleCoreError(w, r, err)
		return
	}

	now := time.Now().UTC()
	offer := product.Offer{
		ID:         ids.New(),
		ClientID:   alloc.ClientID,
		ProviderID: req.ProviderID,
		ProductID:  req.ProductID,
		Amount:     req.Amount,
		Status:     product.OfferApproved,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	item, fee, err := product.SelectProduct(offer, p, alloc.TotalRefund, schedules, now)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}

	alloc.Items = append(alloc.Items, item)
	if fee > 0 {
		alloc.Items = append(alloc.Items, allocation.Item{
			ID:       ids.New(),
			Label:    item.Label + " fee",
			Amount:   fee,
			Type:     allocation.ItemFee,
			Required: true,
		})
	}
	if payout, err := allocation.Validate(alloc.TotalRefund, alloc.Items); err == nil {
		alloc.ClientPayout = payout
	}
	alloc.UpdatedAt = now
	alloc.Version++

	if err := a.store.SaveAllocation(r.Context(), alloc); err != nil {
		handleCoreError(w, r, err)
		return
	}

	a.audit(r.Context(), "allocation.select_product", "allocation", alloc.ID, map[string]string{
		"provider_id": req.ProviderID,
		"product_id":  req.ProductID,
		"amount":      strconv.FormatInt(req.Amount, 10),
		"fee":         strconv.FormatInt(fee, 10),
	})
	writeJSON(w, http.StatusOK, alloc)
}
