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
	"refundly.org/internal/stream"
)

type itemRequest struct {
	Label    string `json:"label"`
	Amount   int64  `json:"amount"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

type createAllocationRequest struct {
	ClientID    string        `json:"client_id"`
	TaxYear     int           `json:"tax_year"`
	TotalRefund int64         `json:"total_refund"`
	TemplateID  string        `json:"template_id,omitempty"`
	Items       []itemRequest `json:"items,omitempty"`
}

type validateResponse struct {
	Valid        bool   `json:"valid"`
	ClientPayout int64  `json:"client_payout,omitempty"`
	Reason       string `json:"reason,omitempty"`
	OverBy       int64  `json:"over_by,omitempty"`
	ItemID       string `json:"item_id,omitempty"`
}

type completeRequest struct {
	Confirmation string `json:"confirmation"`
}

type selectProductRequest struct {
	ProviderID string `json:"provider_id"`
	ProductID  string `json:"product_id"`
	Amount     int64  `json:"amount"`
}

func (a *API) handleAllocationsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createAllocation(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

// handleAllocationResource dispatches /v1/allocations/{id} and
// /v1/allocations/{id}/{action}.
func (a *API) handleAllocationResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/allocations/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	id := path
	action := ""
	if i := strings.IndexByte(path, '/'); i >= 0 {
		id, action = path[:i], path[i+1:]
	}
	if id == "" || strings.Contains(action, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getAllocation(w, r, id)
		return
	case "validate", "submit", "approve", "reject", "complete", "select-product":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch action {
	case "validate":
		a.validateAllocation(w, r, id)
	case "submit":
		a.transitionAllocation(w, r, id, "submit")
	case "approve":
		a.approveAllocation(w, r, id)
	case "reject":
		a.transitionAllocation(w, r, id, "reject")
	case "complete":
		a.completeAllocation(w, r, id)
	case "select-product":
		a.selectProduct(w, r, id)
	}
}

func (a *API) createAllocation(w http.ResponseWriter, r *http.Request) {
	if err := a.requireRole(r.Context(), auth.RoleAdmin, auth.RoleERO, auth.RolePreparer); err != nil {
		handleCoreError(w, r, err)
		return
	}

	var req createAllocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ClientID) == "" {
		writeError(w, r, http.StatusBadRequest, "client_id is required")
		return
	}
	if req.TaxYear < 2000 || req.TaxYear > 2100 {
		writeError(w, r, http.StatusBadRequest, "tax_year out of range")
		return
	}
	if req.TotalRefund < 0 {
		writeError(w, r, http.StatusBadRequest, "total_refund must be >= 0")
		return
	}

	var items []allocation.Item
	if req.TemplateID != "" {
		tpl, err := a.store.Template(r.Context(), req.TemplateID)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		schedules, err := a.store.FeeSchedules(r.Context())
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		items, err = allocation.ApplyTemplate(tpl, req.TotalRefund, schedules)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
	}
	for _, it := range req.Items {
		items = append(items, allocation.Item{
			ID:       ids.New(),
			Label:    strings.TrimSpace(it.Label),
			Amount:   it.Amount,
			Type:     allocation.ItemType(it.Type),
			Required: it.Required,
		})
	}

	now := time.Now().UTC()
	alloc, err := allocation.New(ids.New(), strings.TrimSpace(req.ClientID), req.TaxYear, req.TotalRefund, items, now)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	if err := a.store.SaveAllocation(r.Context(), alloc); err != nil {
		handleCoreError(w, r, err)
		return
	}

	a.audit(r.Context(), "allocation.create", "allocation", alloc.ID, map[string]string{
		"client_id":    alloc.ClientID,
		"tax_year":     strconv.Itoa(alloc.TaxYear),
		"total_refund": strconv.FormatInt(alloc.TotalRefund, 10),
	})

	w.Header().Set("Location", "/v1/allocations/"+alloc.ID)
	writeJSON(w, http.StatusCreated, alloc)
}

func (a *API) getAllocation(w http.ResponseWriter, r *http.Request, id string) {
	alloc, err := a.store.Allocation(r.Context(), id)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alloc)
}

// validateAllocation runs the validator without transitioning. The outcome is
// the response either way; an invalid allocation is not an HTTP error here.
func (a *API) validateAllocation(w http.ResponseWriter, r *http.Request, id string) {
	alloc, err := a.store.Allocation(r.Context(), id)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	payout, err := allocation.Validate(alloc.TotalRefund, alloc.Items)
	if err != nil {
		if verr, ok := err.(*allocation.ValidationError); ok {
			obs.AllocationValidations.WithLabelValues(verr.Reason).Inc()
			writeJSON(w, http.StatusOK, validateResponse{
				Valid:  false,
				Reason: verr.Reason,
				OverBy: verr.OverBy,
				ItemID: verr.ItemID,
			})
			return
		}
		handleCoreError(w, r, err)
		return
	}
	obs.AllocationValidations.WithLabelValues("valid").Inc()
	writeJSON(w, http.StatusOK, validateResponse{Valid: true, ClientPayout: payout})
}

// transitionAllocation handles submit and reject, which share their shape.
func (a *API) transitionAllocation(w http.ResponseWriter, r *http.Request, id, action string) {
	if err := a.requireRole(r.Context(), auth.RoleAdmin, auth.RoleERO, auth.RolePreparer); err != nil {
		handleCoreError(w, r, err)
		return
	}
	alloc, err := a.store.Allocation(r.Context(), id)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}

	from := alloc.Status
	now := time.Now().UTC()
	var next allocation.RefundAllocation
	switch action {
	case "submit":
		next, err = allocation.Submit(alloc, now)
	case "reject":
		next, err = allocation.Reject(alloc, now)
	}
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	if err := a.store.SaveAllocation(r.Context(), next); err != nil {
		handleCoreError(w, r, err)
		return
	}
	a.finishTransition(r, next, from, "allocation."+action)
	writeJSON(w, http.StatusOK, next)
}

func (a *API) approveAllocation(w http.ResponseWriter, r *http.Request, id string) {
	actor, _ := auth.UserIDFromContext(r.Context())

	ok, err := a.approver.CanApprove(r.Context(), actor, id)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	if !ok {
		handleCoreError(w, r, allocation.ErrUnauthorized)
		return
	}

	alloc, err := a.store.Allocation(r.Context(), id)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	from := alloc.Status
	next, err := allocation.Approve(alloc, actor, time.Now().UTC())
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	if err := a.store.SaveAllocation(r.Context(), next); err != nil {
		handleCoreError(w, r, err)
		return
	}
	a.finishTransition(r, next, from, "allocation.approve")
	writeJSON(w, http.StatusOK, next)
}

func (a *API) completeAllocation(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requireRole(r.Context(), auth.RoleAdmin, auth.RoleERO); err != nil {
		handleCoreError(w, r, err)
		return
	}
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	alloc, err := a.store.Allocation(r.Context(), id)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	from := alloc.Status
	next, err := allocation.Complete(alloc, req.Confirmation, time.Now().UTC())
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	if err := a.store.SaveAllocation(r.Context(), next); err != nil {
		handleCoreError(w, r, err)
		return
	}
	a.finishTransition(r, next, from, "allocation.complete")
	writeJSON(w, http.StatusOK, next)
}

// finishTransition records the metric, audit entry and live feed event for a
// persisted transition.
func (a *API) finishTransition(r *http.Request, next allocation.RefundAllocation, from allocation.Status, event string) {
	obs.AllocationTransitions.WithLabelValues(string(from), string(next.Status)).Inc()

	actor, _ := auth.UserIDFromContext(r.Context())
	meta := map[string]string{
		"from":   string(from),
		"to":     string(next.Status),
		"status": string(next.Status),
	}
	if next.ApprovedBy != "" {
		meta["approved_by"] = next.ApprovedBy
	}
	a.audit(r.Context(), event, "allocation", next.ID, meta)

	if a.stream != nil {
		a.stream.Publish(stream.Transition(next, from, actor))
	}
}
