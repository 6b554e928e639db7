package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"refundly.org/internal/allocation"
	"refundly.org/internal/audit"
	"refundly.org/internal/auth"
	"refundly.org/internal/fees"
	"refundly.org/internal/obs"
	"refundly.org/internal/product"
	"refundly.org/internal/stream"
)

// ReadyProbe reports readiness (typically a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the allocation core.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	store    allocation.Store
	products product.Store
	approver auth.Approver
	stream   *stream.Stream

	credentialHash string
	rateBurst      int
	ratePerSec     int
}

// New wires the routes. Pass a nil stream to disable the live feed.
func New(rp ReadyProbe, version string, store allocation.Store, products product.Store, approver auth.Approver, st *stream.Stream) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		store:      store,
		products:   products,
		approver:   approver,
		stream:     st,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/allocations", a.handleAllocationsCollection)
	a.mux.HandleFunc("/v1/allocations/", a.handleAllocationResource)
	a.mux.HandleFunc("/v1/providers/", a.handleProviderResource)

	a.mux.HandleFunc("/v1/stream", a.Stream)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetRateLimit overrides the per-IP token bucket parameters.
func (a *API) SetRateLimit(burst, perSec int) {
	if burst > 0 {
		a.rateBurst = burst
	}
	if perSec > 0 {
		a.ratePerSec = perSec
	}
}

// SetCredentialHash requires the office credential on token issuance.
func (a *API) SetCredentialHash(hash string) { a.credentialHash = hash }

// Handler composes the middleware stack around the mux.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = obs.Instrument(h)
	h = a.withAuth(h)
	h = RequestID(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	return h
}

// --- health / info ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "refundly-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "refundly-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func (a *API) audit(ctx context.Context, event, resourceType, resourceID string, meta map[string]string) {
	fields := map[string]any{
		"resource_type": resourceType,
		"resource_id":   resourceID,
	}
	for k, v := range meta {
		fields[k] = v
	}
	_ = audit.LogEvent(ctx, event, fields)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleCoreError maps typed core errors onto HTTP statuses. Validation and
// eligibility failures surface their structured detail so callers can render
// an actionable message.
func handleCoreError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *allocation.ValidationError
		terr *allocation.TransitionError
		ierr *product.IneligibleError
		cerr *fees.ConfigError
	)
	switch {
	case errors.As(err, &verr):
		payload := map[string]any{
			"error":  verr.Error(),
			"reason": verr.Reason,
		}
		if verr.Reason == allocation.ReasonExceedsRefund {
			payload["over_by"] = verr.OverBy
		}
		if verr.ItemID != "" {
			payload["item_id"] = verr.ItemID
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusUnprocessableEntity, payload)
	case errors.As(err, &terr):
		writeError(w, r, http.StatusConflict, terr.Error())
	case errors.As(err, &ierr):
		payload := map[string]any{
			"error":      ierr.Error(),
			"reason":     ierr.Reason,
			"product_id": ierr.ProductID,
		}
		writeJSON(w, http.StatusUnprocessableEntity, payload)
	case errors.As(err, &cerr):
		writeError(w, r, http.StatusUnprocessableEntity, cerr.Error())
	case errors.Is(err, allocation.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, allocation.ErrPrematureCompletion):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, allocation.ErrVersionConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, allocation.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, allocation.ErrInvalidRefund), errors.Is(err, fees.ErrInvalidAmount):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
