package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"edgelink/internal/common/errors"
	"edgelink/internal/common/logging"
	"edgelink/internal/common/utils"
	"edgelink/internal/device"
	"edgelink/internal/geo"
	"edgelink/internal/ingest"
	"edgelink/internal/models"
	"edgelink/internal/rules"
)

// AttemptStore is the storage slice the operational API reads.
type AttemptStore interface {
	ListAttemptsBySubscription(ctx context.Context, subscriptionID string, limit, offset int) ([]*models.WebhookDeliveryAttempt, error)
	Health() error
}

// HealthChecker reports transport liveness for the health endpoint.
type HealthChecker interface {
	Health() error
}

// Handlers bundles the HTTP handlers and their collaborators.
type Handlers struct {
	engine   *rules.Engine
	pipeline *ingest.Pipeline
	store    AttemptStore
	links    LinkService
	geo      *geo.Resolver
	bus      HealthChecker
	logger   logging.Logger

	// primaryHost is the service's own redirect host. Requests arriving
	// on any other host resolve against that host's custom-domain links.
	// Empty means custom domains are not in use.
	primaryHost string
}

func NewHandlers(engine *rules.Engine, pipeline *ingest.Pipeline, store AttemptStore, linkService LinkService, geoResolver *geo.Resolver, busHealth HealthChecker, primaryHost string, logger logging.Logger) *Handlers {
	return &Handlers{
		engine:      engine,
		pipeline:    pipeline,
		store:       store,
		links:       linkService,
		geo:         geoResolver,
		bus:         busHealth,
		logger:      logger,
		primaryHost: primaryHost,
	}
}

// Router builds the HTTP routing table.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/api/subscriptions/{id}/attempts", h.ListAttempts).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/ingestion", h.IngestionStats).Methods(http.MethodGet)
	r.HandleFunc("/api/links", h.CreateLink).Methods(http.MethodPost)
	r.HandleFunc("/api/links/{key}/rules", h.SetLinkRules).Methods(http.MethodPut)
	r.HandleFunc("/api/links/{key}", h.UpdateLink).Methods(http.MethodPut)
	r.HandleFunc("/api/links/{key}", h.DeleteLink).Methods(http.MethodDelete)
	r.HandleFunc("/{key}/password", h.VerifyPassword).Methods(http.MethodPost)
	r.HandleFunc("/{key}", h.Redirect).Methods(http.MethodGet)
	return r
}

// Redirect is the hot path: resolve the slug against its routing rules
// and answer with a 302. The click is recorded fire-and-forget after the
// response is decided.
func (h *Handlers) Redirect(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	reqCtx := h.requestContext(r)

	decision, err := h.engine.Resolve(r.Context(), h.requestDomain(r), key, reqCtx)
	if err != nil {
		h.writeResolveError(w, key, err)
		return
	}

	if decision.PasswordRequired {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "password_required",
		})
		return
	}

	h.recordClick(decision, reqCtx)
	http.Redirect(w, r, decision.DestinationURL, http.StatusFound)
}

// VerifyPassword unlocks a password-protected link. On a correct password
// the destination is resolved through the normal rule path and returned
// as JSON rather than a redirect, so the client controls navigation.
func (h *Handlers) VerifyPassword(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "password is required"})
		return
	}

	reqCtx := h.requestContext(r)
	domain := h.requestDomain(r)

	// First pass fetches the link so the hash can be checked.
	decision, err := h.engine.Resolve(r.Context(), domain, key, reqCtx)
	if err != nil {
		h.writeResolveError(w, key, err)
		return
	}
	if !decision.PasswordRequired {
		// Not protected; behave like a resolve.
		h.recordClick(decision, reqCtx)
		writeJSON(w, http.StatusOK, map[string]string{"destination_url": decision.DestinationURL})
		return
	}
	if !decision.Link.CheckPassword(body.Password) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid password"})
		return
	}

	reqCtx.PasswordVerified = true
	decision, err = h.engine.Resolve(r.Context(), domain, key, reqCtx)
	if err != nil {
		h.writeResolveError(w, key, err)
		return
	}

	h.recordClick(decision, reqCtx)
	writeJSON(w, http.StatusOK, map[string]string{"destination_url": decision.DestinationURL})
}

// ListAttempts exposes the delivery attempt records for one subscription,
// exhausted ones included.
func (h *Handlers) ListAttempts(w http.ResponseWriter, r *http.Request) {
	subscriptionID := mux.Vars(r)["id"]
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit < 1 || limit > 500 {
		limit = 50
	}

	attempts, err := h.store.ListAttemptsBySubscription(r.Context(), subscriptionID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list delivery attempts", err,
			logging.Field{Key: "subscription_id", Value: subscriptionID},
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list attempts"})
		return
	}
	if attempts == nil {
		attempts = []*models.WebhookDeliveryAttempt{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscription_id": subscriptionID,
		"attempts":        attempts,
	})
}

// IngestionStats exposes the pipeline counters, including drops.
func (h *Handlers) IngestionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.Stats())
}

// HealthCheck reports storage and bus liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := map[string]string{"storage": "ok", "bus": "ok"}

	if err := h.store.Health(); err != nil {
		checks["storage"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if h.bus != nil {
		if err := h.bus.Health(); err != nil {
			checks["bus"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, checks)
}

// requestContext derives the rule-matching context from the request.
// Every field is best-effort; a missing or garbled header leaves its
// field zero and the corresponding rule kinds simply do not match.
func (h *Handlers) requestContext(r *http.Request) *rules.RequestContext {
	userAgent := r.UserAgent()
	ip := clientIP(r)

	visitorID := ""
	if ip != "" || userAgent != "" {
		visitorID = utils.ClientHash(ip, userAgent)
	}

	country := ""
	if h.geo != nil {
		country = h.geo.Country(ip)
	}

	return &rules.RequestContext{
		Device:    device.Classify(userAgent),
		Country:   country,
		Referrer:  r.Referer(),
		VisitorID: visitorID,
		Now:       time.Now(),
	}
}

// requestDomain maps the Host header to a custom-domain lookup key.
// The primary host (and unknown setups) resolve the default namespace.
func (h *Handlers) requestDomain(r *http.Request) string {
	if h.primaryHost == "" {
		return ""
	}
	host := r.Host
	if sep, _, ok := strings.Cut(host, ":"); ok {
		host = sep
	}
	if strings.EqualFold(host, h.primaryHost) {
		return ""
	}
	return strings.ToLower(host)
}

func (h *Handlers) recordClick(decision *rules.Decision, reqCtx *rules.RequestContext) {
	h.pipeline.Ingest(&models.ClickEvent{
		LinkKey:       decision.Link.Key,
		OwnerID:       decision.Link.OwnerID,
		Timestamp:     reqCtx.Now.UTC(),
		Device:        reqCtx.Device,
		Country:       reqCtx.Country,
		Referrer:      reqCtx.Referrer,
		MatchedRuleID: decision.MatchedRuleID,
		Variant:       decision.Variant,
		ClientHash:    reqCtx.VisitorID,
	})
}

func (h *Handlers) writeResolveError(w http.ResponseWriter, key string, err error) {
	switch {
	case errors.IsType(err, errors.ErrTypeNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "link not found"})
	case errors.IsType(err, errors.ErrTypeGone):
		writeJSON(w, http.StatusGone, map[string]string{"error": "link expired"})
	case errors.IsType(err, errors.ErrTypeStoreUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable"})
	default:
		h.logger.Error("resolution failed", err, logging.Field{Key: "key", Value: key})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
