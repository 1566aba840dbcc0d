package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"edgelink/internal/common/errors"
	"edgelink/internal/common/logging"
	"edgelink/internal/models"
)

// LinkService is the mutation surface the management API exposes.
type LinkService interface {
	Get(ctx context.Context, domain, key string) (*models.Link, error)
	Create(ctx context.Context, link *models.Link, password string) (*models.Link, error)
	Update(ctx context.Context, link *models.Link) (*models.Link, error)
	SetRules(ctx context.Context, link *models.Link, rules []models.RoutingRule) (*models.RuleSet, error)
	Delete(ctx context.Context, domain, key string) error
}

type linkRequest struct {
	Key           string     `json:"key"`
	OwnerID       string     `json:"owner_id"`
	DefaultTarget string     `json:"default_target"`
	CustomDomain  string     `json:"custom_domain"`
	Timezone      string     `json:"timezone"`
	Password      string     `json:"password"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

// CreateLink registers a new short link. The slug must not collide with a
// live link or a tombstoned one still inside the retention window.
func (h *Handlers) CreateLink(w http.ResponseWriter, r *http.Request) {
	var body linkRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	link := &models.Link{
		Key:           body.Key,
		OwnerID:       body.OwnerID,
		DefaultTarget: body.DefaultTarget,
		CustomDomain:  strings.ToLower(body.CustomDomain),
		Timezone:      body.Timezone,
		Active:        true,
		ExpiresAt:     body.ExpiresAt,
	}

	created, err := h.links.Create(r.Context(), link, body.Password)
	if err != nil {
		h.writeLinkError(w, body.Key, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateLink repoints or reconfigures an existing link. Absent fields keep
// their current values.
func (h *Handlers) UpdateLink(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	domain := strings.ToLower(r.URL.Query().Get("domain"))

	var body struct {
		DefaultTarget *string    `json:"default_target"`
		Timezone      *string    `json:"timezone"`
		Active        *bool      `json:"active"`
		ExpiresAt     *time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	link, err := h.links.Get(r.Context(), domain, key)
	if err != nil {
		h.writeLinkError(w, key, err)
		return
	}

	if body.DefaultTarget != nil {
		link.DefaultTarget = *body.DefaultTarget
	}
	if body.Timezone != nil {
		link.Timezone = *body.Timezone
	}
	if body.Active != nil {
		link.Active = *body.Active
	}
	if body.ExpiresAt != nil {
		link.ExpiresAt = body.ExpiresAt
	}

	updated, err := h.links.Update(r.Context(), link)
	if err != nil {
		h.writeLinkError(w, key, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// SetLinkRules atomically replaces a link's routing rules.
func (h *Handlers) SetLinkRules(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	domain := strings.ToLower(r.URL.Query().Get("domain"))

	var body struct {
		Rules []models.RoutingRule `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	link, err := h.links.Get(r.Context(), domain, key)
	if err != nil {
		h.writeLinkError(w, key, err)
		return
	}

	ruleSet, err := h.links.SetRules(r.Context(), link, body.Rules)
	if err != nil {
		h.writeLinkError(w, key, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleSet)
}

// DeleteLink tombstones a link. The slug stays reserved until the tombstone
// is pruned.
func (h *Handlers) DeleteLink(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	domain := strings.ToLower(r.URL.Query().Get("domain"))

	if err := h.links.Delete(r.Context(), domain, key); err != nil {
		h.writeLinkError(w, key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) writeLinkError(w http.ResponseWriter, key string, err error) {
	switch {
	case errors.IsType(err, errors.ErrTypeValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.IsType(err, errors.ErrTypeNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "link not found"})
	case errors.IsType(err, errors.ErrTypeStoreUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable"})
	default:
		h.logger.Error("link mutation failed", err, logging.Field{Key: "key", Value: key})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
