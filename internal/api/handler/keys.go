package handler

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/vegchange/internal/api/middleware"
	"github.com/kiranshivaraju/vegchange/internal/api/response"
	"github.com/kiranshivaraju/vegchange/internal/store"
	"github.com/kiranshivaraju/vegchange/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefix = "vc_"

var knownScopes = []string{models.ScopeAnalysis, models.ScopeAdmin}

// Keys serves the admin API key endpoints.
type Keys struct {
	store store.Store
	now   func() time.Time
}

func NewKeys(s store.Store) *Keys {
	return &Keys{store: s, now: time.Now}
}

type createKeyRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type createKeyResponse struct {
	*models.APIKey
	Key string `json:"key"`
}

// Create handles POST /api/v1/admin/keys. The raw key appears only in this response.
func (h *Keys) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
		return
	}

	var req createKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
		return
	}
	if len(req.Scopes) == 0 {
		req.Scopes = []string{models.ScopeAnalysis}
	}
	for _, s := range req.Scopes {
		if !slices.Contains(knownScopes, s) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"unknown scope "+s, map[string][]string{"allowed": knownScopes})
			return
		}
	}

	rawKey, err := generateKey()
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to generate key", nil)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to hash key", nil)
		return
	}

	key := &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      req.Name,
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:mw.KeyPrefixLen],
		Scopes:    slices.Compact(slices.Sorted(slices.Values(req.Scopes))),
		CreatedAt: h.now().UTC(),
	}
	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			response.Error(w, http.StatusConflict, "KEY_EXISTS", "A key with this name already exists", nil)
			return
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create key", nil)
		return
	}
	response.Created(w, createKeyResponse{APIKey: key, Key: rawKey})
}

// List handles GET /api/v1/admin/keys.
func (h *Keys) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
		return
	}
	keys, err := h.store.ListAPIKeys(r.Context(), tenantID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list keys", nil)
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	response.JSON(w, keys)
}

// Revoke handles DELETE /api/v1/admin/keys/{keyID}.
func (h *Keys) Revoke(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
		return
	}
	keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "keyID must be a UUID", nil)
		return
	}
	if err := h.store.RevokeAPIKey(r.Context(), keyID, tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found", nil)
			return
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to revoke key", nil)
		return
	}
	response.JSON(w, map[string]any{"id": keyID, "revoked": true})
}

// generateKey returns "vc_" followed by 48 hex characters. bcrypt only reads
// the first 72 bytes, so the key must stay shorter than that.
func generateKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return keyPrefix + hex.EncodeToString(b), nil
}
