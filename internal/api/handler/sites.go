package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/vegchange/internal/aoi"
	mw "github.com/kiranshivaraju/vegchange/internal/api/middleware"
	"github.com/kiranshivaraju/vegchange/internal/api/response"
	"github.com/kiranshivaraju/vegchange/internal/cache"
	"github.com/kiranshivaraju/vegchange/internal/store"
	"github.com/kiranshivaraju/vegchange/pkg/models"
)

const (
	siteCacheTTL   = 10 * time.Minute
	maxSiteNameLen = 200
	maxUploadBytes = 10 << 20
)

// Sites serves saved areas of interest and resolves site ids for analysis requests.
type Sites struct {
	store store.Store
	cache cache.Cache
	now   func() time.Time
}

func NewSites(s store.Store, c cache.Cache) *Sites {
	return &Sites{store: s, cache: c, now: time.Now}
}

// Load returns a tenant's site, reading through the cache.
func (h *Sites) Load(ctx context.Context, tenantID, siteID uuid.UUID) (*models.Site, error) {
	key := cache.SiteKey(tenantID, siteID)
	if data, found, err := h.cache.Get(ctx, key); err == nil && found {
		var site models.Site
		if json.Unmarshal(data, &site) == nil {
			return &site, nil
		}
	}

	site, err := h.store.GetSite(ctx, siteID, tenantID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(site); err == nil {
		if err := h.cache.Set(ctx, key, data, siteCacheTTL); err != nil {
			slog.Warn("failed to cache site", "site_id", siteID, "error", err)
		}
	}
	return site, nil
}

type createSiteRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	aoiRequest
}

// siteInput is a decoded create request. aoiErr holds a geometry problem,
// reported after the name is validated.
type siteInput struct {
	name        string
	description string
	region      aoi.AOI
	aoiErr      error
}

// Create handles POST /api/v1/sites. The body is either JSON with a bbox or
// geometry, or multipart/form-data with name, description and a GeoJSON,
// KML or KMZ file.
func (h *Sites) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
		return
	}

	var in siteInput
	if isMultipart(r) {
		in, ok = decodeSiteUpload(w, r)
	} else {
		in, ok = decodeSiteJSON(w, r)
	}
	if !ok {
		return
	}

	in.name = strings.TrimSpace(in.name)
	if in.name == "" || len(in.name) > maxSiteNameLen {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required (max 200 characters)", nil)
		return
	}
	if in.aoiErr != nil {
		code := "INVALID_AOI"
		if errors.Is(in.aoiErr, aoi.ErrUnsupportedFormat) {
			code = "UNSUPPORTED_AOI_FORMAT"
		}
		response.Error(w, http.StatusBadRequest, code, in.aoiErr.Error(), nil)
		return
	}
	geometry, err := json.Marshal(in.region)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	now := h.now().UTC()
	site := &models.Site{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Name:        in.name,
		Description: in.description,
		Geometry:    geometry,
		AreaHa:      in.region.AreaHectares(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.CreateSite(r.Context(), site); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			response.Error(w, http.StatusConflict, "SITE_EXISTS", "A site with this name already exists", nil)
			return
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save site", nil)
		return
	}
	response.Created(w, site)
}

func decodeSiteJSON(w http.ResponseWriter, r *http.Request) (siteInput, bool) {
	var req createSiteRequest
	if !decodeJSON(w, r, &req) {
		return siteInput{}, false
	}
	in := siteInput{name: req.Name, description: req.Description}
	if req.SiteID != "" || req.forms() != 1 {
		in.aoiErr = errors.New("exactly one of bbox or geometry is required")
		return in, true
	}
	in.region, in.aoiErr = req.inline()
	return in, true
}

// decodeSiteUpload reads the multipart form and dispatches the file to the
// AOI loader registered for its extension.
func decodeSiteUpload(w http.ResponseWriter, r *http.Request) (siteInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid multipart body", err.Error())
		return siteInput{}, false
	}
	defer r.MultipartForm.RemoveAll()

	in := siteInput{name: r.FormValue("name"), description: r.FormValue("description")}
	file, header, err := r.FormFile("file")
	if err != nil {
		in.aoiErr = errors.New("file is required")
		return in, true
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read uploaded file", nil)
		return siteInput{}, false
	}
	in.region, in.aoiErr = aoi.Parse(header.Filename, data)
	return in, true
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// List handles GET /api/v1/sites?page=&limit=&name=.
func (h *Sites) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
		return
	}
	page, err := intParam(r, "page", 1, 1, 1<<20)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	limit, err := intParam(r, "limit", 20, 1, 100)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	sites, total, err := h.store.ListSites(r.Context(), store.SiteFilter{
		TenantID: tenantID,
		Name:     r.URL.Query().Get("name"),
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list sites", nil)
		return
	}
	if sites == nil {
		sites = []*models.Site{}
	}
	response.Collection(w, sites, response.NewMeta(page, limit, total))
}

// Get handles GET /api/v1/sites/{siteID}.
func (h *Sites) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
		return
	}
	siteID, err := uuid.Parse(chi.URLParam(r, "siteID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "siteID must be a UUID", nil)
		return
	}
	site, err := h.Load(r.Context(), tenantID, siteID)
	if err != nil {
		writeSiteError(w, err)
		return
	}
	response.JSON(w, site)
}

// region resolves a site id into its stored AOI.
func (h *Sites) region(ctx context.Context, tenantID uuid.UUID, rawID string) (aoi.AOI, *models.Site, error) {
	siteID, err := uuid.Parse(rawID)
	if err != nil {
		return aoi.AOI{}, nil, store.ErrNotFound
	}
	site, err := h.Load(ctx, tenantID, siteID)
	if err != nil {
		return aoi.AOI{}, nil, err
	}
	region, err := aoi.FromGeoJSON(site.Geometry)
	if err != nil {
		return aoi.AOI{}, nil, err
	}
	return region, site, nil
}

func writeSiteError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "SITE_NOT_FOUND", "Site not found", nil)
		return
	}
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load site", nil)
}
