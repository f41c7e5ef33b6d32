// Package handler implements the HTTP endpoints. Handlers depend on narrow
// interfaces so each can be tested against fakes.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/vegchange/internal/aoi"
	"github.com/kiranshivaraju/vegchange/internal/api/response"
)

const maxBodyBytes = 4 << 20

var errAmbiguousAOI = errors.New("exactly one of bbox, geometry or site_id is required")

// aoiRequest is the inline area of interest accepted by analysis and site requests.
type aoiRequest struct {
	BBox     []float64       `json:"bbox,omitempty"`
	Geometry json.RawMessage `json:"geometry,omitempty"`
	SiteID   string          `json:"site_id,omitempty"`
}

func (a aoiRequest) forms() int {
	n := 0
	if a.BBox != nil {
		n++
	}
	if len(a.Geometry) > 0 && string(a.Geometry) != "null" {
		n++
	}
	if a.SiteID != "" {
		n++
	}
	return n
}

// inline builds the AOI from a bbox or geometry. It does not resolve site ids.
func (a aoiRequest) inline() (aoi.AOI, error) {
	if a.BBox != nil {
		if len(a.BBox) != 4 {
			return aoi.AOI{}, fmt.Errorf("%w: bbox needs [min_lon, min_lat, max_lon, max_lat]", aoi.ErrInvalidGeometry)
		}
		return aoi.FromBBox(a.BBox[0], a.BBox[1], a.BBox[2], a.BBox[3])
	}
	return aoi.FromGeoJSON(a.Geometry)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return false
	}
	return true
}

// intParam parses an optional integer query parameter within [lo, hi].
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", name, lo, hi)
	}
	return v, nil
}
