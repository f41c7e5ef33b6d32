// Package aoi models the area of interest an analysis runs over.
//
// An AOI is a Polygon or MultiPolygon in WGS84 longitude/latitude. It is a
// read-only value once constructed; nothing downstream mutates it.
package aoi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/kiranshivaraju/vegchange/pkg/models"
)

// CRS is the only coordinate reference system accepted.
const CRS = "EPSG:4326"

const squareMetersPerHectare = 10_000.0

var (
	ErrInvalidGeometry   = errors.New("invalid AOI geometry")
	ErrUnsupportedFormat = errors.New("unsupported AOI file format")
	errNoPolygons        = errors.New("no polygon found")
)

// AOI is a validated Polygon or MultiPolygon.
type AOI struct {
	geom orb.Geometry
}

// New validates g and wraps it. Only orb.Polygon and orb.MultiPolygon are accepted.
func New(g orb.Geometry) (AOI, error) {
	switch v := g.(type) {
	case orb.Polygon:
		if err := validatePolygon(v); err != nil {
			return AOI{}, err
		}
	case orb.MultiPolygon:
		if len(v) == 0 {
			return AOI{}, fmt.Errorf("%w: empty multipolygon", ErrInvalidGeometry)
		}
		for i, p := range v {
			if err := validatePolygon(p); err != nil {
				return AOI{}, fmt.Errorf("polygon %d: %w", i, err)
			}
		}
	case nil:
		return AOI{}, fmt.Errorf("%w: geometry is required", ErrInvalidGeometry)
	default:
		return AOI{}, fmt.Errorf("%w: type must be Polygon or MultiPolygon, got %s", ErrInvalidGeometry, g.GeoJSONType())
	}
	return AOI{geom: g}, nil
}

// FromBBox builds a rectangular AOI from WGS84 bounds.
func FromBBox(minLon, minLat, maxLon, maxLat float64) (AOI, error) {
	if maxLon <= minLon {
		return AOI{}, fmt.Errorf("%w: max_lon must be greater than min_lon", ErrInvalidGeometry)
	}
	if maxLat <= minLat {
		return AOI{}, fmt.Errorf("%w: max_lat must be greater than min_lat", ErrInvalidGeometry)
	}
	b := orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}
	return New(b.ToPolygon())
}

// FromGeoJSON accepts a bare Polygon/MultiPolygon geometry, a Feature, or a
// FeatureCollection. Polygons from several features are merged into one MultiPolygon.
func FromGeoJSON(data []byte) (AOI, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return AOI{}, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}

	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return AOI{}, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		geoms := make([]orb.Geometry, 0, len(fc.Features))
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
		return fromGeometries(geoms)
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return AOI{}, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		return New(f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return AOI{}, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		return New(g.Geometry())
	}
}

func fromGeometries(geoms []orb.Geometry) (AOI, error) {
	var mp orb.MultiPolygon
	for _, g := range geoms {
		switch v := g.(type) {
		case orb.Polygon:
			mp = append(mp, v)
		case orb.MultiPolygon:
			mp = append(mp, v...)
		}
	}
	switch len(mp) {
	case 0:
		return AOI{}, fmt.Errorf("%w: %v", ErrInvalidGeometry, errNoPolygons)
	case 1:
		return New(mp[0])
	default:
		return New(mp)
	}
}

func validatePolygon(p orb.Polygon) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: polygon has no rings", ErrInvalidGeometry)
	}
	for _, r := range p {
		if len(r) < 4 {
			return fmt.Errorf("%w: ring needs at least 4 positions, got %d", ErrInvalidGeometry, len(r))
		}
		if !r.Closed() {
			return fmt.Errorf("%w: ring is not closed", ErrInvalidGeometry)
		}
		for _, pt := range r {
			if pt.Lon() < -180 || pt.Lon() > 180 || pt.Lat() < -90 || pt.Lat() > 90 {
				return fmt.Errorf("%w: position %v outside WGS84 bounds", ErrInvalidGeometry, pt)
			}
		}
	}
	return nil
}

// Geometry returns the underlying geometry. Callers must treat it as read-only.
func (a AOI) Geometry() orb.Geometry { return a.geom }

// IsZero reports whether a is the zero value.
func (a AOI) IsZero() bool { return a.geom == nil }

// Bound returns the bounding box.
func (a AOI) Bound() orb.Bound { return a.geom.Bound() }

// Centroid returns the planar area-weighted centroid in lon/lat.
func (a AOI) Centroid() orb.Point {
	c, _ := planar.CentroidArea(a.geom)
	return c
}

// AreaHectares returns the geodesic area approximation in hectares.
func (a AOI) AreaHectares() float64 {
	return math.Abs(geo.Area(a.geom)) / squareMetersPerHectare
}

// Summary returns the serializable description stored on job results.
func (a AOI) Summary() models.AOISummary {
	c := a.Centroid()
	return models.AOISummary{
		CentroidLon: c.Lon(),
		CentroidLat: c.Lat(),
		AreaHa:      a.AreaHectares(),
	}
}

// MarshalJSON encodes the AOI as a GeoJSON geometry.
func (a AOI) MarshalJSON() ([]byte, error) {
	if a.geom == nil {
		return []byte("null"), nil
	}
	return geojson.NewGeometry(a.geom).MarshalJSON()
}

// UnmarshalJSON decodes a GeoJSON geometry and validates it.
func (a *AOI) UnmarshalJSON(data []byte) error {
	v, err := FromGeoJSON(data)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
