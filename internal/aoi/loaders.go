package aoi

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/paulmach/orb"
)

// Loader decodes an AOI from file contents it recognises by name.
type Loader interface {
	Supports(name string) bool
	Decode(data []byte) (AOI, error)
}

var (
	loadersMu sync.RWMutex
	loaders   = []Loader{geoJSONLoader{}, kmlLoader{}, kmzLoader{}}
)

// RegisterLoader appends a loader. Loaders are consulted in registration order.
func RegisterLoader(l Loader) {
	loadersMu.Lock()
	defer loadersMu.Unlock()
	loaders = append(loaders, l)
}

// Load reads the file at path and decodes it with Parse.
func Load(path string) (AOI, error) {
	if loaderFor(path) == nil {
		return AOI{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return AOI{}, fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}
	return Parse(filepath.Base(path), data)
}

// Parse decodes data with the first loader supporting name, usually an
// uploaded file name.
func Parse(name string, data []byte) (AOI, error) {
	l := loaderFor(name)
	if l == nil {
		return AOI{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
	a, err := l.Decode(data)
	if err != nil {
		return AOI{}, fmt.Errorf("load %s: %w", filepath.Base(name), err)
	}
	return a, nil
}

func loaderFor(name string) Loader {
	loadersMu.RLock()
	defer loadersMu.RUnlock()
	for _, l := range loaders {
		if l.Supports(name) {
			return l
		}
	}
	return nil
}

func hasExt(path string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

type geoJSONLoader struct{}

func (geoJSONLoader) Supports(name string) bool { return hasExt(name, ".geojson", ".json") }

func (geoJSONLoader) Decode(data []byte) (AOI, error) { return FromGeoJSON(data) }

type kmlLoader struct{}

func (kmlLoader) Supports(name string) bool { return hasExt(name, ".kml") }

func (kmlLoader) Decode(data []byte) (AOI, error) { return parseKML(bytes.NewReader(data)) }

type kmzLoader struct{}

func (kmzLoader) Supports(name string) bool { return hasExt(name, ".kmz") }

// Decode reads doc.kml from the archive, or the first .kml entry if there is no doc.kml.
func (kmzLoader) Decode(data []byte) (AOI, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return AOI{}, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}

	var entry *zip.File
	for _, f := range zr.File {
		if !hasExt(f.Name, ".kml") {
			continue
		}
		if entry == nil || filepath.Base(f.Name) == "doc.kml" {
			entry = f
		}
	}
	if entry == nil {
		return AOI{}, fmt.Errorf("%w: no .kml entry in archive", ErrInvalidGeometry)
	}

	rc, err := entry.Open()
	if err != nil {
		return AOI{}, err
	}
	defer rc.Close()
	return parseKML(rc)
}

type kmlPolygon struct {
	Outer string   `xml:"outerBoundaryIs>LinearRing>coordinates"`
	Inner []string `xml:"innerBoundaryIs>LinearRing>coordinates"`
}

// parseKML collects every Polygon element in the document, wherever it is nested.
func parseKML(r io.Reader) (AOI, error) {
	dec := xml.NewDecoder(r)
	var geoms []orb.Geometry
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return AOI{}, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Polygon" {
			continue
		}
		var kp kmlPolygon
		if err := dec.DecodeElement(&kp, &start); err != nil {
			return AOI{}, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		outer, err := parseKMLCoordinates(kp.Outer)
		if err != nil {
			return AOI{}, err
		}
		poly := orb.Polygon{outer}
		for _, in := range kp.Inner {
			ring, err := parseKMLCoordinates(in)
			if err != nil {
				return AOI{}, err
			}
			poly = append(poly, ring)
		}
		geoms = append(geoms, poly)
	}
	return fromGeometries(geoms)
}

// parseKMLCoordinates parses whitespace-separated "lon,lat[,alt]" tuples.
func parseKMLCoordinates(s string) (orb.Ring, error) {
	var ring orb.Ring
	for _, tuple := range strings.Fields(s) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: bad KML coordinate %q", ErrInvalidGeometry, tuple)
		}
		lon, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad longitude %q", ErrInvalidGeometry, parts[0])
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad latitude %q", ErrInvalidGeometry, parts[1])
		}
		ring = append(ring, orb.Point{lon, lat})
	}
	return ring, nil
}
