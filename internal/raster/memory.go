package raster

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/kiranshivaraju/vegchange/internal/aoi"
	"github.com/kiranshivaraju/vegchange/internal/index"
)

const defaultGridSize = 64

// SceneFunc returns the harmonized reflectance of pixel (x, y) in a size x size
// composite built for req.
type SceneFunc func(req CompositeRequest, x, y, size int) index.Bands

// MemoryOption configures a MemoryEngine.
type MemoryOption func(*MemoryEngine)

// WithGridSize sets the side length, in pixels, of every composite.
func WithGridSize(n int) MemoryOption {
	return func(e *MemoryEngine) {
		if n > 0 {
			e.size = n
		}
	}
}

// WithScene replaces the synthetic reflectance generator.
func WithScene(fn SceneFunc) MemoryOption {
	return func(e *MemoryEngine) {
		if fn != nil {
			e.scene = fn
		}
	}
}

// MemoryEngine evaluates every operation on in-process pixel grids.
// Composites cover the AOI's bounding box; pixels whose centre falls outside
// the AOI are masked (NaN) and never counted.
type MemoryEngine struct {
	size  int
	scene SceneFunc

	mu     sync.RWMutex
	images map[string]*memImage
	tasks  map[string]Task
}

type memImage struct {
	bound orb.Bound
	size  int
	order []string
	bands map[string][]float64
	props map[string]string
}

// NewMemoryEngine creates an engine with the default synthetic scene.
func NewMemoryEngine(opts ...MemoryOption) *MemoryEngine {
	e := &MemoryEngine{
		size:   defaultGridSize,
		scene:  DefaultScene,
		images: make(map[string]*memImage),
		tasks:  make(map[string]Task),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *MemoryEngine) Name() string { return "memory" }

func (e *MemoryEngine) Ready(ctx context.Context) error { return checkContext(ctx) }

func (e *MemoryEngine) Composite(ctx context.Context, req CompositeRequest) (Image, error) {
	if err := checkContext(ctx); err != nil {
		return Image{}, err
	}
	if req.AOI.IsZero() {
		return Image{}, fmt.Errorf("%w: composite needs an AOI", ErrEngineRejected)
	}
	if !req.End.After(req.Start) {
		return Image{}, fmt.Errorf("%w: composite window is empty", ErrEngineRejected)
	}
	if len(req.Sensors) == 0 {
		return Image{}, fmt.Errorf("%w: composite needs at least one sensor", ErrEngineRejected)
	}

	n := e.size
	img := &memImage{
		bound: req.AOI.Bound(),
		size:  n,
		order: []string{index.BandBlue, index.BandGreen, index.BandRed, index.BandNIR, index.BandSWIR1, index.BandSWIR2},
		bands: make(map[string][]float64),
		props: map[string]string{
			"start":   req.Start.Format(time.DateOnly),
			"end":     req.End.Format(time.DateOnly),
			"sensors": strings.Join(req.Sensors, ","),
		},
	}
	for _, b := range img.order {
		img.bands[b] = make([]float64, n*n)
	}

	geom := req.AOI.Geometry()
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			i := y*n + x
			inside := contains(geom, img.pixelCenter(x, y))
			var px index.Bands
			if inside {
				px = e.scene(req, x, y, n)
			}
			for _, b := range img.order {
				if inside {
					img.bands[b][i] = px[b]
				} else {
					img.bands[b][i] = math.NaN()
				}
			}
		}
	}
	return e.store(img), nil
}

func (e *MemoryEngine) AddIndex(ctx context.Context, img Image, name string) (Image, error) {
	if err := checkContext(ctx); err != nil {
		return Image{}, err
	}
	idx, err := index.Lookup(name)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrEngineRejected, err)
	}
	src, err := e.image(img)
	if err != nil {
		return Image{}, err
	}

	out := src.clone()
	values := make([]float64, src.size*src.size)
	px := make(index.Bands, len(src.order))
	for i := range values {
		masked := false
		for _, b := range src.order {
			v := src.bands[b][i]
			if math.IsNaN(v) {
				masked = true
			}
			px[b] = v
		}
		if masked {
			values[i] = math.NaN()
			continue
		}
		values[i] = idx.Compute(px)
	}
	out.setBand(name, values)
	return e.store(out), nil
}

func (e *MemoryEngine) Subtract(ctx context.Context, a Image, aBand string, b Image, bBand string, name string) (Image, error) {
	if err := checkContext(ctx); err != nil {
		return Image{}, err
	}
	ia, err := e.image(a)
	if err != nil {
		return Image{}, err
	}
	ib, err := e.image(b)
	if err != nil {
		return Image{}, err
	}
	va, ok := ia.bands[aBand]
	if !ok {
		return Image{}, bandError(a, aBand)
	}
	vb, ok := ib.bands[bBand]
	if !ok {
		return Image{}, bandError(b, bBand)
	}
	if ia.size != ib.size || ia.bound != ib.bound {
		return Image{}, fmt.Errorf("%w: images %s and %s are on different grids", ErrEngineRejected, a.ID, b.ID)
	}

	out := ia.empty()
	values := make([]float64, len(va))
	for i := range values {
		values[i] = va[i] - vb[i]
	}
	out.setBand(name, values)
	return e.store(out), nil
}

func (e *MemoryEngine) Reclassify(ctx context.Context, img Image, band string, rules []Rule, fallback int, name string) (Image, error) {
	if err := checkContext(ctx); err != nil {
		return Image{}, err
	}
	src, err := e.image(img)
	if err != nil {
		return Image{}, err
	}
	in, ok := src.bands[band]
	if !ok {
		return Image{}, bandError(img, band)
	}

	out := src.empty()
	values := make([]float64, len(in))
	for i, v := range in {
		if math.IsNaN(v) {
			values[i] = math.NaN()
			continue
		}
		values[i] = float64(Apply(rules, v, fallback))
	}
	out.setBand(name, values)
	return e.store(out), nil
}

func (e *MemoryEngine) AddBands(ctx context.Context, dst, src Image, bands ...string) (Image, error) {
	if err := checkContext(ctx); err != nil {
		return Image{}, err
	}
	d, err := e.image(dst)
	if err != nil {
		return Image{}, err
	}
	s, err := e.image(src)
	if err != nil {
		return Image{}, err
	}
	if len(bands) == 0 {
		bands = s.order
	}

	out := d.clone()
	if out.size == 0 {
		out.size, out.bound = s.size, s.bound
	} else if out.size != s.size || out.bound != s.bound {
		return Image{}, fmt.Errorf("%w: images %s and %s are on different grids", ErrEngineRejected, dst.ID, src.ID)
	}
	for _, b := range bands {
		values, ok := s.bands[b]
		if !ok {
			return Image{}, bandError(src, b)
		}
		out.setBand(b, slices.Clone(values))
	}
	return e.store(out), nil
}

func (e *MemoryEngine) Empty(ctx context.Context) (Image, error) {
	if err := checkContext(ctx); err != nil {
		return Image{}, err
	}
	return e.store(&memImage{bands: map[string][]float64{}, props: map[string]string{}}), nil
}

func (e *MemoryEngine) SetProperties(ctx context.Context, img Image, props map[string]string) (Image, error) {
	if err := checkContext(ctx); err != nil {
		return Image{}, err
	}
	src, err := e.image(img)
	if err != nil {
		return Image{}, err
	}
	out := src.clone()
	maps.Copy(out.props, props)
	return e.store(out), nil
}

func (e *MemoryEngine) Histogram(ctx context.Context, img Image, band string, region aoi.AOI, scale float64) (Histogram, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if scale <= 0 {
		return nil, fmt.Errorf("%w: scale must be positive", ErrEngineRejected)
	}
	src, err := e.image(img)
	if err != nil {
		return nil, err
	}
	values, ok := src.bands[band]
	if !ok {
		return nil, bandError(img, band)
	}

	var geom orb.Geometry
	if !region.IsZero() {
		geom = region.Geometry()
	}
	h := Histogram{}
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if geom != nil && !contains(geom, src.pixelCenter(i%src.size, i/src.size)) {
			continue
		}
		h[int(math.Round(v))]++
	}
	return h, nil
}

func (e *MemoryEngine) SubmitExport(ctx context.Context, img Image, dst Destination) (Task, error) {
	if err := checkContext(ctx); err != nil {
		return Task{}, err
	}
	if !ValidDestination(dst.Kind) {
		return Task{}, fmt.Errorf("%w: unknown destination %q", ErrEngineRejected, dst.Kind)
	}
	if _, err := e.image(img); err != nil {
		return Task{}, err
	}
	t := Task{ID: uuid.NewString(), State: TaskRunning, Description: dst.Description}

	e.mu.Lock()
	e.tasks[t.ID] = t
	e.mu.Unlock()
	return t, nil
}

// TaskStatus reports a running task as completed on the first poll after submission.
func (e *MemoryEngine) TaskStatus(ctx context.Context, taskID string) (Task, error) {
	if err := checkContext(ctx); err != nil {
		return Task{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if t.State == TaskRunning {
		t.State = TaskCompleted
		e.tasks[taskID] = t
	}
	return t, nil
}

func (e *MemoryEngine) image(img Image) (*memImage, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.images[img.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownImage, img.ID)
	}
	return m, nil
}

func (e *MemoryEngine) store(m *memImage) Image {
	id := uuid.NewString()
	e.mu.Lock()
	e.images[id] = m
	e.mu.Unlock()
	return Image{ID: id, Bands: slices.Clone(m.order), Properties: maps.Clone(m.props)}
}

// clone shares band slices with m. Band data is never written after creation.
func (m *memImage) clone() *memImage {
	return &memImage{
		bound: m.bound,
		size:  m.size,
		order: slices.Clone(m.order),
		bands: maps.Clone(m.bands),
		props: maps.Clone(m.props),
	}
}

func (m *memImage) empty() *memImage {
	return &memImage{bound: m.bound, size: m.size, bands: map[string][]float64{}, props: map[string]string{}}
}

func (m *memImage) setBand(name string, values []float64) {
	if _, ok := m.bands[name]; !ok {
		m.order = append(m.order, name)
	}
	m.bands[name] = values
}

func (m *memImage) pixelCenter(x, y int) orb.Point {
	dx := (m.bound.Max.Lon() - m.bound.Min.Lon()) / float64(m.size)
	dy := (m.bound.Max.Lat() - m.bound.Min.Lat()) / float64(m.size)
	return orb.Point{
		m.bound.Min.Lon() + (float64(x)+0.5)*dx,
		m.bound.Max.Lat() - (float64(y)+0.5)*dy,
	}
}

func contains(g orb.Geometry, p orb.Point) bool {
	switch v := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(v, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(v, p)
	}
	return false
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
	}
	return nil
}

// DefaultScene is a deterministic landscape that loses vegetation towards the
// east and regrows in the south-west as the composite window moves forward.
func DefaultScene(req CompositeRequest, x, y, size int) index.Bands {
	mid := req.Start.Add(req.End.Sub(req.Start) / 2)
	t := clamp01(float64(mid.Year()-1985) / 40)
	fx := (float64(x) + 0.5) / float64(size)
	fy := (float64(y) + 0.5) / float64(size)

	vigor := clamp01(0.8 - 0.7*t*fx + 0.4*t*(1-fx)*fy)
	return index.Bands{
		index.BandBlue:  0.05,
		index.BandGreen: 0.08,
		index.BandRed:   0.12 - 0.08*vigor,
		index.BandNIR:   0.15 + 0.35*vigor,
		index.BandSWIR1: 0.25 - 0.10*vigor,
		index.BandSWIR2: 0.20 - 0.12*vigor,
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

var _ Engine = (*MemoryEngine)(nil)
