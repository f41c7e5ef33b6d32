// Package raster is the boundary to the engine that owns imagery.
//
// The engine holds pixels; this service only holds opaque image handles and
// asks the engine to composite, derive and reduce them. Two engines exist: an
// HTTP client for a remote processing service and an in-process grid engine
// used for local runs and tests.
package raster

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/kiranshivaraju/vegchange/internal/aoi"
)

// Sentinel errors for engine failures.
var (
	ErrEngineUnreachable = errors.New("raster engine unreachable")
	ErrEngineTimeout     = errors.New("raster engine timeout")
	ErrEngineRejected    = errors.New("raster engine rejected request")
	ErrUnknownImage      = errors.New("unknown image")
	ErrUnknownBand       = errors.New("unknown band")
	ErrTaskNotFound      = errors.New("export task not found")
)

// Engine is the set of raster operations the change analysis needs.
// Images are immutable: every operation returns a new handle.
type Engine interface {
	Name() string
	Ready(ctx context.Context) error

	// Composite builds a cloud-masked median composite over the AOI.
	Composite(ctx context.Context, req CompositeRequest) (Image, error)
	// AddIndex computes a spectral index and appends it as a band named after the index.
	AddIndex(ctx context.Context, img Image, index string) (Image, error)
	// Subtract computes a.aBand - b.bBand into a single-band image called name.
	Subtract(ctx context.Context, a Image, aBand string, b Image, bBand string, name string) (Image, error)
	// Reclassify maps band values through rules. The first matching rule wins;
	// values matching none get fallback. The result has a single band called name.
	Reclassify(ctx context.Context, img Image, band string, rules []Rule, fallback int, name string) (Image, error)
	// AddBands copies bands from src onto dst.
	AddBands(ctx context.Context, dst, src Image, bands ...string) (Image, error)
	// Empty returns an image with no bands.
	Empty(ctx context.Context) (Image, error)
	SetProperties(ctx context.Context, img Image, props map[string]string) (Image, error)
	// Histogram counts pixels per integer value of band inside region.
	Histogram(ctx context.Context, img Image, band string, region aoi.AOI, scale float64) (Histogram, error)

	SubmitExport(ctx context.Context, img Image, dst Destination) (Task, error)
	TaskStatus(ctx context.Context, taskID string) (Task, error)
}

// Image is an engine-side image handle.
type Image struct {
	ID         string            `json:"id"`
	Bands      []string          `json:"bands"`
	Properties map[string]string `json:"properties,omitempty"`
}

// HasBand reports whether the image carries band.
func (i Image) HasBand(band string) bool { return slices.Contains(i.Bands, band) }

// Clone returns a copy that shares no slices or maps with i.
func (i Image) Clone() Image {
	out := i
	out.Bands = slices.Clone(i.Bands)
	out.Properties = maps.Clone(i.Properties)
	return out
}

// CompositeRequest describes one temporal composite.
type CompositeRequest struct {
	AOI            aoi.AOI   `json:"aoi"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Sensors        []string  `json:"sensors"`
	CloudThreshold float64   `json:"cloud_threshold"`
}

// Rule assigns Class to values inside an interval. A nil bound is open.
type Rule struct {
	Min          *float64 `json:"min,omitempty"`
	MinInclusive bool     `json:"min_inclusive,omitempty"`
	Max          *float64 `json:"max,omitempty"`
	MaxInclusive bool     `json:"max_inclusive,omitempty"`
	Class        int      `json:"class"`
}

// Matches reports whether v falls in the rule's interval. NaN matches nothing.
func (r Rule) Matches(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	if r.Min != nil {
		if r.MinInclusive && v < *r.Min || !r.MinInclusive && v <= *r.Min {
			return false
		}
	}
	if r.Max != nil {
		if r.MaxInclusive && v > *r.Max || !r.MaxInclusive && v >= *r.Max {
			return false
		}
	}
	return true
}

// Apply returns the class of the first matching rule, or fallback.
func Apply(rules []Rule, v float64, fallback int) int {
	for _, r := range rules {
		if r.Matches(v) {
			return r.Class
		}
	}
	return fallback
}

// Histogram maps an integer pixel value to its pixel count.
type Histogram map[int]int64

// Total returns the number of counted pixels.
func (h Histogram) Total() int64 {
	var n int64
	for _, c := range h {
		n += c
	}
	return n
}

// Export destinations.
const (
	DestinationDrive        = "drive"
	DestinationCloudStorage = "cloud_storage"
	DestinationAsset        = "asset"
)

// ValidDestination reports whether kind names a known export destination.
func ValidDestination(kind string) bool {
	switch kind {
	case DestinationDrive, DestinationCloudStorage, DestinationAsset:
		return true
	}
	return false
}

// Destination describes where an export lands.
type Destination struct {
	Kind        string  `json:"kind"`
	Folder      string  `json:"folder"`
	Description string  `json:"description"`
	Region      aoi.AOI `json:"region"`
	Scale       float64 `json:"scale"`
}

// TaskState is the engine-side state of an export task.
type TaskState string

const (
	TaskReady     TaskState = "READY"
	TaskRunning   TaskState = "RUNNING"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
	TaskCancelled TaskState = "CANCELLED"
)

// Terminal reports whether the task will not change state again.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is an export task as reported by the engine.
type Task struct {
	ID          string    `json:"id"`
	State       TaskState `json:"state"`
	Description string    `json:"description"`
	Error       string    `json:"error,omitempty"`
}

func bandError(img Image, band string) error {
	return fmt.Errorf("%w: %q not in image %s", ErrUnknownBand, band, img.ID)
}
