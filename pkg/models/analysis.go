package models

import (
	"maps"
	"slices"
)

// ComparisonMode selects how periods are paired for change detection.
type ComparisonMode string

const (
	// CompareToReference compares every period against the reference period.
	CompareToReference ComparisonMode = "reference"
	// CompareSequential compares each period with the next one in configured order.
	CompareSequential ComparisonMode = "sequential"
)

// AnalysisConfig is the configuration snapshot attached to a job at creation.
type AnalysisConfig struct {
	SiteName        string                   `json:"site_name"`
	Periods         []string                 `json:"periods"`
	Indices         []string                 `json:"indices"`
	ReferencePeriod string                   `json:"reference_period"`
	ComparisonMode  ComparisonMode           `json:"comparison_mode"`
	CloudThreshold  float64                  `json:"cloud_threshold"`
	ScaleMeters     float64                  `json:"scale_meters"`
	Thresholds      map[string]ThresholdSpec `json:"thresholds,omitempty"`
	Export          ExportConfig             `json:"export"`
}

// ThresholdSpec carries the six boundaries for one index. It is validated by
// change.NewThresholds before use.
type ThresholdSpec struct {
	StrongLoss   float64 `json:"strong_loss"`
	ModerateLoss float64 `json:"moderate_loss"`
	StableMin    float64 `json:"stable_min"`
	StableMax    float64 `json:"stable_max"`
	ModerateGain float64 `json:"moderate_gain"`
	StrongGain   float64 `json:"strong_gain"`
}

// ExportConfig controls whether composites and change images are exported after a job completes.
type ExportConfig struct {
	Enabled     bool   `json:"enabled"`
	Destination string `json:"destination,omitempty"`
	Folder      string `json:"folder,omitempty"`
	Prefix      string `json:"prefix,omitempty"`
}

// DefaultAnalysisConfig returns the configuration used when a caller supplies none.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		SiteName:        "Analysis Site",
		Periods:         []string{"1990s", "2000s", "2010s", "present"},
		Indices:         []string{"ndvi", "nbr"},
		ReferencePeriod: "1990s",
		ComparisonMode:  CompareToReference,
		CloudThreshold:  20,
		ScaleMeters:     30,
		Export: ExportConfig{
			Destination: "drive",
			Folder:      "VegChangeAnalysis",
		},
	}
}

// Clone returns a deep copy so later caller-side mutation cannot reach a stored job.
func (c AnalysisConfig) Clone() AnalysisConfig {
	out := c
	// slices.Clone keeps an explicit empty list distinct from nil (nil means defaults).
	out.Periods = slices.Clone(c.Periods)
	out.Indices = slices.Clone(c.Indices)
	if c.Thresholds != nil {
		out.Thresholds = maps.Clone(c.Thresholds)
	}
	return out
}

// JobResults is the serializable projection of an analysis stored on a completed job.
// It never holds engine handles.
type JobResults struct {
	Comparisons []string                        `json:"comparisons"`
	Statistics  map[string]ComparisonStatistics `json:"statistics"`
	AOI         *AOISummary                     `json:"aoi,omitempty"`
	Exports     []ExportTask                    `json:"exports,omitempty"`
	Config      AnalysisConfig                  `json:"config"`
}

// Clone returns a deep copy of the results.
func (r *JobResults) Clone() *JobResults {
	if r == nil {
		return nil
	}
	c := *r
	c.Comparisons = slices.Clone(r.Comparisons)
	if r.Statistics != nil {
		c.Statistics = make(map[string]ComparisonStatistics, len(r.Statistics))
		for k, v := range r.Statistics {
			c.Statistics[k] = v.Clone()
		}
	}
	if r.AOI != nil {
		a := *r.AOI
		c.AOI = &a
	}
	c.Exports = slices.Clone(r.Exports)
	c.Config = r.Config.Clone()
	return &c
}

// ComparisonStatistics summarises one comparison artifact, per index.
type ComparisonStatistics struct {
	Key       string                     `json:"key"`
	Reference string                     `json:"reference_period"`
	Period    string                     `json:"comparison_period"`
	Indices   map[string]IndexStatistics `json:"indices"`
}

// Clone returns a deep copy.
func (s ComparisonStatistics) Clone() ComparisonStatistics {
	c := s
	if s.Indices != nil {
		c.Indices = make(map[string]IndexStatistics, len(s.Indices))
		for k, v := range s.Indices {
			v.Classes = slices.Clone(v.Classes)
			c.Indices[k] = v
		}
	}
	return c
}

// IndexStatistics is the class histogram of one index's class band.
type IndexStatistics struct {
	Band        string         `json:"band"`
	TotalPixels int64          `json:"total_pixels"`
	AreaHa      float64        `json:"area_ha"`
	Classes     []ClassSummary `json:"classes"`
}

// ClassSummary holds pixel count and area for one change class.
type ClassSummary struct {
	Class   ChangeClass `json:"class"`
	Label   string      `json:"label"`
	Color   string      `json:"color"`
	Pixels  int64       `json:"pixels"`
	AreaHa  float64     `json:"area_ha"`
	Percent float64     `json:"percent"`
}

// AOISummary describes the analysed area.
type AOISummary struct {
	CentroidLon float64 `json:"centroid_lon"`
	CentroidLat float64 `json:"centroid_lat"`
	AreaHa      float64 `json:"area_ha"`
}

// ExportTask records one submitted raster export.
type ExportTask struct {
	TaskID      string `json:"task_id"`
	Kind        string `json:"kind"`
	Period      string `json:"period,omitempty"`
	Comparison  string `json:"comparison,omitempty"`
	Destination string `json:"destination"`
	Description string `json:"description"`
}

// Export task kinds.
const (
	ExportComposite = "composite"
	ExportChange    = "change"
)
