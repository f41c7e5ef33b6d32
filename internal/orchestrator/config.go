package orchestrator

import (
	"errors"
	"fmt"
	"slices"

	"github.com/kiranshivaraju/vegchange/internal/catalog"
	"github.com/kiranshivaraju/vegchange/internal/change"
	"github.com/kiranshivaraju/vegchange/internal/index"
	"github.com/kiranshivaraju/vegchange/internal/raster"
	"github.com/kiranshivaraju/vegchange/pkg/models"
)

var ErrInvalidConfig = errors.New("invalid analysis configuration")

// Normalize fills unset fields of cfg from defaults and returns a private copy.
func Normalize(cfg, defaults models.AnalysisConfig) models.AnalysisConfig {
	out := cfg.Clone()
	if out.SiteName == "" {
		out.SiteName = defaults.SiteName
	}
	if len(out.Periods) == 0 {
		out.Periods = slices.Clone(defaults.Periods)
	}
	if len(out.Indices) == 0 && cfg.Indices == nil {
		out.Indices = slices.Clone(defaults.Indices)
	}
	if out.ReferencePeriod == "" {
		out.ReferencePeriod = defaults.ReferencePeriod
	}
	if out.ComparisonMode == "" {
		out.ComparisonMode = defaults.ComparisonMode
	}
	if out.CloudThreshold == 0 {
		out.CloudThreshold = defaults.CloudThreshold
	}
	if out.ScaleMeters == 0 {
		out.ScaleMeters = defaults.ScaleMeters
	}
	if out.Export.Enabled {
		if out.Export.Destination == "" {
			out.Export.Destination = defaults.Export.Destination
		}
		if out.Export.Folder == "" {
			out.Export.Folder = defaults.Export.Folder
		}
	}
	return out
}

// Validate checks cfg against the period catalog and index registry and
// resolves the thresholds for each requested index. Every error wraps
// ErrInvalidConfig.
func Validate(cfg models.AnalysisConfig) (map[string]change.Thresholds, error) {
	if len(cfg.Periods) == 0 {
		return nil, fmt.Errorf("%w: at least one period is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(cfg.Periods))
	for _, p := range cfg.Periods {
		if _, err := catalog.Lookup(p); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		if seen[p] {
			return nil, fmt.Errorf("%w: period %q listed twice", ErrInvalidConfig, p)
		}
		seen[p] = true
	}

	switch cfg.ComparisonMode {
	case models.CompareToReference:
		if !seen[cfg.ReferencePeriod] {
			return nil, fmt.Errorf("%w: %w: %q", ErrInvalidConfig, change.ErrUnknownReferencePeriod, cfg.ReferencePeriod)
		}
	case models.CompareSequential:
	default:
		return nil, fmt.Errorf("%w: comparison_mode must be reference or sequential, got %q", ErrInvalidConfig, cfg.ComparisonMode)
	}

	thresholds := make(map[string]change.Thresholds, len(cfg.Indices))
	for _, name := range cfg.Indices {
		if _, err := index.Lookup(name); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		t, err := change.ResolveThresholds(name, cfg.Thresholds)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		thresholds[name] = t
	}
	for name := range cfg.Thresholds {
		if !slices.Contains(cfg.Indices, name) {
			return nil, fmt.Errorf("%w: thresholds given for unrequested index %q", ErrInvalidConfig, name)
		}
	}

	if cfg.CloudThreshold < 0 || cfg.CloudThreshold > 100 {
		return nil, fmt.Errorf("%w: cloud_threshold must be between 0 and 100, got %g", ErrInvalidConfig, cfg.CloudThreshold)
	}
	if cfg.ScaleMeters <= 0 {
		return nil, fmt.Errorf("%w: scale_meters must be positive, got %g", ErrInvalidConfig, cfg.ScaleMeters)
	}
	if cfg.Export.Enabled && !raster.ValidDestination(cfg.Export.Destination) {
		return nil, fmt.Errorf("%w: export destination must be drive, cloud_storage or asset, got %q", ErrInvalidConfig, cfg.Export.Destination)
	}
	return thresholds, nil
}
