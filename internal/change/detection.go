// Package change computes per-index deltas between period composites and
// classifies them into the five change classes.
package change

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kiranshivaraju/vegchange/internal/raster"
)

var (
	ErrUnknownReferencePeriod = errors.New("reference period not among composites")
	ErrUnknownPeriod          = errors.New("period not among composites")
	ErrMissingBand            = errors.New("composite is missing index band")
)

// Property keys set on every comparison artifact.
const (
	PropReferencePeriod  = "reference_period"
	PropComparisonPeriod = "comparison_period"
	PropIndices          = "indices"
)

// DeltaBand names the raw delta band of an index.
func DeltaBand(index string) string { return "d" + index }

// ClassBand names the classified band of an index.
func ClassBand(index string) string { return "change_class_" + index }

// ComparisonKey identifies the change between two periods.
func ComparisonKey(from, to string) string { return from + "_to_" + to }

// Analyzer builds change artifacts on an engine. Thresholds not present in
// its table come from the per-index defaults.
type Analyzer struct {
	engine     raster.Engine
	thresholds map[string]Thresholds
}

// NewAnalyzer creates an analyzer. thresholds may be nil.
func NewAnalyzer(engine raster.Engine, thresholds map[string]Thresholds) *Analyzer {
	return &Analyzer{engine: engine, thresholds: thresholds}
}

func (a *Analyzer) thresholdsFor(index string) Thresholds {
	if t, ok := a.thresholds[index]; ok {
		return t
	}
	return DefaultThresholds(index)
}

// PeriodChange computes after - before for index into band d<index>,
// classifies it and returns one image with both the delta and class bands.
// A nil t uses the analyzer's thresholds for the index.
func (a *Analyzer) PeriodChange(ctx context.Context, before, after raster.Image, index string, t *Thresholds) (raster.Image, error) {
	if !before.HasBand(index) {
		return raster.Image{}, fmt.Errorf("%w: %q not in %s", ErrMissingBand, index, before.ID)
	}
	if !after.HasBand(index) {
		return raster.Image{}, fmt.Errorf("%w: %q not in %s", ErrMissingBand, index, after.ID)
	}

	th := a.thresholdsFor(index)
	if t != nil {
		th = *t
	}

	delta, err := a.engine.Subtract(ctx, after, index, before, index, DeltaBand(index))
	if err != nil {
		return raster.Image{}, fmt.Errorf("computing %s delta: %w", index, err)
	}
	classes, err := NewThresholdClassifier(th).ClassifyImage(ctx, a.engine, delta, DeltaBand(index), ClassBand(index))
	if err != nil {
		return raster.Image{}, fmt.Errorf("classifying %s delta: %w", index, err)
	}
	combined, err := a.engine.AddBands(ctx, delta, classes)
	if err != nil {
		return raster.Image{}, fmt.Errorf("combining %s bands: %w", index, err)
	}
	return combined, nil
}

// ComparisonMatrix compares every composite against the reference, keyed
// "<reference>_to_<period>". The reference is never compared to itself.
func (a *Analyzer) ComparisonMatrix(ctx context.Context, composites map[string]raster.Image, indices []string, reference string) (map[string]raster.Image, error) {
	ref, ok := composites[reference]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReferencePeriod, reference)
	}

	periods := make([]string, 0, len(composites))
	for p := range composites {
		if p != reference {
			periods = append(periods, p)
		}
	}
	sort.Strings(periods)

	out := make(map[string]raster.Image, len(periods))
	for _, p := range periods {
		img, err := a.compare(ctx, reference, ref, p, composites[p], indices)
		if err != nil {
			return nil, err
		}
		out[ComparisonKey(reference, p)] = img
	}
	return out, nil
}

// Sequential compares consecutive periods in the given order, keyed
// "<period_i>_to_<period_i+1>".
func (a *Analyzer) Sequential(ctx context.Context, composites map[string]raster.Image, periods []string, indices []string) (map[string]raster.Image, error) {
	for _, p := range periods {
		if _, ok := composites[p]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPeriod, p)
		}
	}

	out := make(map[string]raster.Image)
	for i := 0; i+1 < len(periods); i++ {
		from, to := periods[i], periods[i+1]
		img, err := a.compare(ctx, from, composites[from], to, composites[to], indices)
		if err != nil {
			return nil, err
		}
		out[ComparisonKey(from, to)] = img
	}
	return out, nil
}

// compare merges the per-index change bands of one period pair. No indices
// yields an image with no change bands.
func (a *Analyzer) compare(ctx context.Context, fromName string, from raster.Image, toName string, to raster.Image, indices []string) (raster.Image, error) {
	key := ComparisonKey(fromName, toName)
	merged, err := a.engine.Empty(ctx)
	if err != nil {
		return raster.Image{}, fmt.Errorf("%s: %w", key, err)
	}
	for _, idx := range indices {
		chg, err := a.PeriodChange(ctx, from, to, idx, nil)
		if err != nil {
			return raster.Image{}, fmt.Errorf("%s: %w", key, err)
		}
		if merged, err = a.engine.AddBands(ctx, merged, chg); err != nil {
			return raster.Image{}, fmt.Errorf("%s: %w", key, err)
		}
	}
	merged, err = a.engine.SetProperties(ctx, merged, map[string]string{
		PropReferencePeriod:  fromName,
		PropComparisonPeriod: toName,
		PropIndices:          strings.Join(indices, ","),
	})
	if err != nil {
		return raster.Image{}, fmt.Errorf("%s: %w", key, err)
	}
	return merged, nil
}
