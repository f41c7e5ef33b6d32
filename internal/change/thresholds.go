package change

import (
	"errors"
	"fmt"
	"math"

	"github.com/kiranshivaraju/vegchange/pkg/models"
)

var ErrInvalidThresholds = errors.New("invalid change thresholds")

// Thresholds holds the six validated class boundaries for one index.
// The zero value is not usable; construct with NewThresholds.
type Thresholds struct {
	strongLoss   float64
	moderateLoss float64
	stableMin    float64
	stableMax    float64
	moderateGain float64
	strongGain   float64
}

// NewThresholds validates s. Loss and gain boundaries must be strictly
// ordered; the stable band may be degenerate and may touch the moderate
// boundaries.
func NewThresholds(s models.ThresholdSpec) (Thresholds, error) {
	values := []float64{s.StrongLoss, s.ModerateLoss, s.StableMin, s.StableMax, s.ModerateGain, s.StrongGain}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Thresholds{}, fmt.Errorf("%w: boundaries must be finite", ErrInvalidThresholds)
		}
	}

	switch {
	case !(s.StrongLoss < s.ModerateLoss):
		return Thresholds{}, fmt.Errorf("%w: strong_loss (%g) must be below moderate_loss (%g)", ErrInvalidThresholds, s.StrongLoss, s.ModerateLoss)
	case !(s.ModerateLoss <= s.StableMin):
		return Thresholds{}, fmt.Errorf("%w: moderate_loss (%g) must not exceed stable_min (%g)", ErrInvalidThresholds, s.ModerateLoss, s.StableMin)
	case !(s.StableMin <= s.StableMax):
		return Thresholds{}, fmt.Errorf("%w: stable_min (%g) must not exceed stable_max (%g)", ErrInvalidThresholds, s.StableMin, s.StableMax)
	case !(s.StableMax <= s.ModerateGain):
		return Thresholds{}, fmt.Errorf("%w: stable_max (%g) must not exceed moderate_gain (%g)", ErrInvalidThresholds, s.StableMax, s.ModerateGain)
	case !(s.ModerateLoss < s.ModerateGain):
		return Thresholds{}, fmt.Errorf("%w: moderate_loss (%g) must be below moderate_gain (%g)", ErrInvalidThresholds, s.ModerateLoss, s.ModerateGain)
	case !(s.ModerateGain < s.StrongGain):
		return Thresholds{}, fmt.Errorf("%w: moderate_gain (%g) must be below strong_gain (%g)", ErrInvalidThresholds, s.ModerateGain, s.StrongGain)
	}

	return Thresholds{
		strongLoss:   s.StrongLoss,
		moderateLoss: s.ModerateLoss,
		stableMin:    s.StableMin,
		stableMax:    s.StableMax,
		moderateGain: s.ModerateGain,
		strongGain:   s.StrongGain,
	}, nil
}

// Spec returns the boundaries in their serializable form.
func (t Thresholds) Spec() models.ThresholdSpec {
	return models.ThresholdSpec{
		StrongLoss:   t.strongLoss,
		ModerateLoss: t.moderateLoss,
		StableMin:    t.stableMin,
		StableMax:    t.stableMax,
		ModerateGain: t.moderateGain,
		StrongGain:   t.strongGain,
	}
}

var defaultSpecs = map[string]models.ThresholdSpec{
	"ndvi": {StrongLoss: -0.15, ModerateLoss: -0.05, StableMin: -0.05, StableMax: 0.05, ModerateGain: 0.05, StrongGain: 0.15},
	"nbr":  {StrongLoss: -0.20, ModerateLoss: -0.10, StableMin: -0.10, StableMax: 0.10, ModerateGain: 0.10, StrongGain: 0.20},
}

// DefaultSpec returns the configured boundaries for an index. Indices without
// their own table use the ndvi table.
func DefaultSpec(indexName string) models.ThresholdSpec {
	if s, ok := defaultSpecs[indexName]; ok {
		return s
	}
	return defaultSpecs["ndvi"]
}

// DefaultThresholds returns the validated defaults for an index.
func DefaultThresholds(indexName string) Thresholds {
	t, err := NewThresholds(DefaultSpec(indexName))
	if err != nil {
		panic(fmt.Sprintf("default thresholds for %s: %v", indexName, err))
	}
	return t
}

// ResolveThresholds validates the override for indexName if present, and
// falls back to the default table otherwise.
func ResolveThresholds(indexName string, overrides map[string]models.ThresholdSpec) (Thresholds, error) {
	s, ok := overrides[indexName]
	if !ok {
		return DefaultThresholds(indexName), nil
	}
	t, err := NewThresholds(s)
	if err != nil {
		return Thresholds{}, fmt.Errorf("%s: %w", indexName, err)
	}
	return t, nil
}
