package change

import (
	"context"

	"github.com/kiranshivaraju/vegchange/internal/raster"
	"github.com/kiranshivaraju/vegchange/pkg/models"
)

// Classifier buckets a delta into a change class.
type Classifier interface {
	Classify(delta float64) models.ChangeClass
}

// ThresholdClassifier applies a cascade of range predicates over one
// Thresholds value. Local classification and engine-side reclassification
// share the same rule list, so both agree on every boundary.
type ThresholdClassifier struct {
	thresholds Thresholds
	rules      []raster.Rule
}

// NewThresholdClassifier builds the rule cascade for t.
func NewThresholdClassifier(t Thresholds) *ThresholdClassifier {
	return &ThresholdClassifier{thresholds: t, rules: buildRules(t)}
}

// buildRules lists the four non-default classes. The intervals are disjoint
// for valid thresholds; anything they miss is Stable.
//
//	delta <= strong_loss                  -> StrongLoss
//	strong_loss < delta <= moderate_loss  -> ModerateLoss
//	moderate_gain <= delta < strong_gain  -> ModerateGain
//	delta >= strong_gain                  -> StrongGain
func buildRules(t Thresholds) []raster.Rule {
	sl, ml, mg, sg := t.strongLoss, t.moderateLoss, t.moderateGain, t.strongGain
	return []raster.Rule{
		{Min: &sg, MinInclusive: true, Class: int(models.StrongGain)},
		{Min: &mg, MinInclusive: true, Max: &sg, Class: int(models.ModerateGain)},
		{Min: &sl, Max: &ml, MaxInclusive: true, Class: int(models.ModerateLoss)},
		{Max: &sl, MaxInclusive: true, Class: int(models.StrongLoss)},
	}
}

// Thresholds returns the boundaries the classifier was built with.
func (c *ThresholdClassifier) Thresholds() Thresholds { return c.thresholds }

// Rules returns a copy of the reclassification rules.
func (c *ThresholdClassifier) Rules() []raster.Rule {
	return append([]raster.Rule(nil), c.rules...)
}

// Classify returns the class of a single delta. NaN is Stable.
func (c *ThresholdClassifier) Classify(delta float64) models.ChangeClass {
	return models.ChangeClass(raster.Apply(c.rules, delta, int(models.Stable)))
}

// ClassifyImage asks the engine to reclassify band of delta into a single
// integer band called name, on the same grid as delta.
func (c *ThresholdClassifier) ClassifyImage(ctx context.Context, engine raster.Engine, delta raster.Image, band, name string) (raster.Image, error) {
	return engine.Reclassify(ctx, delta, band, c.Rules(), int(models.Stable), name)
}

var _ Classifier = (*ThresholdClassifier)(nil)
