package change

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/vegchange/internal/aoi"
	"github.com/kiranshivaraju/vegchange/internal/raster"
	"github.com/kiranshivaraju/vegchange/pkg/models"
)

const squareMetersPerHectare = 10_000.0

// Summarize turns a class histogram into per-class pixels, area and share.
// Values outside the five classes are ignored. Every class is listed, in order,
// even when it has no pixels.
func Summarize(h raster.Histogram, band string, scaleMeters float64) models.IndexStatistics {
	pixelHa := scaleMeters * scaleMeters / squareMetersPerHectare

	var total int64
	for _, c := range models.AllChangeClasses {
		total += h[int(c)]
	}

	stats := models.IndexStatistics{
		Band:        band,
		TotalPixels: total,
		AreaHa:      float64(total) * pixelHa,
		Classes:     make([]models.ClassSummary, 0, len(models.AllChangeClasses)),
	}
	for _, c := range models.AllChangeClasses {
		n := h[int(c)]
		var pct float64
		if total > 0 {
			pct = float64(n) / float64(total) * 100
		}
		stats.Classes = append(stats.Classes, models.ClassSummary{
			Class:   c,
			Label:   c.Label("en"),
			Color:   c.Color(),
			Pixels:  n,
			AreaHa:  float64(n) * pixelHa,
			Percent: pct,
		})
	}
	return stats
}

// Statistics reduces the class band of every index in img over region.
func (a *Analyzer) Statistics(ctx context.Context, img raster.Image, indices []string, region aoi.AOI, scaleMeters float64) (map[string]models.IndexStatistics, error) {
	out := make(map[string]models.IndexStatistics, len(indices))
	for _, idx := range indices {
		band := ClassBand(idx)
		h, err := a.engine.Histogram(ctx, img, band, region, scaleMeters)
		if err != nil {
			return nil, fmt.Errorf("reducing %s: %w", band, err)
		}
		out[idx] = Summarize(h, band, scaleMeters)
	}
	return out, nil
}
