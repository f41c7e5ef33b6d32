package change

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/vegchange/internal/aoi"
	"github.com/kiranshivaraju/vegchange/internal/index"
	"github.com/kiranshivaraju/vegchange/internal/raster"
)

// yearScene maps a composite's start year to the ndvi (and nbr) value of pixel (x, y).
// Years not listed have an index value of zero everywhere.
type yearScene map[int]func(x, y int) float64

func (s yearScene) bands(req raster.CompositeRequest, x, y, _ int) index.Bands {
	var v float64
	if f, ok := s[req.Start.Year()]; ok {
		v = f(x, y)
	}
	// nir + red = 1 makes the normalized difference equal nir - red.
	nir, red := (1+v)/2, (1-v)/2
	return index.Bands{
		index.BandBlue:  0.05,
		index.BandGreen: 0.1,
		index.BandRed:   red,
		index.BandNIR:   nir,
		index.BandSWIR1: red,
		index.BandSWIR2: red,
	}
}

func jan1(year int) time.Time { return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC) }

func testRegion(t *testing.T) aoi.AOI {
	t.Helper()
	a, err := aoi.FromBBox(-72.5, -13.5, -72.4, -13.4)
	require.NoError(t, err)
	return a
}

func compositeWith(t *testing.T, e raster.Engine, year int, indices ...string) raster.Image {
	t.Helper()
	ctx := context.Background()
	img, err := e.Composite(ctx, raster.CompositeRequest{
		AOI:     testRegion(t),
		Start:   jan1(year),
		End:     jan1(year + 1),
		Sensors: []string{"L8"},
	})
	require.NoError(t, err)
	for _, idx := range indices {
		img, err = e.AddIndex(ctx, img, idx)
		require.NoError(t, err)
	}
	return img
}

func ndviOf(t *testing.T, b index.Bands) float64 {
	t.Helper()
	idx, err := index.Lookup("ndvi")
	require.NoError(t, err)
	return idx.Compute(b)
}
