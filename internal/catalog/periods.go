// Package catalog holds the temporal periods an analysis can be run over.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrUnknownPeriod = errors.New("unknown temporal period")

// Sensor collection identifiers understood by the raster engine.
const (
	SensorLandsat5  = "LANDSAT/LT05/C02/T1_L2"
	SensorLandsat7  = "LANDSAT/LE07/C02/T1_L2"
	SensorLandsat8  = "LANDSAT/LC08/C02/T1_L2"
	SensorSentinel2 = "COPERNICUS/S2_SR_HARMONIZED"
)

// Period is a named date range with the sensors fused into its composite.
type Period struct {
	Name        string    `json:"name"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Sensors     []string  `json:"sensors"`
	Description string    `json:"description"`
}

var periods = map[string]Period{
	"1990s": {
		Name:        "1990s",
		Start:       date(1985, 1, 1),
		End:         date(1999, 12, 31),
		Sensors:     []string{SensorLandsat5},
		Description: "Pre-2000 baseline (Landsat 5 TM)",
	},
	"2000s": {
		Name:        "2000s",
		Start:       date(2000, 1, 1),
		End:         date(2012, 12, 31),
		Sensors:     []string{SensorLandsat7, SensorLandsat5},
		Description: "Early 2000s (Landsat 5/7)",
	},
	"2010s": {
		Name:        "2010s",
		Start:       date(2013, 1, 1),
		End:         date(2020, 12, 31),
		Sensors:     []string{SensorLandsat8},
		Description: "Recent decade (Landsat 8 OLI)",
	},
	"present": {
		Name:        "present",
		Start:       date(2021, 1, 1),
		End:         date(2024, 12, 31),
		Sensors:     []string{SensorLandsat8, SensorSentinel2},
		Description: "Current period (Landsat 8 + Sentinel-2)",
	},
}

// Lookup returns the named period. The returned value shares nothing with the catalog.
func Lookup(name string) (Period, error) {
	p, ok := periods[name]
	if !ok {
		return Period{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, name)
	}
	p.Sensors = append([]string(nil), p.Sensors...)
	return p, nil
}

// All returns every period ordered chronologically.
func All() []Period {
	out := make([]Period, 0, len(periods))
	for _, p := range periods {
		p.Sensors = append([]string(nil), p.Sensors...)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
