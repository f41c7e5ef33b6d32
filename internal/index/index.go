// Package index is the registry of spectral indices that can be attached to a composite.
//
// The remote engine evaluates indices by name; the formulas here are used by the
// in-process memory engine and to publish index metadata.
package index

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownIndex = errors.New("unknown spectral index")

// Harmonized band names shared by every sensor after band harmonization.
const (
	BandBlue  = "blue"
	BandGreen = "green"
	BandRed   = "red"
	BandNIR   = "nir"
	BandSWIR1 = "swir1"
	BandSWIR2 = "swir2"
)

// Bands holds one pixel's harmonized surface reflectance values.
type Bands map[string]float64

// Info describes an index for API consumers.
type Info struct {
	Name        string  `json:"name"`
	FullName    string  `json:"full_name"`
	Description string  `json:"description"`
	Formula     string  `json:"formula"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
}

// Index computes one derived band from harmonized reflectance.
type Index interface {
	Info() Info
	Compute(b Bands) float64
}

var (
	mu       sync.RWMutex
	registry = map[string]Index{}
)

// Register adds or replaces an index under its Info().Name.
func Register(idx Index) {
	mu.Lock()
	defer mu.Unlock()
	registry[idx.Info().Name] = idx
}

// Lookup returns the registered index with the given name.
func Lookup(name string) (Index, error) {
	mu.RLock()
	defer mu.RUnlock()
	idx, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndex, name)
	}
	return idx, nil
}

// Names returns the registered index names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns metadata for every registered index, sorted by name.
func All() []Info {
	names := Names()
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Info, 0, len(names))
	for _, n := range names {
		if idx, ok := registry[n]; ok {
			out = append(out, idx.Info())
		}
	}
	return out
}

func init() {
	Register(ndvi{})
	Register(nbr{})
	Register(ndwi{})
	Register(evi{})
	Register(ndmi{})
}
