package index

// normalizedDifference returns (a-b)/(a+b), or 0 where the denominator vanishes.
func normalizedDifference(a, b float64) float64 {
	if a+b == 0 {
		return 0
	}
	return (a - b) / (a + b)
}

type ndvi struct{}

func (ndvi) Info() Info {
	return Info{
		Name:        "ndvi",
		FullName:    "Normalized Difference Vegetation Index",
		Description: "Measures vegetation greenness and health. Higher values indicate denser, healthier vegetation.",
		Formula:     "(NIR - Red) / (NIR + Red)",
		Min:         -1, Max: 1,
	}
}

func (ndvi) Compute(b Bands) float64 { return normalizedDifference(b[BandNIR], b[BandRed]) }

type nbr struct{}

func (nbr) Info() Info {
	return Info{
		Name:        "nbr",
		FullName:    "Normalized Burn Ratio",
		Description: "Detects burned areas and fire severity. Low values indicate burned or stressed vegetation.",
		Formula:     "(NIR - SWIR2) / (NIR + SWIR2)",
		Min:         -1, Max: 1,
	}
}

func (nbr) Compute(b Bands) float64 { return normalizedDifference(b[BandNIR], b[BandSWIR2]) }

type ndwi struct{}

func (ndwi) Info() Info {
	return Info{
		Name:        "ndwi",
		FullName:    "Normalized Difference Water Index",
		Description: "Detects water bodies and moisture content. Higher values indicate more water.",
		Formula:     "(Green - NIR) / (Green + NIR)",
		Min:         -1, Max: 1,
	}
}

func (ndwi) Compute(b Bands) float64 { return normalizedDifference(b[BandGreen], b[BandNIR]) }

type ndmi struct{}

func (ndmi) Info() Info {
	return Info{
		Name:        "ndmi",
		FullName:    "Normalized Difference Moisture Index",
		Description: "Measures vegetation water content and drought stress.",
		Formula:     "(NIR - SWIR1) / (NIR + SWIR1)",
		Min:         -1, Max: 1,
	}
}

func (ndmi) Compute(b Bands) float64 { return normalizedDifference(b[BandNIR], b[BandSWIR1]) }

type evi struct{}

func (evi) Info() Info {
	return Info{
		Name:        "evi",
		FullName:    "Enhanced Vegetation Index",
		Description: "Improved vegetation monitoring in high biomass regions. Less sensitive to atmospheric effects.",
		Formula:     "2.5 * (NIR - Red) / (NIR + 6*Red - 7.5*Blue + 1)",
		Min:         -1, Max: 1,
	}
}

func (evi) Compute(b Bands) float64 {
	denom := b[BandNIR] + 6*b[BandRed] - 7.5*b[BandBlue] + 1
	if denom == 0 {
		return 0
	}
	return 2.5 * (b[BandNIR] - b[BandRed]) / denom
}
