package raster

import (
	"fmt"

	"github.com/kiranshivaraju/vegchange/internal/config"
)

// NewEngine constructs the engine selected in config.
// Called once at server startup.
func NewEngine(cfg config.RasterConfig) (Engine, error) {
	switch cfg.Engine {
	case "http":
		return NewHTTPEngine(cfg.URL, cfg.Token, cfg.Timeout), nil
	case "memory":
		return NewMemoryEngine(WithGridSize(cfg.MemoryPixels)), nil
	default:
		return nil, fmt.Errorf("unknown raster engine %q: must be one of http, memory", cfg.Engine)
	}
}
