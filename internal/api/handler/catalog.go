package handler

import (
	"net/http"

	"github.com/kiranshivaraju/vegchange/internal/api/response"
	"github.com/kiranshivaraju/vegchange/internal/catalog"
	"github.com/kiranshivaraju/vegchange/internal/change"
	"github.com/kiranshivaraju/vegchange/internal/index"
	"github.com/kiranshivaraju/vegchange/pkg/models"
)

// Periods handles GET /api/v1/periods.
func Periods(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, catalog.All())
}

type indexEntry struct {
	index.Info
	DefaultThresholds models.ThresholdSpec `json:"default_thresholds"`
}

type classEntry struct {
	Value   int    `json:"value"`
	Label   string `json:"label"`
	LabelES string `json:"label_es"`
	Color   string `json:"color"`
}

// Indices handles GET /api/v1/indices. The response also lists the change
// classes every index is bucketed into.
func Indices(w http.ResponseWriter, _ *http.Request) {
	infos := index.All()
	entries := make([]indexEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, indexEntry{Info: info, DefaultThresholds: change.DefaultSpec(info.Name)})
	}

	classes := make([]classEntry, 0, len(models.AllChangeClasses))
	for _, c := range models.AllChangeClasses {
		classes = append(classes, classEntry{
			Value:   int(c),
			Label:   c.Label("en"),
			LabelES: c.Label("es"),
			Color:   c.Color(),
		})
	}

	response.JSON(w, map[string]any{
		"indices":        entries,
		"change_classes": classes,
	})
}
