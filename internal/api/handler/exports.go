package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/vegchange/internal/api/response"
	"github.com/kiranshivaraju/vegchange/internal/raster"
)

// ExportTracker reports export task state.
type ExportTracker interface {
	Status(ctx context.Context, taskID string) (raster.Task, error)
}

// NewExportStatusHandler returns the handler for GET /api/v1/exports/{taskID}.
func NewExportStatusHandler(t ExportTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, err := t.Status(r.Context(), chi.URLParam(r, "taskID"))
		if err != nil {
			switch {
			case errors.Is(err, raster.ErrTaskNotFound):
				response.Error(w, http.StatusNotFound, "EXPORT_NOT_FOUND", "Export task not found", nil)
			case errors.Is(err, raster.ErrEngineTimeout):
				response.Error(w, http.StatusGatewayTimeout, "ENGINE_TIMEOUT",
					"The raster engine did not answer in time", nil)
			case errors.Is(err, raster.ErrEngineUnreachable):
				response.Error(w, http.StatusBadGateway, "ENGINE_UNAVAILABLE",
					"The raster engine is not available", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}
		response.JSON(w, task)
	}
}
