// Package export submits change images to the raster engine's export service
// and tracks the resulting tasks.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/vegchange/internal/cache"
	"github.com/kiranshivaraju/vegchange/internal/raster"
)

const defaultStatusTTL = 30 * time.Minute

// Tracker submits exports and answers status polls from the cache, falling
// back to the engine until a task reaches a terminal state.
type Tracker struct {
	engine raster.Engine
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewTracker creates a Tracker. A non-positive ttl uses 30 minutes.
func NewTracker(engine raster.Engine, c cache.Cache, ttl time.Duration, logger *slog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{engine: engine, cache: c, ttl: ttl, logger: logger}
}

// Export submits img to dst and records the initial task snapshot.
func (t *Tracker) Export(ctx context.Context, img raster.Image, dst raster.Destination) (raster.Task, error) {
	task, err := t.engine.SubmitExport(ctx, img, dst)
	if err != nil {
		return raster.Task{}, err
	}
	t.remember(ctx, task)
	t.logger.Info("export submitted",
		"task_id", task.ID,
		"destination", dst.Kind,
		"description", dst.Description,
	)
	return task, nil
}

// Status returns the latest known state of an export task.
//
// Terminal snapshots are served from the cache. Otherwise the engine is
// polled; if the engine cannot be reached a cached snapshot is returned as is.
func (t *Tracker) Status(ctx context.Context, taskID string) (raster.Task, error) {
	cached, ok := t.lookup(ctx, taskID)
	if ok && cached.State.Terminal() {
		return cached, nil
	}

	task, err := t.engine.TaskStatus(ctx, taskID)
	if err != nil {
		if ok && (errors.Is(err, raster.ErrEngineUnreachable) || errors.Is(err, raster.ErrEngineTimeout)) {
			t.logger.Warn("export status from cache, engine unavailable",
				"task_id", taskID,
				"error", err,
			)
			return cached, nil
		}
		return raster.Task{}, fmt.Errorf("export task %s: %w", taskID, err)
	}
	t.remember(ctx, task)
	return task, nil
}

func (t *Tracker) remember(ctx context.Context, task raster.Task) {
	data, err := json.Marshal(task)
	if err != nil {
		return
	}
	if err := t.cache.Set(ctx, cache.ExportTaskKey(task.ID), data, t.ttl); err != nil {
		t.logger.Warn("failed to cache export task", "task_id", task.ID, "error", err)
	}
}

func (t *Tracker) lookup(ctx context.Context, taskID string) (raster.Task, bool) {
	data, found, err := t.cache.Get(ctx, cache.ExportTaskKey(taskID))
	if err != nil {
		t.logger.Warn("failed to read cached export task", "task_id", taskID, "error", err)
		return raster.Task{}, false
	}
	if !found {
		return raster.Task{}, false
	}
	var task raster.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return raster.Task{}, false
	}
	return task, true
}
