// Package orchestrator coordinates the raster engine, the change analysis and
// the job store. It owns the job state machine:
//
//	PENDING -> RUNNING -> COMPLETED | FAILED
//	PENDING -> CANCELLED
//
// A running job cannot be cancelled; the engine exposes no way to stop work
// it has already accepted.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/vegchange/internal/aoi"
	"github.com/kiranshivaraju/vegchange/internal/catalog"
	"github.com/kiranshivaraju/vegchange/internal/change"
	"github.com/kiranshivaraju/vegchange/internal/jobs"
	"github.com/kiranshivaraju/vegchange/internal/raster"
	"github.com/kiranshivaraju/vegchange/pkg/models"
)

// ProgressFunc receives the fraction complete and a label for the current stage.
type ProgressFunc func(fraction float64, step string)

// Exporter submits one image for export.
type Exporter interface {
	Export(ctx context.Context, img raster.Image, dst raster.Destination) (raster.Task, error)
}

type engineExporter struct{ engine raster.Engine }

func (e engineExporter) Export(ctx context.Context, img raster.Image, dst raster.Destination) (raster.Task, error) {
	return e.engine.SubmitExport(ctx, img, dst)
}

// AnalysisResult is what Analyze returns. It holds engine handles and is only
// meaningful to the caller that ran the analysis; Projection derives the
// serializable form stored on jobs.
type AnalysisResult struct {
	Composites map[string]raster.Image
	Changes    map[string]raster.Image
	Statistics map[string]models.ComparisonStatistics
	Config     models.AnalysisConfig
	AOI        aoi.AOI
}

// Comparisons returns the comparison keys in sorted order.
func (r *AnalysisResult) Comparisons() []string {
	keys := make([]string, 0, len(r.Changes))
	for k := range r.Changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Projection returns the results without any engine handles.
func (r *AnalysisResult) Projection() *models.JobResults {
	out := &models.JobResults{
		Comparisons: r.Comparisons(),
		Statistics:  make(map[string]models.ComparisonStatistics, len(r.Statistics)),
		Config:      r.Config.Clone(),
	}
	for k, v := range r.Statistics {
		out.Statistics[k] = v.Clone()
	}
	if !r.AOI.IsZero() {
		s := r.AOI.Summary()
		out.AOI = &s
	}
	return out
}

// Orchestrator is the single coordination point for analyses.
type Orchestrator struct {
	engine   raster.Engine
	store    jobs.Store
	exporter Exporter
	defaults models.AnalysisConfig
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDefaults sets the configuration used to fill unset request fields.
func WithDefaults(cfg models.AnalysisConfig) Option {
	return func(o *Orchestrator) { o.defaults = cfg.Clone() }
}

// WithExporter replaces direct engine export submission.
func WithExporter(e Exporter) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.exporter = e
		}
	}
}

// WithLogger sets the logger used for job lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an orchestrator over engine and store.
func New(engine raster.Engine, store jobs.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:   engine,
		store:    store,
		exporter: engineExporter{engine},
		defaults: models.DefaultAnalysisConfig(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Defaults returns a copy of the default analysis configuration.
func (o *Orchestrator) Defaults() models.AnalysisConfig { return o.defaults.Clone() }

// Analyze runs the full pipeline synchronously. Stage errors are returned to
// the caller; nothing is recorded in the job store. progress may be nil.
func (o *Orchestrator) Analyze(ctx context.Context, region aoi.AOI, cfg models.AnalysisConfig, progress ProgressFunc) (*AnalysisResult, error) {
	if progress == nil {
		progress = func(float64, string) {}
	}
	cfg = Normalize(cfg, o.defaults)
	thresholds, err := Validate(cfg)
	if err != nil {
		return nil, err
	}
	if region.IsZero() {
		return nil, fmt.Errorf("%w: area of interest is required", aoi.ErrInvalidGeometry)
	}

	progress(0.0, "Starting analysis")

	composites, err := o.composites(ctx, region, cfg, progress)
	if err != nil {
		return nil, err
	}
	progress(0.40, "Composites created")

	progress(0.45, "Calculating spectral indices")
	if err := o.attachIndices(ctx, composites, cfg, progress); err != nil {
		return nil, err
	}
	progress(0.60, "Indices calculated")

	progress(0.65, "Analyzing vegetation change")
	analyzer := change.NewAnalyzer(o.engine, thresholds)
	var changes map[string]raster.Image
	switch cfg.ComparisonMode {
	case models.CompareSequential:
		changes, err = analyzer.Sequential(ctx, composites, cfg.Periods, cfg.Indices)
	default:
		changes, err = analyzer.ComparisonMatrix(ctx, composites, cfg.Indices, cfg.ReferencePeriod)
	}
	if err != nil {
		return nil, err
	}
	progress(0.85, "Change analysis complete")

	progress(0.90, "Generating statistics")
	stats := make(map[string]models.ComparisonStatistics, len(changes))
	for key, img := range changes {
		perIndex, err := analyzer.Statistics(ctx, img, cfg.Indices, region, cfg.ScaleMeters)
		if err != nil {
			return nil, fmt.Errorf("statistics for %s: %w", key, err)
		}
		stats[key] = models.ComparisonStatistics{
			Key:       key,
			Reference: img.Properties[change.PropReferencePeriod],
			Period:    img.Properties[change.PropComparisonPeriod],
			Indices:   perIndex,
		}
	}
	progress(1.0, "Analysis complete")

	return &AnalysisResult{
		Composites: composites,
		Changes:    changes,
		Statistics: stats,
		Config:     cfg,
		AOI:        region,
	}, nil
}

// composites requests one composite per period concurrently. Progress moves
// from 0.05 to 0.40 as composites arrive.
func (o *Orchestrator) composites(ctx context.Context, region aoi.AOI, cfg models.AnalysisConfig, progress ProgressFunc) (map[string]raster.Image, error) {
	progress(0.05, "Creating temporal composites")

	var (
		mu   sync.Mutex
		out  = make(map[string]raster.Image, len(cfg.Periods))
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range cfg.Periods {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("panic in composite", "error", r, "period", name)
					err = fmt.Errorf("composite %s: panic: %v", name, r)
				}
			}()

			p, err := catalog.Lookup(name)
			if err != nil {
				return err
			}
			img, err := o.engine.Composite(gctx, raster.CompositeRequest{
				AOI:            region,
				Start:          p.Start,
				End:            p.End,
				Sensors:        p.Sensors,
				CloudThreshold: cfg.CloudThreshold,
			})
			if err != nil {
				return fmt.Errorf("composite %s: %w", name, err)
			}

			mu.Lock()
			defer mu.Unlock()
			out[name] = img
			done++
			progress(0.05+0.35*float64(done)/float64(len(cfg.Periods)), "Composite ready: "+name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// attachIndices adds every requested index band to every composite, in place.
// Progress moves from 0.45 to 0.60.
func (o *Orchestrator) attachIndices(ctx context.Context, composites map[string]raster.Image, cfg models.AnalysisConfig, progress ProgressFunc) error {
	total := len(cfg.Periods) * len(cfg.Indices)
	step := 0
	for _, period := range cfg.Periods {
		img := composites[period]
		for _, idx := range cfg.Indices {
			var err error
			img, err = o.engine.AddIndex(ctx, img, idx)
			if err != nil {
				return fmt.Errorf("index %s for %s: %w", idx, period, err)
			}
			step++
			progress(0.45+0.15*float64(step)/float64(total), fmt.Sprintf("Calculated %s for %s", strings.ToUpper(idx), period))
		}
		composites[period] = img
	}
	return nil
}

// CreateJob validates cfg, stores it as a PENDING job and returns the job id.
func (o *Orchestrator) CreateJob(cfg models.AnalysisConfig) (string, error) {
	cfg = Normalize(cfg, o.defaults)
	if _, err := Validate(cfg); err != nil {
		return "", err
	}
	job := o.store.Create(cfg)
	o.logger.Info("analysis job created", "job_id", job.ID, "site", cfg.SiteName, "periods", len(cfg.Periods))
	return job.ID, nil
}

// GetJob returns a snapshot of the job.
func (o *Orchestrator) GetJob(id string) (*models.AnalysisJob, bool) {
	return o.store.Get(id)
}

// ListJobs returns jobs newest first. status "" matches every job.
func (o *Orchestrator) ListJobs(status models.JobStatus, limit int) []*models.AnalysisJob {
	return o.store.List(status, limit)
}

// CancelJob cancels a PENDING job. It reports false, changing nothing, when
// the job is absent or in any other status.
func (o *Orchestrator) CancelJob(id string) bool {
	_, ok := o.store.Transition(id, models.JobStatusPending, models.JobStatusCancelled,
		jobs.WithCompletedAt(o.now().UTC()),
		jobs.WithProgress(0, "Cancelled"))
	if ok {
		o.logger.Info("analysis job cancelled", "job_id", id)
	}
	return ok
}

// RunJob executes a stored job. A job that no longer exists, or is no longer
// PENDING (for example cancelled while queued), is skipped and nil returned.
// On failure the job is marked FAILED and the error is also returned.
func (o *Orchestrator) RunJob(ctx context.Context, id string, region aoi.AOI) (err error) {
	job, ok := o.store.Transition(id, models.JobStatusPending, models.JobStatusRunning,
		jobs.WithStartedAt(o.now().UTC()),
		jobs.WithProgress(0, "Starting analysis"))
	if !ok {
		if current, exists := o.store.Get(id); exists {
			o.logger.Info("skipping job that is not pending", "job_id", id, "status", current.Status)
		} else {
			o.logger.Warn("skipping unknown job", "job_id", id)
		}
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in RunJob", "error", r, "job_id", id)
			err = fmt.Errorf("panic: %v", r)
			o.fail(id, err)
		}
	}()

	res, err := o.Analyze(ctx, region, job.Config, func(fraction float64, step string) {
		o.store.Update(id, jobs.WithProgress(fraction, step))
	})
	if err != nil {
		o.fail(id, err)
		return fmt.Errorf("job %s: %w", id, err)
	}

	results := res.Projection()
	if job.Config.Export.Enabled {
		exports, err := o.submitExports(ctx, res)
		if err != nil {
			o.fail(id, err)
			return fmt.Errorf("job %s: %w", id, err)
		}
		results.Exports = exports
	}

	o.store.Transition(id, models.JobStatusRunning, models.JobStatusCompleted,
		jobs.WithResults(results),
		jobs.WithProgress(1.0, "Analysis complete"),
		jobs.WithCompletedAt(o.now().UTC()))
	o.logger.Info("analysis job completed", "job_id", id, "comparisons", len(results.Comparisons))
	return nil
}

func (o *Orchestrator) fail(id string, err error) {
	o.store.Transition(id, models.JobStatusRunning, models.JobStatusFailed,
		jobs.WithError(err.Error()),
		jobs.WithCompletedAt(o.now().UTC()))
}

// submitExports exports the composites in configured period order, then
// every change image in comparison key order.
func (o *Orchestrator) submitExports(ctx context.Context, res *AnalysisResult) ([]models.ExportTask, error) {
	cfg := res.Config.Export
	site := exportSlug(res.Config.SiteName)

	var out []models.ExportTask
	submit := func(img raster.Image, task models.ExportTask) error {
		t, err := o.exporter.Export(ctx, img, raster.Destination{
			Kind:        cfg.Destination,
			Folder:      cfg.Folder,
			Description: task.Description,
			Region:      res.AOI,
			Scale:       res.Config.ScaleMeters,
		})
		if err != nil {
			return err
		}
		task.TaskID = t.ID
		task.Destination = cfg.Destination
		out = append(out, task)
		return nil
	}

	for _, period := range res.Config.Periods {
		img, ok := res.Composites[period]
		if !ok {
			continue
		}
		if err := submit(img, models.ExportTask{
			Kind:        models.ExportComposite,
			Period:      period,
			Description: cfg.Prefix + site + "_composite_" + period,
		}); err != nil {
			return nil, fmt.Errorf("exporting composite %s: %w", period, err)
		}
	}
	for _, key := range res.Comparisons() {
		if err := submit(res.Changes[key], models.ExportTask{
			Kind:        models.ExportChange,
			Comparison:  key,
			Description: cfg.Prefix + site + "_" + key,
		}); err != nil {
			return nil, fmt.Errorf("exporting %s: %w", key, err)
		}
	}
	return out, nil
}

func exportSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
