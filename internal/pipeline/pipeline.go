package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/hilltop-etl/internal/domain"
	"github.com/couchcryptid/hilltop-etl/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// TargetLister returns the (site, measurement) pairs to fetch in one run.
type TargetLister interface {
	Targets(ctx context.Context) ([]domain.Target, error)
}

// Extractor fetches the series of one target.
type Extractor interface {
	Extract(ctx context.Context, catalog domain.MeasurementCatalog, target domain.Target) (domain.Series, error)
}

// Loader writes resolved observations to the destination.
type Loader interface {
	LoadBatch(ctx context.Context, rows []domain.ResolvedObservation) error
}

// Options tunes a Pipeline. Zero fields take the defaults below.
type Options struct {
	Resolver     domain.Resolver
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	Clock        clockwork.Clock
}

const (
	defaultWorkers      = 4
	defaultBatchSize    = 50
	defaultPollInterval = time.Hour
)

// Pipeline orchestrates the extract-resolve-load cycle.
type Pipeline struct {
	targets   TargetLister
	extractor Extractor
	loader    Loader
	catalog   domain.MeasurementCatalog
	resolver  domain.Resolver
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock

	workers   int
	batchSize int
	interval  time.Duration

	ready atomic.Bool
	mu    sync.Mutex
	last  *domain.RunReport
}

// New creates a Pipeline with the given stages and observability.
func New(t TargetLister, e Extractor, l Loader, catalog domain.MeasurementCatalog, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	p := &Pipeline{
		targets:   t,
		extractor: e,
		loader:    l,
		catalog:   catalog,
		resolver:  opts.Resolver,
		logger:    logger,
		metrics:   metrics,
		clock:     opts.Clock,
		workers:   opts.Workers,
		batchSize: opts.BatchSize,
		interval:  opts.PollInterval,
	}
	if p.resolver.Method == "" {
		p.resolver.Method = domain.MethodNone
	}
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	if p.workers <= 0 {
		p.workers = defaultWorkers
	}
	if p.batchSize <= 0 {
		p.batchSize = defaultBatchSize
	}
	if p.interval <= 0 {
		p.interval = defaultPollInterval
	}
	return p
}

// CheckReadiness returns nil once a run has completed, or an error describing
// why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// LastRun returns the report of the most recent completed run.
func (p *Pipeline) LastRun() (domain.RunReport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return domain.RunReport{}, false
	}
	return *p.last, true
}

// Run executes a run immediately and then once per poll interval until the
// context is cancelled. A failed run is logged and retried at the next tick.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		"method", p.resolver.Method,
		"workers", p.workers,
		"batch_size", p.batchSize,
		"poll_interval", p.interval,
	)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	for {
		if _, err := p.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				p.logger.Info("pipeline stopping", "reason", ctx.Err())
				return nil
			}
			p.logger.Error("run failed", "error", err)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-p.clock.After(p.interval):
		}
	}
}

// targetResult is what one worker contributes to a run.
type targetResult struct {
	rows   []domain.ResolvedObservation
	groups int
	heavy  int
}

// RunOnce lists targets, extracts and resolves them concurrently, then loads
// the output in batches. A target that fails to extract is reported in
// Failed and does not fail the run.
func (p *Pipeline) RunOnce(ctx context.Context) (domain.RunReport, error) {
	start := p.clock.Now()
	report := domain.RunReport{
		RunID:     uuid.NewString(),
		Method:    p.resolver.Method,
		StartedAt: start.UTC(),
	}
	logger := p.logger.With("run_id", report.RunID)

	targets, err := p.targets.Targets(ctx)
	if err != nil {
		return report, fmt.Errorf("list targets: %w", err)
	}
	report.Targets = len(targets)
	logger.Info("run started", "targets", len(targets))

	results := make([]targetResult, len(targets))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, target := range targets {
		g.Go(func() error {
			res, groupErrs, err := p.processTarget(gctx, logger, target)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("target failed", "site", target.Site, "measurement", target.Measurement, "error", err)
				p.metrics.TargetsFailed.Inc()
				mu.Lock()
				report.Failed = append(report.Failed, target.String())
				mu.Unlock()
				return nil
			}
			results[i] = res
			if len(groupErrs) > 0 {
				mu.Lock()
				report.GroupErrors = append(report.GroupErrors, groupErrs...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	sort.Strings(report.Failed)
	sort.Strings(report.GroupErrors)

	var rows []domain.ResolvedObservation
	for _, res := range results {
		rows = append(rows, res.rows...)
		report.Groups += res.groups
		report.Heavy += res.heavy
	}
	domain.StampProcessed(rows)
	for i := range rows {
		rows[i].RunID = report.RunID
	}

	if err := p.load(ctx, rows); err != nil {
		return report, err
	}
	report.Resolved = len(rows)
	report.Duration = p.clock.Since(start)

	p.metrics.RunDuration.Observe(report.Duration.Seconds())
	p.mu.Lock()
	p.last = &report
	p.mu.Unlock()
	p.ready.Store(true)

	logger.Info("run finished",
		"targets", report.Targets,
		"failed", len(report.Failed),
		"resolved", report.Resolved,
		"groups", report.Groups,
		"group_errors", len(report.GroupErrors),
		"duration", report.Duration,
	)
	return report, nil
}

// processTarget extracts and resolves one target. Resolution diagnostics are
// returned as strings and never fail the target.
func (p *Pipeline) processTarget(ctx context.Context, logger *slog.Logger, target domain.Target) (targetResult, []string, error) {
	series, err := p.extractor.Extract(ctx, p.catalog, target)
	if err != nil {
		return targetResult{}, nil, err
	}
	p.metrics.TargetSize.Observe(float64(len(series.Observations)))
	if len(series.Observations) == 0 {
		logger.Debug("target has no observations", "site", target.Site, "measurement", target.Measurement)
		return targetResult{}, nil, nil
	}

	result := p.resolver.Resolve(series.Observations)
	res := targetResult{rows: result.Observations, groups: len(result.Groups)}

	for key, stats := range result.Groups {
		p.metrics.GroupsResolved.WithLabelValues(string(p.resolver.Method), strconv.FormatBool(stats.Clamped)).Inc()
		if stats.HeavilyCensored {
			res.heavy++
			logger.Warn("heavily censored group",
				"site", key.Site,
				"measurement", key.Measurement,
				"parameter", key.Parameter,
				"censored_ratio", stats.CensoredRatio,
				"distinct_limits", stats.DistinctCensoredValues,
				"clamped", stats.Clamped,
			)
		}
	}

	groupErrs := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		p.metrics.ResolveErrors.WithLabelValues(string(e.Kind)).Inc()
		logger.Warn("resolve diagnostic",
			"kind", e.Kind,
			"site", e.Key.Site,
			"measurement", e.Key.Measurement,
			"raw", e.Raw,
			"error", e.Err,
		)
		groupErrs = append(groupErrs, e.Error())
	}
	return res, groupErrs, nil
}

// load writes rows in batchSize chunks.
func (p *Pipeline) load(ctx context.Context, rows []domain.ResolvedObservation) error {
	for start := 0; start < len(rows); start += p.batchSize {
		end := min(start+p.batchSize, len(rows))
		if err := p.loader.LoadBatch(ctx, rows[start:end]); err != nil {
			return fmt.Errorf("load batch of %d: %w", end-start, err)
		}
		p.metrics.ObservationsProduced.Add(float64(end - start))
	}
	return nil
}
