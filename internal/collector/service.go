package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/logger"
)

// Service runs the fetch, normalize and export pipeline for every geo-point.
type Service struct {
	exporter    Exporter
	pipelines   []Pipeline
	zone        *time.Location
	now         func() time.Time
	concurrency int
	recorder    Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now. Used for deterministic stamps in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithConcurrency sets how many geo-points are processed at once. Values
// below 2 keep the run sequential.
func WithConcurrency(n int) Option {
	return func(s *Service) { s.concurrency = n }
}

// WithRecorder attaches an outcome observer such as a metrics collector.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// NewService creates a Service. Pipelines run in the given order for each
// geo-point.
func NewService(exporter Exporter, zone *time.Location, pipelines []Pipeline, opts ...Option) *Service {
	if zone == nil {
		zone = time.UTC
	}
	s := &Service{
		exporter:    exporter,
		pipelines:   pipelines,
		zone:        zone,
		now:         time.Now,
		concurrency: 1,
		recorder:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunPair fetches, normalizes and exports one record. Failures end in
// StateFailed and are never returned to the caller.
func (s *Service) RunPair(ctx context.Context, point GeoPoint, p Pipeline) (out PairOutcome) {
	start := time.Now()
	state := StateFetching
	out = PairOutcome{GeoID: point.ID, GeoName: point.Name, Kind: p.Kind, Table: p.Table}

	fail := func(err error) PairOutcome {
		out.State = StateFailed
		out.FailedAt = state
		out.Err = err
		out.Message = err.Error()
		return out
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic while handling %s data for %s: %v", p.Kind, point.Name, r)
			out = fail(fmt.Errorf("panic: %v", r))
		}
		out.Duration = time.Since(start)
		s.recorder.PairFinished(out)
	}()

	raw, err := p.Fetcher.Fetch(ctx, point)
	if err != nil {
		logger.Errorf("error occurred while fetching %s data for %s: %v", p.Kind, point.Name, err)
		return fail(err)
	}

	state = StateNormalizing
	rec, err := p.Normalize(raw, point, s.now().In(s.zone))
	if err == nil && rec == nil {
		err = &NormalizeError{Kind: p.Kind, GeoName: point.Name, Err: errEmptyRecord}
	}
	if err != nil {
		logger.Warnf("no %s data to export for %s: %v", p.Kind, point.Name, err)
		return fail(err)
	}

	state = StateExporting
	if err := s.exporter.Export(ctx, p.Table, rec); err != nil {
		var exportErr *ExportError
		if !errors.As(err, &exportErr) {
			err = &ExportError{Kind: p.Kind, GeoName: point.Name, Table: p.Table, Err: err}
		}
		logger.Errorf("error occurred while exporting %s data for %s: %v", p.Kind, point.Name, err)
		return fail(err)
	}

	logger.Infof("successfully exported %s data for %s", p.Kind, point.Name)
	out.State = StateDone
	return out
}

// Run processes every geo-point in ascending id order. Within a geo-point the
// pipelines run in configuration order. A failing pair never stops the run.
func (s *Service) Run(ctx context.Context, points []GeoPoint) RunResult {
	runID := uuid.NewString()
	started := time.Now()
	local := s.now().In(s.zone)
	logger.Infof("collection run %s started on %s at %s", runID, local.Format("2006-01-02"), local.Format("15:04:05"))

	sorted := make([]GeoPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	perPoint := make([][]PairOutcome, len(sorted))
	if s.concurrency < 2 {
		for i, point := range sorted {
			perPoint[i] = s.runPoint(ctx, point)
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(s.concurrency)
		for i, point := range sorted {
			i, point := i, point
			g.Go(func() error {
				perPoint[i] = s.runPoint(ctx, point)
				return nil
			})
		}
		_ = g.Wait()
	}

	outcomes := make([]PairOutcome, 0, len(sorted)*len(s.pipelines))
	for _, o := range perPoint {
		outcomes = append(outcomes, o...)
	}

	res := Summarize(runID, started, time.Now(), outcomes)
	logger.Infof("collection run %s completed: %d done, %d failed, %d skipped; total execution time %.2f minutes",
		runID, res.Done, res.Failed, res.Skipped, res.Elapsed.Minutes())
	s.recorder.RunFinished(res)
	return res
}

func (s *Service) runPoint(ctx context.Context, point GeoPoint) []PairOutcome {
	outcomes := make([]PairOutcome, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		if err := ctx.Err(); err != nil {
			skipped := PairOutcome{
				GeoID:   point.ID,
				GeoName: point.Name,
				Kind:    p.Kind,
				Table:   p.Table,
				State:   StateSkipped,
				Message: err.Error(),
				Err:     err,
			}
			s.recorder.PairFinished(skipped)
			outcomes = append(outcomes, skipped)
			continue
		}
		outcomes = append(outcomes, s.RunPair(ctx, point, p))
	}
	return outcomes
}
