// Package history reconstructs the path an entity took over a past time
// range from stored samples and a routing service.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fieldtrack/internal/domain"
	"fieldtrack/internal/metrics"
)

const DefaultRouteTimeout = 10 * time.Second

// SampleSource returns stored samples for an entity and time range
type SampleSource interface {
	Track(ctx context.Context, entityID string, start, end time.Time) ([]domain.Sample, error)
}

// PathFinder routes between two coordinates
type PathFinder interface {
	Route(ctx context.Context, from, to domain.LatLng) ([]domain.LatLng, error)
	Profile() string
}

// RouteCache stores routed paths. Failures are logged and ignored.
type RouteCache interface {
	GetRoute(ctx context.Context, profile string, from, to domain.LatLng) ([]domain.LatLng, bool, error)
	SetRoute(ctx context.Context, profile string, from, to domain.LatLng, points []domain.LatLng) error
}

// Result of a fetch. The zero value is the empty outcome.
type Result struct {
	Segment domain.RouteSegment
	Samples int
}

// Empty reports that the range holds nothing to display
func (r Result) Empty() bool {
	return len(r.Segment.Points) == 0
}

type Fetcher struct {
	samples      SampleSource
	router       PathFinder
	cache        RouteCache
	routeTimeout time.Duration
	logger       *slog.Logger
}

type Option func(*Fetcher)

func WithCache(c RouteCache) Option {
	return func(f *Fetcher) { f.cache = c }
}

func WithRouteTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.routeTimeout = d
		}
	}
}

func NewFetcher(samples SampleSource, router PathFinder, logger *slog.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		samples:      samples,
		router:       router,
		routeTimeout: DefaultRouteTimeout,
		logger:       logger.With("component", "history_fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the path of entityID over rng. An inverted range is empty
// without a request. With two or more samples the path is routed between the
// first and last; if routing fails the samples are returned as they are.
// Only a failure to load samples is an error.
func (f *Fetcher) Fetch(ctx context.Context, entityID string, rng domain.HistoricalRange) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.HistoryFetchDuration.Observe(time.Since(start).Seconds())
	}()

	if rng.Inverted() {
		f.logger.Debug("inverted range", "entity_id", entityID, "start", rng.Start, "end", rng.End)
		metrics.HistoryResults.WithLabelValues("empty").Inc()
		return Result{}, nil
	}

	samples, err := f.samples.Track(ctx, entityID, rng.Start, rng.End)
	if err != nil {
		metrics.HistoryResults.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("fetching samples for %s: %w", entityID, err)
	}

	res := f.build(ctx, entityID, samples)
	metrics.HistoryResults.WithLabelValues(resultLabel(res)).Inc()

	f.logger.Info("historical route fetched",
		"entity_id", entityID,
		"samples", len(samples),
		"points", len(res.Segment.Points),
		"source", res.Segment.Source,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (f *Fetcher) build(ctx context.Context, entityID string, samples []domain.Sample) Result {
	switch len(samples) {
	case 0:
		return Result{}
	case 1:
		return rawResult(samples)
	}

	from := samples[0].LatLng()
	to := samples[len(samples)-1].LatLng()

	points, err := f.route(ctx, from, to)
	if err != nil {
		metrics.ReconstructionFailures.Inc()
		f.logger.Warn("route reconstruction failed, using raw samples", "entity_id", entityID, "samples", len(samples), "error", err)
		return rawResult(samples)
	}

	return Result{
		Segment: domain.RouteSegment{Points: points, Source: domain.SegmentReconstructed},
		Samples: len(samples),
	}
}

func (f *Fetcher) route(ctx context.Context, from, to domain.LatLng) ([]domain.LatLng, error) {
	profile := f.router.Profile()

	if f.cache != nil {
		points, found, err := f.cache.GetRoute(ctx, profile, from, to)
		if err != nil {
			f.logger.Warn("route cache lookup failed", "error", err)
		} else if found && len(points) > 0 {
			return points, nil
		}
	}

	routeCtx, cancel := context.WithTimeout(ctx, f.routeTimeout)
	defer cancel()

	points, err := f.router.Route(routeCtx, from, to)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("routing service returned no points")
	}

	if f.cache != nil {
		if err := f.cache.SetRoute(ctx, profile, from, to, points); err != nil {
			f.logger.Warn("route cache store failed", "error", err)
		}
	}
	return points, nil
}

func rawResult(samples []domain.Sample) Result {
	points := make([]domain.LatLng, len(samples))
	for i, s := range samples {
		points[i] = s.LatLng()
	}
	return Result{
		Segment: domain.RouteSegment{Points: points, Source: domain.SegmentRaw},
		Samples: len(samples),
	}
}

func resultLabel(r Result) string {
	if r.Empty() {
		return "empty"
	}
	return string(r.Segment.Source)
}
