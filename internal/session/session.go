// Package session runs the per-operator tracking session: one goroutine owns
// the mode, the trail and the displayed route, and every intent, transport
// event, timer and fetch result is applied on it in arrival order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fieldtrack/internal/clock"
	"fieldtrack/internal/domain"
	"fieldtrack/internal/feed"
	"fieldtrack/internal/history"
	"fieldtrack/internal/metrics"
	"fieldtrack/internal/subscription"
	"fieldtrack/internal/trail"
)

var ErrClosed = errors.New("session closed")

const (
	noticeFallback  = "Demo mode: live tracking simulation active"
	noticeNoData    = "No location data found for the selected time range"
	noticeFetchFail = "Failed to fetch historical route"

	statusRequestTimeout = 10 * time.Second
)

type Config struct {
	WaitWindow    time.Duration
	PollInterval  time.Duration
	StatusRefresh time.Duration
	TrailCapacity int
}

func DefaultConfig() Config {
	return Config{
		WaitWindow:    5 * time.Second,
		PollInterval:  100 * time.Millisecond,
		StatusRefresh: 30 * time.Second,
		TrailCapacity: trail.DefaultCapacity,
	}
}

func (c Config) validate() error {
	switch {
	case c.WaitWindow <= 0:
		return fmt.Errorf("wait window must be positive, got %s", c.WaitWindow)
	case c.PollInterval <= 0 || c.PollInterval > c.WaitWindow:
		return fmt.Errorf("poll interval %s must be positive and within the wait window", c.PollInterval)
	case c.StatusRefresh < 0:
		return fmt.Errorf("status refresh must not be negative, got %s", c.StatusRefresh)
	case c.TrailCapacity <= 0:
		return fmt.Errorf("trail capacity must be positive, got %d", c.TrailCapacity)
	}
	return nil
}

// Feed is the push connection of one session.
type Feed interface {
	Connect()
	Disconnect()
	Status() domain.ConnectionStatus
	Events() <-chan feed.Event
	Subscribe(topic string) error
	Unsubscribe(topic string) error
}

type Simulator interface {
	Start(entityID string, origin *domain.LatLng)
	Stop()
	Positions() <-chan domain.Position
}

type HistoryFetcher interface {
	Fetch(ctx context.Context, entityID string, rng domain.HistoricalRange) (history.Result, error)
}

// StatusSource reports the online state of every entity by id.
type StatusSource interface {
	Status(ctx context.Context) (map[string]string, error)
}

type Deps struct {
	Feed      Feed
	Simulator Simulator
	History   HistoryFetcher
	// Status is optional; without it the entity status is never refreshed.
	Status StatusSource
	Clock  clock.Clock
	Logger *slog.Logger
}

type result struct {
	gen   uint64
	apply func()
}

type Session struct {
	id      string
	cfg     Config
	clock   clock.Clock
	feed    Feed
	router  *subscription.Router
	sim     Simulator
	history HistoryFetcher
	status  StatusSource
	logger  *slog.Logger

	intents chan func()
	results chan result
	changes chan struct{}
	quit    chan struct{}
	done    chan struct{}

	started   atomic.Bool
	closeOnce sync.Once
	tasks     sync.WaitGroup

	// owned by the Run goroutine
	runCtx       context.Context
	broken       error
	mode         domain.Mode
	entityID     string
	entityStatus string
	trail        *trail.Buffer
	current      *domain.Position
	lastKnown    *domain.Position
	route        *domain.RouteSegment
	notices      []domain.Notice
	gen          uint64
	handle       sessionHandle
}

func New(cfg Config, deps Deps) *Session {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	logger = logger.With("component", "session", "session_id", id)

	return &Session{
		id:      id,
		cfg:     cfg,
		clock:   clk,
		feed:    deps.Feed,
		router:  subscription.NewRouter(deps.Feed, logger),
		sim:     deps.Simulator,
		history: deps.History,
		status:  deps.Status,
		logger:  logger,
		intents: make(chan func()),
		results: make(chan result),
		changes: make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		mode:    domain.ModeIdle,
		trail:   trail.New(cfg.TrailCapacity),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Changes receives a signal after any change visible in the View. Signals
// coalesce; read Snapshot after each one.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

// Run processes the session until ctx is cancelled or Close is called. On
// return every subscription, timer and in-flight fetch has been released and
// the feed is disconnected.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}
	defer close(s.done)

	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	s.runCtx = ctx
	if err := s.cfg.validate(); err != nil {
		s.broken = fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
		s.logger.Error("session configuration invalid", "error", err)
		s.setMode(domain.ModeError)
	}

	s.logger.Info("session started")
	defer s.logger.Info("session stopped")

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil

		case <-s.quit:
			s.shutdown()
			return nil

		case fn := <-s.intents:
			fn()

		case r := <-s.results:
			if r.gen != s.gen {
				s.logger.Debug("discarding stale result", "gen", r.gen, "current_gen", s.gen)
				continue
			}
			r.apply()

		case ev := <-s.feed.Events():
			s.onFeedEvent(ev)

		case p := <-s.sim.Positions():
			if s.mode != domain.ModeFallback {
				continue
			}
			s.accept(p)
		}
	}
}

// Close stops Run and waits for it to release everything.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	if s.started.Load() {
		<-s.done
	}
}

func (s *Session) shutdown() {
	s.teardown()
	s.feed.Disconnect()
	s.tasks.Wait()
}

// do runs fn on the session goroutine and returns its error.
func (s *Session) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	intent := func() {
		if s.broken != nil {
			errc <- s.broken
			return
		}
		errc <- fn()
	}

	select {
	case s.intents <- intent:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// SelectEntity switches the session to id from any state, dropping whatever
// was live, simulated or being fetched.
func (s *Session) SelectEntity(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	return s.do(ctx, func() error {
		if id == "" {
			return domain.ErrNoEntitySelected
		}

		s.teardown()
		s.trail.Clear()
		s.current = nil
		s.route = nil
		if id != s.entityID {
			s.lastKnown = nil
			s.entityStatus = ""
		}
		s.entityID = id
		s.setMode(domain.ModeSelectingEntity)

		s.logger.Info("entity selected", "entity_id", id)
		return nil
	})
}

// StartLive begins tracking the selected entity. It returns once the attempt
// is under way; the session then settles in Live or Fallback on its own.
func (s *Session) StartLive(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.entityID == "" {
			return domain.ErrNoEntitySelected
		}
		switch s.mode {
		case domain.ModeConnectingLive, domain.ModeLive, domain.ModeFallback:
			return nil
		}

		s.teardown()
		s.trail.Clear()
		s.current = nil
		s.route = nil
		s.setMode(domain.ModeConnectingLive)

		if s.feed.Status() == domain.StatusConnected {
			s.goLive()
			return nil
		}

		s.feed.Connect()
		s.startWait()
		s.logger.Info("waiting for feed", "entity_id", s.entityID, "window", s.cfg.WaitWindow)
		return nil
	})
}

// StopLive ends live or simulated tracking. Calling it in any other state
// changes nothing.
func (s *Session) StopLive(ctx context.Context) error {
	return s.do(ctx, func() error {
		switch s.mode {
		case domain.ModeConnectingLive, domain.ModeLive, domain.ModeFallback:
		default:
			return nil
		}

		s.teardown()
		s.trail.Clear()
		s.current = nil
		s.setMode(domain.ModeSelectingEntity)

		s.logger.Info("live tracking stopped", "entity_id", s.entityID)
		return nil
	})
}

// FetchHistorical stops any live source and loads the route of the selected
// entity over rng. It returns once the fetch has started.
func (s *Session) FetchHistorical(ctx context.Context, rng domain.HistoricalRange) error {
	return s.do(ctx, func() error {
		if s.entityID == "" {
			return domain.ErrNoEntitySelected
		}

		s.teardown()
		s.trail.Clear()
		s.current = nil
		s.route = nil
		s.setMode(domain.ModeHistorical)
		s.startFetch(rng)
		return nil
	})
}

// Snapshot returns the current view, including notices not yet taken.
func (s *Session) Snapshot(ctx context.Context) (View, error) {
	var v View
	err := s.doAlways(ctx, func() {
		v = s.view()
	})
	return v, err
}

// TakeNotices drains the notice queue.
func (s *Session) TakeNotices(ctx context.Context) ([]domain.Notice, error) {
	var out []domain.Notice
	err := s.doAlways(ctx, func() {
		out = s.notices
		s.notices = nil
	})
	return out, err
}

// doAlways is do for reads that must work in the Error mode too.
func (s *Session) doAlways(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	intent := func() {
		fn()
		close(done)
	}

	select {
	case s.intents <- intent:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) onFeedEvent(ev feed.Event) {
	switch ev.Kind {
	case feed.EventMessage:
		if s.mode != domain.ModeLive {
			return
		}
		pos, ok := s.router.Decode(ev.Message)
		if !ok {
			return
		}
		if pos.EntityID == "" {
			pos.EntityID = s.entityID
		}
		s.accept(pos)

	case feed.EventStatus:
		s.logger.Debug("feed status", "status", ev.Status, "error", ev.Err)
		s.changed()

		switch ev.Status {
		case domain.StatusConnected:
			if s.mode == domain.ModeConnectingLive {
				s.goLive()
			}
		case domain.StatusError, domain.StatusDisconnected:
			if s.mode == domain.ModeConnectingLive || s.mode == domain.ModeLive {
				s.fallback(lostReason(s.mode, ev.Err))
			}
		}
	}
}

func (s *Session) onWaitConnected() {
	if s.mode == domain.ModeConnectingLive {
		s.goLive()
	}
}

// onWaitElapsed fires when the wait window runs out. The connection may have
// come up after the last poll, so the status is checked again here.
func (s *Session) onWaitElapsed() {
	if s.mode != domain.ModeConnectingLive {
		return
	}
	if s.feed.Status() == domain.StatusConnected {
		s.goLive()
		return
	}
	s.fallback("timeout")
}

func (s *Session) goLive() {
	s.handle.wait.stop()
	s.handle.wait = nil

	h, err := s.router.Subscribe(s.entityID)
	if err != nil {
		s.logger.Warn("subscribe failed", "entity_id", s.entityID, "error", err)
		s.fallback("subscribe_failed")
		return
	}
	s.handle.sub = h
	s.setMode(domain.ModeLive)
	s.startStatusRefresh()
}

// lostReason labels a fallback caused by the feed going down.
func lostReason(mode domain.Mode, err error) string {
	switch {
	case errors.Is(err, feed.ErrSubscribeRefused):
		return "subscribe_failed"
	case mode == domain.ModeLive:
		return "connection_lost"
	default:
		return "connection_error"
	}
}

func (s *Session) fallback(reason string) {
	s.handle.wait.stop()
	s.handle.wait = nil
	if s.handle.sub != nil {
		s.router.Unsubscribe(s.handle.sub)
		s.handle.sub = nil
	}

	var origin *domain.LatLng
	if s.lastKnown != nil {
		ll := s.lastKnown.LatLng()
		origin = &ll
	}
	s.sim.Start(s.entityID, origin)
	s.handle.simulating = true

	metrics.FallbackActivations.WithLabelValues(reason).Inc()
	s.logger.Warn("falling back to simulated positions", "entity_id", s.entityID, "reason", reason)

	s.setMode(domain.ModeFallback)
	s.notify(domain.SeverityDemo, noticeFallback)
	s.startStatusRefresh()
}

func (s *Session) onFetched(res history.Result, err error) {
	if s.mode != domain.ModeHistorical {
		return
	}

	switch {
	case err != nil:
		s.logger.Warn("historical fetch failed", "entity_id", s.entityID, "error", err)
		s.notify(domain.SeverityWarning, fmt.Sprintf("%s: %v", noticeFetchFail, err))
	case res.Empty():
		s.notify(domain.SeverityWarning, noticeNoData)
	default:
		seg := res.Segment
		s.route = &seg
	}
	s.setMode(domain.ModeSelectingEntity)
}

func (s *Session) accept(p domain.Position) {
	s.trail.Append(p)
	s.current = &p
	s.lastKnown = &p
	metrics.PositionsReceived.WithLabelValues(string(p.Source)).Inc()
	s.changed()
}

func (s *Session) setMode(m domain.Mode) {
	if s.mode == m {
		return
	}
	s.logger.Debug("mode change", "from", s.mode, "to", m)
	s.mode = m
	metrics.ModeTransitions.WithLabelValues(m.String()).Inc()
	s.changed()
}

func (s *Session) notify(sev domain.Severity, text string) {
	s.notices = append(s.notices, domain.Notice{Severity: sev, Text: text})
	s.changed()
}

func (s *Session) changed() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
