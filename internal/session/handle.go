package session

import (
	"context"

	"fieldtrack/internal/domain"
	"fieldtrack/internal/subscription"
)

// sessionHandle holds everything the session has started and must be able
// to stop: the topic subscription, the simulator and the async tasks.
type sessionHandle struct {
	sub        *subscription.Handle
	simulating bool
	wait       *task
	fetch      *task
	status     *task
}

// task is one cancellable asynchronous operation plus the timers it reads.
// Timers are stopped by the session goroutine so none outlive a teardown.
type task struct {
	cancel context.CancelFunc
	stops  []func()
}

func (t *task) stop() {
	if t == nil {
		return
	}
	t.cancel()
	for _, stop := range t.stops {
		stop()
	}
}

// teardown cancels everything in the handle and bumps the generation, so
// results already on their way are discarded.
func (s *Session) teardown() {
	s.gen++

	h := &s.handle
	if h.sub != nil {
		s.router.Unsubscribe(h.sub)
		h.sub = nil
	}
	if h.simulating {
		s.sim.Stop()
		h.simulating = false
	}
	h.wait.stop()
	h.fetch.stop()
	h.status.stop()
	h.wait, h.fetch, h.status = nil, nil, nil
}

// deliver hands a result to the session goroutine unless the task was
// cancelled first.
func (s *Session) deliver(ctx context.Context, gen uint64, apply func()) {
	select {
	case s.results <- result{gen: gen, apply: apply}:
	case <-ctx.Done():
	}
}

// startWait races the wait window against polling the feed status. Timers
// are created here, on the session goroutine, so the window starts exactly
// when StartLive is applied.
func (s *Session) startWait() {
	ctx, cancel := context.WithCancel(s.runCtx)
	window := s.clock.NewTimer(s.cfg.WaitWindow)
	poll := s.clock.NewTicker(s.cfg.PollInterval)
	s.handle.wait = &task{
		cancel: cancel,
		stops:  []func(){func() { window.Stop() }, poll.Stop},
	}

	gen := s.gen
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-window.C():
				s.deliver(ctx, gen, s.onWaitElapsed)
				return
			case <-poll.C():
				if s.feed.Status() == domain.StatusConnected {
					s.deliver(ctx, gen, s.onWaitConnected)
					return
				}
			}
		}
	}()
}

func (s *Session) startFetch(rng domain.HistoricalRange) {
	ctx, cancel := context.WithCancel(s.runCtx)
	s.handle.fetch = &task{cancel: cancel}

	gen := s.gen
	entityID := s.entityID
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		res, err := s.history.Fetch(ctx, entityID, rng)
		if ctx.Err() != nil {
			return
		}
		s.deliver(ctx, gen, func() { s.onFetched(res, err) })
	}()
}

// startStatusRefresh polls the entity status now and then on every tick,
// while the session is Live or in Fallback.
func (s *Session) startStatusRefresh() {
	if s.status == nil || s.cfg.StatusRefresh <= 0 || s.handle.status != nil {
		return
	}

	ctx, cancel := context.WithCancel(s.runCtx)
	ticker := s.clock.NewTicker(s.cfg.StatusRefresh)
	s.handle.status = &task{cancel: cancel, stops: []func(){ticker.Stop}}

	gen := s.gen
	entityID := s.entityID
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		s.refreshStatus(ctx, gen, entityID)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				s.refreshStatus(ctx, gen, entityID)
			}
		}
	}()
}

func (s *Session) refreshStatus(ctx context.Context, gen uint64, entityID string) {
	reqCtx, cancel := context.WithTimeout(ctx, statusRequestTimeout)
	defer cancel()

	all, err := s.status.Status(reqCtx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("status refresh failed", "entity_id", entityID, "error", err)
		}
		return
	}

	state := all[entityID]
	s.deliver(ctx, gen, func() {
		if s.entityStatus != state {
			s.entityStatus = state
			s.changed()
		}
	})
}
