package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fieldtrack/internal/cache"
	"fieldtrack/internal/clock"
	"fieldtrack/internal/config"
	"fieldtrack/internal/domain"
	"fieldtrack/internal/feed"
	"fieldtrack/internal/handler"
	"fieldtrack/internal/history"
	"fieldtrack/internal/middleware"
	"fieldtrack/internal/relay"
	"fieldtrack/internal/session"
	"fieldtrack/internal/simulator"
	"fieldtrack/pkg/osrm"
	"fieldtrack/pkg/trackapi"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve dashboard sessions over WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting fieldtrack server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"feed_transport", cfg.FeedTransport,
		"redis_enabled", cfg.RedisEnabled,
		"relay_enabled", cfg.RelayEnabled,
	)

	health := handler.NewHealthHandler()

	tracks := trackapi.New(cfg.TrackAPIURL, cfg.RouteTimeout)
	router := osrm.New(cfg.OSRMURL, cfg.OSRMProfile, cfg.RouteTimeout)
	opts := []history.Option{history.WithRouteTimeout(cfg.RouteTimeout)}

	if cfg.RedisEnabled {
		rc, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RouteCacheTTL, logger)
		if err != nil {
			logger.Warn("redis unavailable, route cache disabled", "error", err)
		} else {
			defer rc.Close()
			opts = append(opts, history.WithCache(rc))
			health.AddCheck("redis", rc.Ping)
		}
	}
	fetcher := history.NewFetcher(tracks, router, logger, opts...)

	sessionCfg := session.Config{
		WaitWindow:    cfg.LiveWaitWindow,
		PollInterval:  cfg.LivePollInterval,
		StatusRefresh: cfg.StatusRefreshInterval,
		TrailCapacity: cfg.TrailCapacity,
	}
	simCfg := simulator.Config{
		Interval: cfg.SimInterval,
		Origin:   domain.LatLng{Lat: cfg.SimOriginLat, Lng: cfg.SimOriginLng},
	}
	newSession := func() handler.Session {
		return session.New(sessionCfg, session.Deps{
			Feed:      feed.NewManager(newTransport(cfg, logger), logger),
			Simulator: simulator.New(simCfg, clock.Real{}, nil, logger),
			History:   fetcher,
			Status:    tracks,
			Clock:     clock.Real{},
			Logger:    logger,
		})
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, clock.Real{}, logger)

	api := http.NewServeMux()
	api.HandleFunc("/v1/session", handler.NewWSHandler(newSession, logger).ServeWS)

	var rel *relay.Relay
	if cfg.RelayEnabled {
		rel = relay.New(relay.Config{StaleAfter: cfg.RelayStaleAfter, Retention: cfg.RelayRetention}, clock.Real{}, logger)
		relayHTTP := handler.NewRelayHandler(rel, logger)

		api.HandleFunc("/v1/feed", handler.NewFeedHandler(rel.Hub(), logger).ServeWS)
		api.HandleFunc("POST /api/location", relayHTTP.IngestLocation)
		api.HandleFunc("GET /api/location/{id}/track", relayHTTP.Track)
		api.HandleFunc("GET /api/surveyors/status", relayHTTP.Status)

		health.AddCheck("relay", func(context.Context) error {
			if !rel.IsReady() {
				return errors.New("relay not running")
			}
			return nil
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", limiter.Middleware(api))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.CORSMiddleware(handler.GzipMiddleware(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		// Sessions hang off the request context, so they end with the server.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})

	if rel != nil {
		g.Go(func() error {
			rel.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	logger.Info("shutdown complete")
	return err
}

func newTransport(cfg *config.Config, logger *slog.Logger) feed.Transport {
	if cfg.FeedTransport == config.TransportAMQP {
		return feed.NewAMQPTransport(cfg.FeedURL, cfg.FeedExchange, cfg.FeedDialTimeout, logger)
	}
	return feed.NewWebSocketTransport(cfg.FeedURL, cfg.FeedDialTimeout, logger)
}
