package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"fieldtrack/internal/cache"
	"fieldtrack/internal/config"
	"fieldtrack/internal/domain"
	"fieldtrack/internal/history"
	"fieldtrack/pkg/osrm"
	"fieldtrack/pkg/trackapi"
)

var errNoData = errors.New("no location data found for the selected time range")

type replayOptions struct {
	entityID string
	start    string
	end      string
}

func newReplayCmd() *cobra.Command {
	var opts replayOptions
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Reconstruct a past route and print it as GeoJSON",
		Long: `replay loads the stored samples of one surveyor over a time range, routes
between the first and last of them and prints the result as a GeoJSON
LineString feature. When routing fails the raw samples are printed instead.`,
		Example: `  fieldtrack replay --entity SUR009 --start 2025-06-01T09:00:00Z --end 2025-06-01T12:00:00Z`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return replay(cmd, cfg, logger, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.entityID, "entity", "e", "", "surveyor id")
	cmd.Flags().StringVar(&opts.start, "start", "", "range start, RFC 3339 or UTC date-time")
	cmd.Flags().StringVar(&opts.end, "end", "", "range end, RFC 3339 or UTC date-time")
	for _, name := range []string{"entity", "start", "end"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func replay(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, opts replayOptions) error {
	entityID := strings.TrimSpace(opts.entityID)
	if entityID == "" {
		return domain.ErrNoEntitySelected
	}
	start, err := domain.ParseTimestamp(opts.start)
	if err != nil {
		return fmt.Errorf("parsing --start: %w", err)
	}
	end, err := domain.ParseTimestamp(opts.end)
	if err != nil {
		return fmt.Errorf("parsing --end: %w", err)
	}

	fetchOpts := []history.Option{history.WithRouteTimeout(cfg.RouteTimeout)}
	if cfg.RedisEnabled {
		rc, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RouteCacheTTL, logger)
		if err != nil {
			logger.Warn("redis unavailable, route cache disabled", "error", err)
		} else {
			defer rc.Close()
			fetchOpts = append(fetchOpts, history.WithCache(rc))
		}
	}

	fetcher := history.NewFetcher(
		trackapi.New(cfg.TrackAPIURL, cfg.RouteTimeout),
		osrm.New(cfg.OSRMURL, cfg.OSRMProfile, cfg.RouteTimeout),
		logger,
		fetchOpts...,
	)

	res, err := fetcher.Fetch(cmd.Context(), entityID, domain.HistoricalRange{Start: start, End: end})
	if err != nil {
		return fmt.Errorf("fetching historical route: %w", err)
	}
	if res.Empty() {
		return errNoData
	}

	return writeGeoJSON(cmd.OutOrStdout(), entityID, res)
}

type geoJSONFeature struct {
	Type       string          `json:"type"`
	Geometry   geoJSONGeometry `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

type geoJSONGeometry struct {
	Type        string       `json:"type"`
	Coordinates [][2]float64 `json:"coordinates"`
}

// writeGeoJSON prints the segment as a LineString, longitude first.
func writeGeoJSON(w io.Writer, entityID string, res history.Result) error {
	coords := make([][2]float64, 0, len(res.Segment.Points))
	for _, p := range res.Segment.Points {
		coords = append(coords, [2]float64{p.Lng, p.Lat})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(geoJSONFeature{
		Type: "Feature",
		Geometry: geoJSONGeometry{
			Type:        "LineString",
			Coordinates: coords,
		},
		Properties: map[string]any{
			"entityId": entityID,
			"source":   res.Segment.Source,
			"samples":  res.Samples,
		},
	})
}
