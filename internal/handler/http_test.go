package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldtrack/internal/clock"
	"fieldtrack/internal/relay"
	"fieldtrack/pkg/trackapi"
)

func newRelayServer(t *testing.T, clk clock.Clock) (*httptest.Server, *relay.Relay) {
	t.Helper()
	r := relay.New(relay.Config{StaleAfter: time.Minute, Retention: time.Hour}, clk, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)
	waitFor(t, r.IsReady, "relay not ready")

	rh := NewRelayHandler(r, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/location", rh.IngestLocation)
	mux.HandleFunc("GET /api/location/{id}/track", rh.Track)
	mux.HandleFunc("GET /api/surveyors/status", rh.Status)
	mux.HandleFunc("/v1/feed", NewFeedHandler(r.Hub(), testLogger()).ServeWS)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, r
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/api/location", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestIngestLocation(t *testing.T) {
	srv, r := newRelayServer(t, clock.NewManual(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)))

	resp := post(t, srv.URL, `{"surveyorId":"SUR009","latitude":17.4,"longitude":78.56}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body IngestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "SUR009", body.SurveyorID)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), body.Timestamp)
	assert.Equal(t, 1, r.Store().Count())
}

func TestIngestLocationRejects(t *testing.T) {
	srv, r := newRelayServer(t, clock.Real{})

	for name, body := range map[string]string{
		"not json":      `{"surveyorId":`,
		"missing id":    `{"latitude":17.4,"longitude":78.56}`,
		"out of range":  `{"surveyorId":"A","latitude":97.4,"longitude":78.56}`,
		"bad timestamp": `{"surveyorId":"A","latitude":17.4,"longitude":78.56,"timestamp":"yesterday"}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := post(t, srv.URL, body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}
	assert.Zero(t, r.Store().Count())
}

func TestTrackAndStatusServeTheClientContract(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC))
	srv, _ := newRelayServer(t, clk)

	for _, body := range []string{
		`{"surveyorId":"SUR009","latitude":17.402,"longitude":78.566,"timestamp":"2025-06-01T10:20:00Z"}`,
		`{"surveyorId":"SUR009","latitude":17.401,"longitude":78.564,"timestamp":"2025-06-01T10:00:00Z"}`,
		`{"surveyorId":"SUR009","latitude":17.5,"longitude":78.6,"timestamp":"2025-06-01T12:00:00Z"}`,
		`{"surveyorId":"SUR010","latitude":17.3,"longitude":78.4,"timestamp":"2025-06-01T10:05:00Z"}`,
	} {
		require.Equal(t, http.StatusAccepted, post(t, srv.URL, body).StatusCode)
	}

	client := trackapi.New(srv.URL, time.Second)
	ctx := context.Background()

	samples, err := client.Track(ctx, "SUR009",
		time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 17.401, samples[0].Lat)
	assert.Equal(t, 78.566, samples[1].Lng)

	clk.Advance(90 * time.Second)
	require.Equal(t, http.StatusAccepted, post(t, srv.URL, `{"surveyorId":"SUR010","latitude":17.3,"longitude":78.4}`).StatusCode)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"SUR009": relay.StatusOffline, "SUR010": relay.StatusOnline}, status)
}

func TestTrackRequiresRange(t *testing.T) {
	srv, _ := newRelayServer(t, clock.Real{})

	resp, err := http.Get(srv.URL + "/api/location/SUR009/track?start=2025-06-01T10:00:00.000Z")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "missing end parameter", body.Error)
}
