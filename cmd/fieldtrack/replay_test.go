package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backend(t *testing.T, samples, route string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/location/{id}/track", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samples))
	})
	mux.HandleFunc("GET /route/v1/{rest...}", func(w http.ResponseWriter, r *http.Request) {
		if route == "" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(route))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	for _, key := range []string{"FIELDTRACK_CONFIG", "FEED_TRANSPORT", "FEED_URL", "REDIS_ENABLED", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	t.Setenv("TRACK_API_URL", srv.URL)
	t.Setenv("OSRM_URL", srv.URL)
	return srv
}

func runReplay(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"replay"}, args...))
	return &out, root.Execute()
}

type feature struct {
	Type     string `json:"type"`
	Geometry struct {
		Type        string       `json:"type"`
		Coordinates [][2]float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

const twoSamples = `[
	{"latitude":17.40,"longitude":78.56,"timestamp":"2025-06-01T09:00:00Z"},
	{"latitude":17.41,"longitude":78.57,"timestamp":"2025-06-01T09:30:00Z"}
]`

func TestReplayPrintsRoutedLineString(t *testing.T) {
	backend(t, twoSamples,
		`{"code":"Ok","routes":[{"geometry":{"type":"LineString","coordinates":[[78.56,17.40],[78.565,17.404],[78.57,17.41]]}}]}`)

	out, err := runReplay(t, "--entity", "SUR009", "--start", "2025-06-01T09:00:00Z", "--end", "2025-06-01T10:00:00Z")
	require.NoError(t, err)

	var f feature
	require.NoError(t, json.Unmarshal(out.Bytes(), &f))
	assert.Equal(t, "Feature", f.Type)
	assert.Equal(t, "LineString", f.Geometry.Type)
	assert.Equal(t, [][2]float64{{78.56, 17.40}, {78.565, 17.404}, {78.57, 17.41}}, f.Geometry.Coordinates)
	assert.Equal(t, "reconstructed", f.Properties["source"])
	assert.Equal(t, "SUR009", f.Properties["entityId"])
	assert.EqualValues(t, 2, f.Properties["samples"])
}

func TestReplayFallsBackToRawSamples(t *testing.T) {
	backend(t, twoSamples, "")

	out, err := runReplay(t, "-e", "SUR009", "--start", "2025-06-01 09:00:00", "--end", "2025-06-01 10:00:00")
	require.NoError(t, err)

	var f feature
	require.NoError(t, json.Unmarshal(out.Bytes(), &f))
	assert.Equal(t, [][2]float64{{78.56, 17.40}, {78.57, 17.41}}, f.Geometry.Coordinates)
	assert.Equal(t, "raw", f.Properties["source"])
}

func TestReplayNoData(t *testing.T) {
	backend(t, `[]`, "")

	out, err := runReplay(t, "-e", "SUR009", "--start", "2025-06-01T09:00:00Z", "--end", "2025-06-01T10:00:00Z")
	assert.ErrorIs(t, err, errNoData)
	assert.Empty(t, out.String())
}

func TestReplayRequiresFlags(t *testing.T) {
	backend(t, `[]`, "")

	_, err := runReplay(t, "--entity", "SUR009")
	assert.Error(t, err)

	_, err = runReplay(t, "-e", "SUR009", "--start", "sometime", "--end", "2025-06-01T10:00:00Z")
	assert.ErrorContains(t, err, "parsing --start")
}
