package trackapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldtrack/internal/domain"
)

func TestTrack(t *testing.T) {
	var gotPath, gotStart, gotEnd string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotStart = r.URL.Query().Get("start")
		gotEnd = r.URL.Query().Get("end")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"latitude":17.40,"longitude":78.56,"timestamp":"2025-06-01T09:00:00"},
			{"latitude":17.41,"longitude":78.57,"timestamp":"2025-06-01T09:05:00Z"}
		]`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	ist := time.FixedZone("IST", 5*3600+1800)
	start := time.Date(2025, 6, 1, 14, 30, 0, 0, ist)
	end := time.Date(2025, 6, 1, 15, 30, 0, 0, ist)

	samples, err := c.Track(context.Background(), "SUR009", start, end)
	require.NoError(t, err)

	assert.Equal(t, "/api/location/SUR009/track", gotPath)
	assert.Equal(t, "2025-06-01T09:00:00.000Z", gotStart)
	assert.Equal(t, "2025-06-01T10:00:00.000Z", gotEnd)

	want := []domain.Sample{
		{Lat: 17.40, Lng: 78.56, Timestamp: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
		{Lat: 17.41, Lng: 78.57, Timestamp: time.Date(2025, 6, 1, 9, 5, 0, 0, time.UTC)},
	}
	if diff := cmp.Diff(want, samples); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
}

func TestTrackEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	samples, err := New(srv.URL, time.Second).Track(context.Background(), "SUR009", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestTrackErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
		"malformed": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"oops"`))
		},
		"missing coordinates": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"latitude":17.4,"timestamp":"2025-06-01T09:00:00"}]`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			_, err := New(srv.URL, time.Second).Track(context.Background(), "SUR009", time.Now().Add(-time.Hour), time.Now())
			assert.Error(t, err)
		})
	}
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/surveyors/status", r.URL.Path)
		w.Write([]byte(`{"SUR009":"Online","SUR010":"Offline"}`))
	}))
	defer srv.Close()

	status, err := New(srv.URL, time.Second).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"SUR009": "Online", "SUR010": "Offline"}, status)
}
