package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldtrack/internal/clock"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newLimiter(rate int, whitelist ...string) (*RateLimiter, *clock.Manual) {
	clk := clock.NewManual(t0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRateLimiter(rate, time.Minute, whitelist, clk, logger), clk
}

func TestAllowWindow(t *testing.T) {
	rl, clk := newLimiter(2)

	ok, _ := rl.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok)

	clk.Advance(20 * time.Second)
	ok, retry := rl.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, retry)

	ok, _ = rl.Allow("10.0.0.2")
	assert.True(t, ok, "limits are per IP")

	clk.Advance(40 * time.Second)
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok, "a new window starts")
}

func TestZeroRateDisables(t *testing.T) {
	rl, _ := newLimiter(0)
	for i := 0; i < 100; i++ {
		ok, _ := rl.Allow("10.0.0.1")
		require.True(t, ok)
	}
	assert.Zero(t, rl.Tracked())
}

func TestMiddleware(t *testing.T) {
	rl, _ := newLimiter(1, "192.168.1.9")
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(header, value string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/surveyors/status", nil)
		req.RemoteAddr = "10.1.1.1:5555"
		if header != "" {
			req.Header.Set(header, value)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("", "").Code)
	rec := do("", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, do("X-Forwarded-For", "172.16.0.4, 10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, do("X-Forwarded-For", "172.16.0.4").Code)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, do("X-Real-IP", "192.168.1.9").Code, "whitelisted")
	}
}

func TestRunForgetsIdleClients(t *testing.T) {
	rl, clk := newLimiter(5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl.Allow("10.0.0.1")
	go rl.Run(ctx)
	require.Eventually(t, func() bool { return clk.Active() == 1 }, time.Second, 5*time.Millisecond)

	clk.Advance(2 * time.Minute)
	assert.Equal(t, 1, rl.Tracked(), "idle for exactly the cleanup interval")

	clk.Advance(2 * time.Minute)
	require.Eventually(t, func() bool { return rl.Tracked() == 0 }, time.Second, 5*time.Millisecond)
}
