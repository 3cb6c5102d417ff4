package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldtrack/internal/domain"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := newRedisCache(client, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRouteRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	from := domain.LatLng{Lat: 17.4010007, Lng: 78.5643879}
	to := domain.LatLng{Lat: 17.41, Lng: 78.57}
	path := []domain.LatLng{from, {Lat: 17.405, Lng: 78.567}, to}

	_, found, err := c.GetRoute(ctx, "walking", from, to)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetRoute(ctx, "walking", from, to, path))

	got, found, err := c.GetRoute(ctx, "walking", from, to)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, path, got)

	key := "fieldtrack:" + KeyRoute("walking", from, to)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	mr.FastForward(2 * time.Hour)
	_, found, err = c.GetRoute(ctx, "walking", from, to)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRouteKeyRounding(t *testing.T) {
	a := domain.LatLng{Lat: 17.4010007, Lng: 78.5643879}
	b := domain.LatLng{Lat: 17.4010008, Lng: 78.5643881}
	to := domain.LatLng{Lat: 17.41, Lng: 78.57}

	assert.Equal(t, KeyRoute("walking", a, to), KeyRoute("walking", b, to))
	assert.NotEqual(t, KeyRoute("walking", a, to), KeyRoute("foot", a, to))
	assert.NotEqual(t, KeyRoute("walking", a, to), KeyRoute("walking", to, a))
}

func TestCorruptEntryIsAnError(t *testing.T) {
	c, mr := newTestCache(t)
	from := domain.LatLng{Lat: 1, Lng: 2}
	to := domain.LatLng{Lat: 3, Lng: 4}

	require.NoError(t, mr.Set("fieldtrack:"+KeyRoute("walking", from, to), "not gzip"))

	_, found, err := c.GetRoute(context.Background(), "walking", from, to)
	assert.Error(t, err)
	assert.False(t, found)
}

func TestUnreachable(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()

	ctx := context.Background()
	assert.Error(t, c.Ping(ctx))
	_, _, err := c.GetRoute(ctx, "walking", domain.LatLng{}, domain.LatLng{Lat: 1})
	assert.Error(t, err)
}
