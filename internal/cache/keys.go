package cache

import (
	"fmt"
	"time"

	"fieldtrack/internal/domain"
)

const DefaultRouteTTL = 24 * time.Hour

// KeyRoute identifies a routed path. Endpoints are rounded to 5 decimals
// (about a metre) so jitter in stored samples still hits the cache.
func KeyRoute(profile string, from, to domain.LatLng) string {
	return fmt.Sprintf("route:%s:%.5f,%.5f:%.5f,%.5f", profile, from.Lat, from.Lng, to.Lat, to.Lng)
}
