// Package osrm is a minimal client for the OSRM route service.
package osrm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"fieldtrack/internal/domain"
)

const DefaultProfile = "walking"

var (
	ErrNoRoute       = errors.New("osrm: no route")
	ErrEmptyGeometry = errors.New("osrm: empty geometry")
)

type Client struct {
	baseURL    string
	profile    string
	httpClient *http.Client
}

func New(baseURL, profile string, timeout time.Duration) *Client {
	if profile == "" {
		profile = DefaultProfile
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		profile: profile,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (c *Client) Profile() string {
	return c.profile
}

type routeResponse struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Routes  []struct {
		Geometry struct {
			Type        string       `json:"type"`
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

// Route returns the full geometry of the first route from one point to the
// other. OSRM speaks lng,lat; the result is converted back to lat,lng.
func (c *Client) Route(ctx context.Context, from, to domain.LatLng) ([]domain.LatLng, error) {
	reqURL := fmt.Sprintf("%s/route/v1/%s/%s;%s?overview=full&geometries=geojson",
		c.baseURL, c.profile, coord(from), coord(to))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var rr routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if rr.Code != "Ok" {
		return nil, fmt.Errorf("%w: code %q %s", ErrNoRoute, rr.Code, rr.Message)
	}
	if len(rr.Routes) == 0 || len(rr.Routes[0].Geometry.Coordinates) == 0 {
		return nil, ErrEmptyGeometry
	}

	coords := rr.Routes[0].Geometry.Coordinates
	points := make([]domain.LatLng, len(coords))
	for i, lngLat := range coords {
		points[i] = domain.LatLng{Lat: lngLat[1], Lng: lngLat[0]}
	}
	return points, nil
}

func coord(p domain.LatLng) string {
	return strconv.FormatFloat(p.Lng, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lat, 'f', -1, 64)
}
