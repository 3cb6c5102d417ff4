// Package trackapi talks to the tracking backend's REST API.
package trackapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"fieldtrack/internal/domain"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
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

type apiSample struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Timestamp string   `json:"timestamp"`
}

// Track returns the stored samples of entityID between start and end,
// in the order the backend returns them.
func (c *Client) Track(ctx context.Context, entityID string, start, end time.Time) ([]domain.Sample, error) {
	params := url.Values{}
	params.Set("start", domain.FormatWireTime(start))
	params.Set("end", domain.FormatWireTime(end))

	reqURL := fmt.Sprintf("%s/api/location/%s/track?%s", c.baseURL, url.PathEscape(entityID), params.Encode())

	var raw []apiSample
	if err := c.get(ctx, reqURL, &raw); err != nil {
		return nil, err
	}

	samples := make([]domain.Sample, 0, len(raw))
	for i, s := range raw {
		if s.Latitude == nil || s.Longitude == nil {
			return nil, fmt.Errorf("sample %d: missing coordinates", i)
		}
		var ts time.Time
		if s.Timestamp != "" {
			parsed, err := domain.ParseTimestamp(s.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("sample %d: %w", i, err)
			}
			ts = parsed
		}
		samples = append(samples, domain.Sample{
			Lat:       *s.Latitude,
			Lng:       *s.Longitude,
			Timestamp: ts,
		})
	}
	return samples, nil
}

// Status returns the online state of every known entity, keyed by id.
func (c *Client) Status(ctx context.Context) (map[string]string, error) {
	var status map[string]string
	if err := c.get(ctx, c.baseURL+"/api/surveyors/status", &status); err != nil {
		return nil, err
	}
	if status == nil {
		status = map[string]string{}
	}
	return status, nil
}

func (c *Client) get(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
