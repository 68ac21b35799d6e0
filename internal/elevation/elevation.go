// Package elevation implements a batch elevation lookup client.
// Lookup failures are meant to degrade to "unknown" at the call site,
// never to abort the surrounding operation.
package elevation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/chartwork/mapsync/pkg/mapdata"
)

// batchSize caps the points sent per request.
const batchSize = 200

// Client queries an open-elevation-compatible lookup API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client against an open-elevation-style base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type lookupRequest struct {
	Locations []location `json:"locations"`
}

type location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type lookupResponse struct {
	Results []struct {
		Elevation *float64 `json:"elevation"`
	} `json:"results"`
}

// Lookup resolves elevations for the given points, batching large
// requests. The result has one entry per input point; nil marks a
// point whose elevation is unknown.
func (c *Client) Lookup(ctx context.Context, points []mapdata.Point) ([]*float64, error) {
	out := make([]*float64, 0, len(points))
	for start := 0; start < len(points); start += batchSize {
		end := start + batchSize
		if end > len(points) {
			end = len(points)
		}
		batch, err := c.lookupBatch(ctx, points[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (c *Client) lookupBatch(ctx context.Context, points []mapdata.Point) ([]*float64, error) {
	reqBody := lookupRequest{Locations: make([]location, len(points))}
	for i, p := range points {
		reqBody.Locations[i] = location{Latitude: p.Lat, Longitude: p.Lon}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/lookup", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup returned status %d", resp.StatusCode)
	}

	var parsed lookupResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	out := make([]*float64, len(points))
	for i := range points {
		if i < len(parsed.Results) {
			out[i] = parsed.Results[i].Elevation
		}
	}
	return out, nil
}
