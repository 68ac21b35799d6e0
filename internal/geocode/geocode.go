// Package geocode implements a Nominatim-compatible search client for
// the find operation.
package geocode

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/chartwork/mapsync/pkg/mapdata"
)

const defaultLimit = 25

// Result is one place match.
type Result struct {
	ID   int64         `json:"id"`
	Name string        `json:"name"`
	Kind string        `json:"kind,omitempty"`
	Lat  float64       `json:"lat"`
	Lon  float64       `json:"lon"`
	Bbox *mapdata.Bbox `json:"bbox,omitempty"`
}

// Client queries a Nominatim-style geocoder.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// New creates a client against a Nominatim-compatible base URL such as
// https://nominatim.openstreetmap.org. The user agent is mandatory for
// the public instance.
func New(baseURL, userAgent string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type nominatimResult struct {
	PlaceID     int64    `json:"place_id"`
	DisplayName string   `json:"display_name"`
	Type        string   `json:"type"`
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	BoundingBox []string `json:"boundingbox"`
}

// Search resolves free text to place results.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "jsonv2")
	params.Set("limit", strconv.Itoa(defaultLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var raw []nominatimResult
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]Result, 0, len(raw))
	for _, r := range raw {
		lat, latErr := strconv.ParseFloat(r.Lat, 64)
		lon, lonErr := strconv.ParseFloat(r.Lon, 64)
		if latErr != nil || lonErr != nil {
			continue
		}
		res := Result{
			ID:   r.PlaceID,
			Name: r.DisplayName,
			Kind: r.Type,
			Lat:  lat,
			Lon:  lon,
		}
		// Nominatim bounding boxes are [south, north, west, east].
		if len(r.BoundingBox) == 4 {
			south, e1 := strconv.ParseFloat(r.BoundingBox[0], 64)
			north, e2 := strconv.ParseFloat(r.BoundingBox[1], 64)
			west, e3 := strconv.ParseFloat(r.BoundingBox[2], 64)
			east, e4 := strconv.ParseFloat(r.BoundingBox[3], 64)
			if e1 == nil && e2 == nil && e3 == nil && e4 == nil {
				res.Bbox = &mapdata.Bbox{Top: north, Bottom: south, Left: west, Right: east}
			}
		}
		results = append(results, res)
	}
	return results, nil
}
