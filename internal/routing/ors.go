package routing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/chartwork/mapsync/pkg/mapdata"
)

const (
	orsMaxWaypoints = 50

	orsMaxLegCarMeters  = 6_000_000
	orsMaxLegSlowMeters = 300_000
)

// ORSProvider talks to an openrouteservice-compatible directions API.
// It is the detailed provider: it supports elevation profiles, route
// preferences and avoidance options, at the price of much tighter leg
// length limits than the simple provider.
type ORSProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewORSProvider creates a provider against an openrouteservice-style
// base URL. apiKey may be empty for self-hosted instances.
func NewORSProvider(baseURL, apiKey string) *ORSProvider {
	return &ORSProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *ORSProvider) Name() string { return "ors" }

func (p *ORSProvider) MaxWaypoints() int { return orsMaxWaypoints }

func (p *ORSProvider) MaxLegDistance(mode mapdata.RouteMode) float64 {
	if mode == mapdata.ModeCar {
		return orsMaxLegCarMeters
	}
	return orsMaxLegSlowMeters
}

func orsProfile(mode mapdata.RouteMode) (string, error) {
	switch mode {
	case mapdata.ModeCar:
		return "driving-car", nil
	case mapdata.ModeBicycle:
		return "cycling-regular", nil
	case mapdata.ModePedestrian:
		return "foot-walking", nil
	default:
		return "", fmt.Errorf("unsupported routing mode %q", mode)
	}
}

type orsRequest struct {
	Coordinates [][]float64 `json:"coordinates"`
	Elevation   bool        `json:"elevation,omitempty"`
	Preference  string      `json:"preference,omitempty"`
	Options     *orsOptions `json:"options,omitempty"`
}

type orsOptions struct {
	AvoidFeatures []string `json:"avoid_features,omitempty"`
}

type orsResponse struct {
	Features []struct {
		Properties struct {
			Summary struct {
				Distance float64 `json:"distance"`
				Duration float64 `json:"duration"`
			} `json:"summary"`
			Ascent  *float64 `json:"ascent"`
			Descent *float64 `json:"descent"`
		} `json:"properties"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *ORSProvider) Route(ctx context.Context, waypoints []mapdata.Point, mode mapdata.RouteMode, opts Options) (*Route, error) {
	profile, err := orsProfile(mode)
	if err != nil {
		return nil, err
	}

	reqBody := orsRequest{
		Coordinates: make([][]float64, len(waypoints)),
		Elevation:   opts.Elevation,
		Preference:  opts.Preference,
	}
	for i, wp := range waypoints {
		reqBody.Coordinates[i] = []float64{wp.Lon, wp.Lat}
	}
	if len(opts.Avoid) > 0 {
		reqBody.Options = &orsOptions{AvoidFeatures: opts.Avoid}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v2/directions/%s/geojson", p.baseURL, profile)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("route request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed orsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("route request failed: %s", parsed.Error.Message)
		}
		return nil, fmt.Errorf("route request returned status %d", resp.StatusCode)
	}
	if len(parsed.Features) == 0 {
		return nil, fmt.Errorf("no route found")
	}

	feature := parsed.Features[0]
	points := make([]mapdata.TrackPoint, len(feature.Geometry.Coordinates))
	for i, coord := range feature.Geometry.Coordinates {
		if len(coord) < 2 {
			return nil, fmt.Errorf("malformed coordinate at index %d", i)
		}
		tp := mapdata.TrackPoint{Lat: coord[1], Lon: coord[0], Idx: i}
		if len(coord) >= 3 {
			ele := coord[2]
			tp.Ele = &ele
		}
		points[i] = tp
	}
	duration := int(math.Round(feature.Properties.Summary.Duration))
	return &Route{
		TrackPoints: points,
		Distance:    feature.Properties.Summary.Distance,
		Time:        &duration,
		Ascent:      roundPtr(feature.Properties.Ascent),
		Descent:     roundPtr(feature.Properties.Descent),
	}, nil
}

func roundPtr(v *float64) *int {
	if v == nil {
		return nil
	}
	r := int(math.Round(*v))
	return &r
}
