package routing

import (
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
	osrmMaxWaypoints = 25

	// The OSRM-style backend routes continent-scale legs without
	// complaint, so the limit only guards against absurd input.
	osrmMaxLegMeters = 10_000_000
)

// OSRMProvider talks to an OSRM-compatible routing backend. It is the
// fast path for plain routes: high waypoint throughput, generous leg
// lengths, but no elevation, preference or avoidance support.
type OSRMProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewOSRMProvider creates a provider against an OSRM-compatible base
// URL such as https://router.project-osrm.org.
func NewOSRMProvider(baseURL string) *OSRMProvider {
	return &OSRMProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *OSRMProvider) Name() string { return "osrm" }

func (p *OSRMProvider) MaxWaypoints() int { return osrmMaxWaypoints }

func (p *OSRMProvider) MaxLegDistance(mode mapdata.RouteMode) float64 {
	return osrmMaxLegMeters
}

func osrmProfile(mode mapdata.RouteMode) (string, error) {
	switch mode {
	case mapdata.ModeCar:
		return "driving", nil
	case mapdata.ModeBicycle:
		return "cycling", nil
	case mapdata.ModePedestrian:
		return "walking", nil
	default:
		return "", fmt.Errorf("unsupported routing mode %q", mode)
	}
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Geometry string  `json:"geometry"`
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

// Route requests a route. Detailed-only options are ignored; the
// router never sends them here.
func (p *OSRMProvider) Route(ctx context.Context, waypoints []mapdata.Point, mode mapdata.RouteMode, _ Options) (*Route, error) {
	profile, err := osrmProfile(mode)
	if err != nil {
		return nil, err
	}

	coords := make([]string, len(waypoints))
	for i, wp := range waypoints {
		coords[i] = fmt.Sprintf("%f,%f", wp.Lon, wp.Lat)
	}
	url := fmt.Sprintf("%s/route/v1/%s/%s?overview=full&geometries=polyline",
		p.baseURL, profile, strings.Join(coords, ";"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
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
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("route request returned status %d", resp.StatusCode)
	}

	var parsed osrmResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Code != "Ok" || len(parsed.Routes) == 0 {
		return nil, fmt.Errorf("no route found: %s", parsed.Message)
	}

	best := parsed.Routes[0]
	line := DecodePolyline(best.Geometry)
	points := make([]mapdata.TrackPoint, len(line))
	for i, pt := range line {
		points[i] = mapdata.TrackPoint{Lat: pt.Lat, Lon: pt.Lon, Idx: i}
	}
	duration := int(math.Round(best.Duration))
	return &Route{
		TrackPoints: points,
		Distance:    best.Distance,
		Time:        &duration,
	}, nil
}
