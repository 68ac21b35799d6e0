package routing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chartwork/mapsync/internal/geo"
	"github.com/chartwork/mapsync/internal/track"
	"github.com/chartwork/mapsync/pkg/mapdata"
)

// fakeProvider returns the requested waypoints as the route geometry,
// recording every call.
type fakeProvider struct {
	name   string
	maxWp  int
	maxLeg float64

	mu    sync.Mutex
	calls [][]mapdata.Point
	fail  error
	block chan struct{}
}

func (f *fakeProvider) Name() string      { return f.name }
func (f *fakeProvider) MaxWaypoints() int { return f.maxWp }
func (f *fakeProvider) MaxLegDistance(mapdata.RouteMode) float64 {
	return f.maxLeg
}

func (f *fakeProvider) Route(ctx context.Context, waypoints []mapdata.Point, mode mapdata.RouteMode, opts Options) (*Route, error) {
	f.mu.Lock()
	copied := make([]mapdata.Point, len(waypoints))
	copy(copied, waypoints)
	f.calls = append(f.calls, copied)
	fail := f.fail
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}

	distance := 0.0
	points := make([]mapdata.TrackPoint, len(waypoints))
	for i, wp := range waypoints {
		points[i] = mapdata.TrackPoint{Lat: wp.Lat, Lon: wp.Lon, Idx: i}
		if i > 0 {
			distance += geo.HaversineDistance(waypoints[i-1], wp)
		}
	}
	duration := int(distance / 10)
	return &Route{TrackPoints: points, Distance: distance, Time: &duration}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestRouter(simple, detailed Provider) *Router {
	return NewRouter(simple, detailed, NewThrottle(4), nil, nil, track.Options{})
}

func TestRouter_PlainRequestUsesSimpleProvider(t *testing.T) {
	simple := &fakeProvider{name: "simple", maxWp: 25, maxLeg: 10_000_000}
	detailed := &fakeProvider{name: "detailed", maxWp: 50, maxLeg: 300_000}
	r := newTestRouter(simple, detailed)

	waypoints := []mapdata.Point{{Lat: 52.5, Lon: 13.4}, {Lat: 52.6, Lon: 13.5}}
	route, err := r.Compute(context.Background(), waypoints, mapdata.ModeCar, Options{})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if route == nil || len(route.TrackPoints) != 2 {
		t.Fatalf("unexpected route: %+v", route)
	}
	if simple.callCount() != 1 {
		t.Errorf("expected 1 simple call, got %d", simple.callCount())
	}
	if detailed.callCount() != 0 {
		t.Errorf("expected no detailed calls, got %d", detailed.callCount())
	}
}

func TestRouter_DetailedOptionsSelectDetailedProvider(t *testing.T) {
	simple := &fakeProvider{name: "simple", maxWp: 25, maxLeg: 10_000_000}
	detailed := &fakeProvider{name: "detailed", maxWp: 50, maxLeg: 300_000}
	r := newTestRouter(simple, detailed)

	waypoints := []mapdata.Point{{Lat: 52.5, Lon: 13.4}, {Lat: 52.6, Lon: 13.5}}
	_, err := r.Compute(context.Background(), waypoints, mapdata.ModeBicycle, Options{Elevation: true})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if detailed.callCount() != 1 {
		t.Errorf("expected 1 detailed call, got %d", detailed.callCount())
	}
	if simple.callCount() != 0 {
		t.Errorf("expected no simple calls, got %d", simple.callCount())
	}
}

func TestRouter_LongLegResampledThroughSimpleProvider(t *testing.T) {
	simple := &fakeProvider{name: "simple", maxWp: 25, maxLeg: 10_000_000}
	detailed := &fakeProvider{name: "detailed", maxWp: 50, maxLeg: 300_000}
	r := newTestRouter(simple, detailed)

	// Two waypoints roughly 1100 km apart, far beyond the detailed leg
	// limit.
	waypoints := []mapdata.Point{{Lat: 45, Lon: 0}, {Lat: 55, Lon: 0}}
	route, err := r.Compute(context.Background(), waypoints, mapdata.ModeCar, Options{Preference: "shortest"})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if route == nil {
		t.Fatal("expected a route")
	}
	if simple.callCount() != 1 {
		t.Fatalf("expected 1 coarse simple call, got %d", simple.callCount())
	}
	if detailed.callCount() == 0 {
		t.Fatal("expected the detailed provider to serve the final route")
	}

	detailed.mu.Lock()
	final := detailed.calls[0]
	detailed.mu.Unlock()
	if len(final) < 3 {
		t.Fatalf("expected resampled waypoints, got %d", len(final))
	}
	for i := 1; i < len(final); i++ {
		if d := geo.HaversineDistance(final[i-1], final[i]); d > 300_000 {
			t.Errorf("resampled leg %d is %v m, exceeds the detailed limit", i, d)
		}
	}
	if final[0] != waypoints[0] || final[len(final)-1] != waypoints[1] {
		t.Errorf("resampled waypoints do not keep the original endpoints")
	}
}

func TestRouter_ChunksLongWaypointLists(t *testing.T) {
	simple := &fakeProvider{name: "simple", maxWp: 25, maxLeg: 10_000_000}
	r := newTestRouter(simple, nil)

	waypoints := make([]mapdata.Point, 60)
	for i := range waypoints {
		waypoints[i] = mapdata.Point{Lat: 50 + float64(i)*0.001, Lon: 13}
	}

	route, err := r.Compute(context.Background(), waypoints, mapdata.ModePedestrian, Options{})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if simple.callCount() != 3 {
		t.Fatalf("expected 3 chunked calls, got %d", simple.callCount())
	}
	if len(route.TrackPoints) != 60 {
		t.Fatalf("expected 60 merged points, got %d", len(route.TrackPoints))
	}
	for i, p := range route.TrackPoints {
		if p.Idx != i {
			t.Errorf("merged point %d has Idx %d", i, p.Idx)
		}
	}
	if route.Time == nil {
		t.Error("expected merged time")
	}
}

func TestRouter_ZoomTagsResult(t *testing.T) {
	simple := &fakeProvider{name: "simple", maxWp: 25, maxLeg: 10_000_000}
	r := newTestRouter(simple, nil)

	waypoints := []mapdata.Point{
		{Lat: 52.5, Lon: 13.4},
		{Lat: 52.51, Lon: 13.41},
		{Lat: 52.52, Lon: 13.42},
	}
	route, err := r.Compute(context.Background(), waypoints, mapdata.ModeCar, Options{})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	for i, p := range route.TrackPoints {
		if p.Zoom < track.MinZoom || p.Zoom > track.MaxZoom {
			t.Errorf("point %d has zoom %d outside [%d,%d]", i, p.Zoom, track.MinZoom, track.MaxZoom)
		}
	}
	if route.TrackPoints[0].Zoom != track.MinZoom {
		t.Errorf("first point zoom %d, expected %d", route.TrackPoints[0].Zoom, track.MinZoom)
	}
	if last := route.TrackPoints[len(route.TrackPoints)-1]; last.Zoom != track.MinZoom {
		t.Errorf("last point zoom %d, expected %d", last.Zoom, track.MinZoom)
	}
}

func TestRouter_InputValidation(t *testing.T) {
	simple := &fakeProvider{name: "simple", maxWp: 25, maxLeg: 10_000_000}
	r := newTestRouter(simple, nil)
	ctx := context.Background()

	if _, err := r.Compute(ctx, []mapdata.Point{{Lat: 1}}, mapdata.ModeCar, Options{}); !errors.Is(err, ErrTooFewWaypoints) {
		t.Errorf("expected ErrTooFewWaypoints, got %v", err)
	}
	two := []mapdata.Point{{Lat: 1}, {Lat: 2}}
	if _, err := r.Compute(ctx, two, mapdata.ModeTrack, Options{}); !errors.Is(err, ErrTrackMode) {
		t.Errorf("expected ErrTrackMode, got %v", err)
	}
}

func TestRouter_ProviderErrorPropagates(t *testing.T) {
	boom := errors.New("upstream down")
	simple := &fakeProvider{name: "simple", maxWp: 25, maxLeg: 10_000_000, fail: boom}
	r := newTestRouter(simple, nil)

	waypoints := []mapdata.Point{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}}
	if _, err := r.Compute(context.Background(), waypoints, mapdata.ModeCar, Options{}); !errors.Is(err, boom) {
		t.Errorf("expected provider error, got %v", err)
	}
}
