package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/chartwork/mapsync/internal/geo"
	"github.com/chartwork/mapsync/internal/track"
	"github.com/chartwork/mapsync/pkg/mapdata"
	"github.com/chartwork/mapsync/pkg/units"
)

var (
	// ErrTooFewWaypoints is returned for requests with fewer than two
	// waypoints.
	ErrTooFewWaypoints = errors.New("route needs at least two waypoints")

	// ErrSegmentTooLong is returned when consecutive waypoints are
	// further apart than any provider accepts for the mode.
	ErrSegmentTooLong = errors.New("distance between waypoints exceeds provider limit")

	// ErrTrackMode is returned when routing is requested for a literal
	// track line.
	ErrTrackMode = errors.New("track lines are not routed")
)

// resampleSafety shrinks the resampling interval below the detailed
// provider's leg limit so rounding never produces an over-long leg.
const resampleSafety = 0.95

// ElevationSource fills unknown elevations on computed geometry.
// Lookups are best-effort; a nil pointer in the result marks a point
// whose elevation stays unknown.
type ElevationSource interface {
	Lookup(ctx context.Context, points []mapdata.Point) ([]*float64, error)
}

// Router computes routes through the configured providers, applying
// fallback, chunking, the shared FIFO throttle and a circuit breaker
// per provider.
type Router struct {
	simple   Provider
	detailed Provider
	throttle *Throttle
	breakers map[string]*gobreaker.CircuitBreaker[*Route]
	elev     ElevationSource
	logger   *slog.Logger
	track    track.Options
}

// NewRouter wires a router. elev may be nil to disable elevation
// lookups; logger may be nil for slog.Default.
func NewRouter(simple, detailed Provider, throttle *Throttle, elev ElevationSource, logger *slog.Logger, trackOpts track.Options) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if throttle == nil {
		throttle = NewThrottle(0)
	}
	r := &Router{
		simple:   simple,
		detailed: detailed,
		throttle: throttle,
		breakers: make(map[string]*gobreaker.CircuitBreaker[*Route]),
		elev:     elev,
		logger:   logger,
		track:    trackOpts,
	}
	for _, p := range []Provider{simple, detailed} {
		if p == nil {
			continue
		}
		r.breakers[p.Name()] = gobreaker.NewCircuitBreaker[*Route](gobreaker.Settings{
			Name: p.Name(),
			// Cancelled requests say nothing about provider health.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		})
	}
	return r
}

// BreakerState reports the circuit breaker state per provider, for the
// health endpoint.
func (r *Router) BreakerState() map[string]string {
	out := make(map[string]string, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.State().String()
	}
	return out
}

// Compute calculates a route for the waypoints and mode. The simple
// provider serves requests that need none of the detailed-only options;
// otherwise the detailed provider is used, with waypoints resampled
// from a coarse simple-provider route when the original legs exceed the
// detailed provider's per-mode leg limit. The returned geometry is
// zoom-tagged and ready for storage or broadcast.
func (r *Router) Compute(ctx context.Context, waypoints []mapdata.Point, mode mapdata.RouteMode, opts Options) (*Route, error) {
	if mode == mapdata.ModeTrack {
		return nil, ErrTrackMode
	}
	if len(waypoints) < 2 {
		return nil, ErrTooFewWaypoints
	}

	route, err := r.compute(ctx, waypoints, mode, opts)
	if err != nil {
		return nil, err
	}

	if opts.Elevation {
		r.fillElevations(ctx, route)
		if route.Ascent == nil && route.Descent == nil {
			route.Ascent, route.Descent = units.ElevationGain(route.TrackPoints)
		}
	}
	route.TrackPoints = track.CalculateZoomLevels(route.TrackPoints, r.track)
	return route, nil
}

func (r *Router) compute(ctx context.Context, waypoints []mapdata.Point, mode mapdata.RouteMode, opts Options) (*Route, error) {
	if !opts.NeedsDetailed() && r.simple != nil {
		if maxLeg(waypoints) > r.simple.MaxLegDistance(mode) {
			return nil, ErrSegmentTooLong
		}
		return r.callProvider(ctx, r.simple, waypoints, mode, Options{})
	}
	if r.detailed == nil {
		return nil, errors.New("no detailed provider configured")
	}

	if maxLeg(waypoints) > r.detailed.MaxLegDistance(mode) {
		resampled, err := r.resampleViaSimple(ctx, waypoints, mode)
		if err != nil {
			return nil, err
		}
		waypoints = resampled
	}
	return r.callProvider(ctx, r.detailed, waypoints, mode, opts)
}

// resampleViaSimple computes a coarse route with the simple provider
// and resamples waypoints from it at intervals just under the detailed
// provider's leg limit.
func (r *Router) resampleViaSimple(ctx context.Context, waypoints []mapdata.Point, mode mapdata.RouteMode) ([]mapdata.Point, error) {
	if r.simple == nil {
		return nil, ErrSegmentTooLong
	}
	if maxLeg(waypoints) > r.simple.MaxLegDistance(mode) {
		return nil, ErrSegmentTooLong
	}

	coarse, err := r.callProvider(ctx, r.simple, waypoints, mode, Options{})
	if err != nil {
		return nil, fmt.Errorf("coarse route for resampling: %w", err)
	}

	line := make([]mapdata.Point, len(coarse.TrackPoints))
	for i, p := range coarse.TrackPoints {
		line[i] = mapdata.Point{Lat: p.Lat, Lon: p.Lon}
	}
	interval := r.detailed.MaxLegDistance(mode) * resampleSafety
	return ResampleTrack(line, interval), nil
}

// callProvider issues the request, chunking it when the waypoint count
// exceeds the provider's cap. Chunks run concurrently; each call goes
// through the shared throttle and the provider's circuit breaker.
func (r *Router) callProvider(ctx context.Context, p Provider, waypoints []mapdata.Point, mode mapdata.RouteMode, opts Options) (*Route, error) {
	chunks := chunkWaypoints(waypoints, p.MaxWaypoints())
	results := make([]*Route, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			route, err := r.callOnce(gctx, p, chunk, mode, opts)
			if err != nil {
				return err
			}
			results[i] = route
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(results) == 1 {
		return results[0], nil
	}
	return mergeRoutes(results), nil
}

func (r *Router) callOnce(ctx context.Context, p Provider, waypoints []mapdata.Point, mode mapdata.RouteMode, opts Options) (*Route, error) {
	if err := r.throttle.Acquire(ctx); err != nil {
		return nil, err
	}
	defer r.throttle.Release()

	return r.breakers[p.Name()].Execute(func() (*Route, error) {
		return p.Route(ctx, waypoints, mode, opts)
	})
}

// fillElevations looks up elevations for points that lack one. Lookup
// failures degrade to unknown elevation and never fail the route.
func (r *Router) fillElevations(ctx context.Context, route *Route) {
	if r.elev == nil {
		return
	}

	var missing []int
	var points []mapdata.Point
	for i, p := range route.TrackPoints {
		if p.Ele == nil {
			missing = append(missing, i)
			points = append(points, mapdata.Point{Lat: p.Lat, Lon: p.Lon})
		}
	}
	if len(missing) == 0 {
		return
	}

	eles, err := r.elev.Lookup(ctx, points)
	if err != nil {
		r.logger.Warn("elevation lookup failed", "points", len(points), "error", err)
		return
	}
	for i, idx := range missing {
		if i < len(eles) {
			route.TrackPoints[idx].Ele = eles[i]
		}
	}
}

// maxLeg returns the longest straight-line distance in meters between
// consecutive waypoints.
func maxLeg(waypoints []mapdata.Point) float64 {
	max := 0.0
	for i := 1; i < len(waypoints); i++ {
		if d := geo.HaversineDistance(waypoints[i-1], waypoints[i]); d > max {
			max = d
		}
	}
	return max
}
