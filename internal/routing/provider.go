// Package routing implements the ephemeral route manager: preview
// routes computed from ordered waypoints, per-slot staleness and
// cancellation ("last submitted wins"), multi-provider fallback with
// waypoint resampling, request chunking, and a FIFO-throttled outbound
// call budget shared by all sessions.
package routing

import (
	"context"

	"github.com/chartwork/mapsync/pkg/mapdata"
)

// Options are the detailed-only routing options. A request using any of
// them cannot be served by the simple provider.
type Options struct {
	// Preference selects the optimization goal, e.g. "fastest" or
	// "shortest". Empty means the provider default.
	Preference string `json:"preference,omitempty"`
	// Avoid lists road classes to avoid, e.g. "highways", "ferries".
	Avoid []string `json:"avoid,omitempty"`
	// Elevation requests per-point elevation and ascent/descent totals.
	Elevation bool `json:"elevation,omitempty"`
	// Details requests extra per-segment information.
	Details bool `json:"details,omitempty"`
}

// NeedsDetailed reports whether the request requires the detailed
// provider.
func (o Options) NeedsDetailed() bool {
	return o.Preference != "" || len(o.Avoid) > 0 || o.Elevation || o.Details
}

// Route is one computed route: geometry plus aggregate metrics.
// Distance is in meters, Time in seconds; Time, Ascent and Descent are
// nil when the provider does not report them.
type Route struct {
	TrackPoints []mapdata.TrackPoint `json:"trackPoints"`
	Distance    float64              `json:"distance"`
	Time        *int                 `json:"time,omitempty"`
	Ascent      *int                 `json:"ascent,omitempty"`
	Descent     *int                 `json:"descent,omitempty"`
}

// Provider is one routing backend.
type Provider interface {
	// Name identifies the provider in logs and breaker state.
	Name() string
	// MaxWaypoints is the per-request waypoint cap; longer requests are
	// chunked.
	MaxWaypoints() int
	// MaxLegDistance is the maximum straight-line distance in meters
	// the provider accepts between consecutive waypoints for a mode.
	MaxLegDistance(mode mapdata.RouteMode) float64
	// Route computes a route. Implementations must honor context
	// cancellation.
	Route(ctx context.Context, waypoints []mapdata.Point, mode mapdata.RouteMode, opts Options) (*Route, error)
}
