package session

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/chartwork/mapsync/internal/routing"
	"github.com/chartwork/mapsync/internal/track"
	"github.com/chartwork/mapsync/internal/wire"
	"github.com/chartwork/mapsync/pkg/mapdata"
)

// defaultSlot names the route slot used when the client does not pick
// one.
const defaultSlot = "default"

// RouteResult is the response shape of setRoute, route and
// lineToRoute. TrackPoints are windowed to the session's viewport when
// one is known.
type RouteResult struct {
	Name        string               `json:"name,omitempty"`
	Mode        mapdata.RouteMode    `json:"mode"`
	Waypoints   []mapdata.Point      `json:"waypoints"`
	Distance    float64              `json:"distance"`
	Time        *int                 `json:"time,omitempty"`
	Ascent      *int                 `json:"ascent,omitempty"`
	Descent     *int                 `json:"descent,omitempty"`
	TrackPoints []mapdata.TrackPoint `json:"trackPoints"`
}

// routeError classifies a routing failure: a request the providers can
// never serve is the caller's fault, everything else is upstream.
func routeError(err error) error {
	switch {
	case errors.Is(err, routing.ErrTooFewWaypoints),
		errors.Is(err, routing.ErrSegmentTooLong),
		errors.Is(err, routing.ErrTrackMode):
		return wire.NewValidationError("%v", err)
	}
	return wire.NewUpstreamError("route computation failed: %v", err)
}

type setRouteParams struct {
	Name       string            `json:"name"`
	Waypoints  []mapdata.Point   `json:"waypoints" validate:"required,min=2"`
	Mode       mapdata.RouteMode `json:"mode" validate:"required,oneof=car bicycle pedestrian"`
	Preference string            `json:"preference"`
	Avoid      []string          `json:"avoid"`
	Elevation  bool              `json:"elevation"`
	Details    bool              `json:"details"`
}

func (s *Session) setRoute(ctx context.Context, payload []byte) (any, error) {
	var params setRouteParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}
	name := params.Name
	if name == "" {
		name = defaultSlot
	}

	active, err := s.routes.SetRoute(ctx, name, params.Waypoints, params.Mode, routing.Options{
		Preference: params.Preference,
		Avoid:      params.Avoid,
		Elevation:  params.Elevation,
		Details:    params.Details,
	})
	if err != nil {
		return nil, routeError(err)
	}
	if active == nil {
		// Superseded by a newer submit for the same slot.
		return nil, nil
	}
	return s.routeResult(active), nil
}

type slotParams struct {
	Name string `json:"name"`
}

func (s *Session) clearRoute(_ context.Context, payload []byte) (any, error) {
	var params slotParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}
	name := params.Name
	if name == "" {
		name = defaultSlot
	}
	s.routes.ClearRoute(name)
	return nil, nil
}

type exportRouteParams struct {
	Name   string `json:"name"`
	Format string `json:"format" validate:"omitempty,oneof=gpx"`
}

// ExportResult carries an exported track document.
type ExportResult struct {
	Format string `json:"format"`
	Data   string `json:"data"`
}

func (s *Session) exportRoute(_ context.Context, payload []byte) (any, error) {
	var params exportRouteParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}
	name := params.Name
	if name == "" {
		name = defaultSlot
	}

	active, err := s.routes.Get(name)
	if err != nil {
		return nil, err
	}
	doc, err := routing.EncodeGPX(name, active.Mode, active.Route.TrackPoints)
	if err != nil {
		return nil, err
	}
	return ExportResult{Format: "gpx", Data: base64.StdEncoding.EncodeToString(doc)}, nil
}

type lineToRouteParams struct {
	LineID string `json:"lineId" validate:"required"`
	Name   string `json:"name"`
}

// lineToRoute loads a persisted line into a route slot so the client
// can drag its waypoints without touching the stored line.
func (s *Session) lineToRoute(ctx context.Context, payload []byte) (any, error) {
	mapID, _, err := s.attached()
	if err != nil {
		return nil, err
	}
	var params lineToRouteParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}
	name := params.Name
	if name == "" {
		name = defaultSlot
	}

	line, err := s.deps.Store.GetLine(ctx, mapID, params.LineID)
	if err != nil {
		return nil, err
	}
	if line.Mode == mapdata.ModeTrack {
		return nil, wire.NewValidationError("track lines cannot be loaded as routes")
	}

	active, err := s.routes.SetRoute(ctx, name, line.RoutePoints, line.Mode, routing.Options{})
	if err != nil {
		return nil, routeError(err)
	}
	if active == nil {
		return nil, nil
	}
	return s.routeResult(active), nil
}

type routeParams struct {
	Waypoints  []mapdata.Point   `json:"waypoints" validate:"required,min=2"`
	Mode       mapdata.RouteMode `json:"mode" validate:"required,oneof=car bicycle pedestrian"`
	Preference string            `json:"preference"`
	Avoid      []string          `json:"avoid"`
	Elevation  bool              `json:"elevation"`
	Details    bool              `json:"details"`
}

// oneShotRoute computes a route without storing it in any slot.
func (s *Session) oneShotRoute(ctx context.Context, payload []byte) (any, error) {
	var params routeParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	route, err := s.deps.Router.Compute(ctx, params.Waypoints, params.Mode, routing.Options{
		Preference: params.Preference,
		Avoid:      params.Avoid,
		Elevation:  params.Elevation,
		Details:    params.Details,
	})
	if err != nil {
		return nil, routeError(err)
	}
	return RouteResult{
		Mode:        params.Mode,
		Waypoints:   params.Waypoints,
		Distance:    route.Distance,
		Time:        route.Time,
		Ascent:      route.Ascent,
		Descent:     route.Descent,
		TrackPoints: s.windowToViewport(route.TrackPoints),
	}, nil
}

type findParams struct {
	Query string `json:"query" validate:"required"`
}

func (s *Session) find(ctx context.Context, payload []byte) (any, error) {
	var params findParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}
	if s.deps.Geocoder == nil {
		return nil, wire.NewUpstreamError("no geocoder configured")
	}

	results, err := s.deps.Geocoder.Search(ctx, params.Query)
	if err != nil {
		return nil, wire.NewUpstreamError("search failed: %v", err)
	}
	return results, nil
}

func (s *Session) routeResult(active *routing.ActiveRoute) RouteResult {
	return RouteResult{
		Name:        active.Name,
		Mode:        active.Mode,
		Waypoints:   active.Waypoints,
		Distance:    active.Route.Distance,
		Time:        active.Route.Time,
		Ascent:      active.Route.Ascent,
		Descent:     active.Route.Descent,
		TrackPoints: s.windowToViewport(active.Route.TrackPoints),
	}
}

// windowToViewport trims track points to the session's viewport; with
// no viewport known, the full geometry is returned.
func (s *Session) windowToViewport(points []mapdata.TrackPoint) []mapdata.TrackPoint {
	bbox := s.viewport()
	if bbox == nil {
		return points
	}
	return track.PrepareForBoundingBox(points, bbox.Bbox, bbox.Zoom, true)
}
