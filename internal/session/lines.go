package session

import (
	"context"

	"github.com/chartwork/mapsync/internal/routing"
	"github.com/chartwork/mapsync/internal/style"
	"github.com/chartwork/mapsync/internal/track"
	"github.com/chartwork/mapsync/internal/wire"
	"github.com/chartwork/mapsync/pkg/mapdata"
	"github.com/chartwork/mapsync/pkg/units"
)

type addLineParams struct {
	TypeID      string               `json:"typeId" validate:"required"`
	Name        string               `json:"name"`
	Mode        mapdata.RouteMode    `json:"mode" validate:"required,oneof=car bicycle pedestrian track"`
	Colour      string               `json:"colour"`
	Width       int                  `json:"width" validate:"gte=0"`
	RoutePoints []mapdata.Point      `json:"routePoints"`
	TrackPoints []mapdata.TrackPoint `json:"trackPoints"`
	Data        map[string]string    `json:"data"`
}

func (s *Session) addLine(ctx context.Context, payload []byte) (any, error) {
	mapID, _, err := s.requireTier(mapdata.TierWrite)
	if err != nil {
		return nil, err
	}
	var params addLineParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	typ, err := s.lineType(ctx, mapID, params.TypeID)
	if err != nil {
		return nil, err
	}

	line := mapdata.Line{
		MapID:       mapID,
		TypeID:      params.TypeID,
		Name:        params.Name,
		Mode:        params.Mode,
		Colour:      params.Colour,
		Width:       params.Width,
		RoutePoints: params.RoutePoints,
		Data:        params.Data,
	}
	style.ApplyToLine(&line, style.ResolveLine(line, typ))

	points, err := s.computeLineGeometry(ctx, &line, params.TrackPoints)
	if err != nil {
		return nil, err
	}

	if err := s.deps.Store.CreateLine(ctx, &line); err != nil {
		return nil, err
	}
	if err := s.deps.Store.SetLinePoints(ctx, mapID, line.ID, points); err != nil {
		return nil, err
	}

	snapshot := line
	snapshot.TrackPoints = points
	if err := s.deps.History.Record(ctx, mapID, mapdata.KindLine, mapdata.ActionCreate, line.ID, nil, snapshot); err != nil {
		return nil, err
	}
	return line, nil
}

type editLineParams struct {
	ID          string                `json:"id" validate:"required"`
	TypeID      *string               `json:"typeId"`
	Name        *string               `json:"name"`
	Mode        *mapdata.RouteMode    `json:"mode"`
	Colour      *string               `json:"colour"`
	Width       *int                  `json:"width"`
	RoutePoints *[]mapdata.Point      `json:"routePoints"`
	TrackPoints *[]mapdata.TrackPoint `json:"trackPoints"`
	Data        *map[string]string    `json:"data"`
}

func (s *Session) editLine(ctx context.Context, payload []byte) (any, error) {
	mapID, _, err := s.requireTier(mapdata.TierWrite)
	if err != nil {
		return nil, err
	}
	var params editLineParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	before, err := s.deps.Store.GetLine(ctx, mapID, params.ID)
	if err != nil {
		return nil, err
	}
	oldPoints, err := s.deps.Store.LinePoints(ctx, mapID, params.ID)
	if err != nil {
		return nil, err
	}
	before.TrackPoints = oldPoints

	after := before
	after.TrackPoints = nil
	geometryChanged := false
	if params.TypeID != nil {
		after.TypeID = *params.TypeID
	}
	if params.Name != nil {
		after.Name = *params.Name
	}
	if params.Mode != nil && *params.Mode != after.Mode {
		after.Mode = *params.Mode
		geometryChanged = true
	}
	if params.Colour != nil {
		after.Colour = *params.Colour
	}
	if params.Width != nil {
		after.Width = *params.Width
	}
	if params.RoutePoints != nil {
		after.RoutePoints = *params.RoutePoints
		geometryChanged = true
	}
	if params.TrackPoints != nil {
		geometryChanged = true
	}
	if params.Data != nil {
		after.Data = *params.Data
	}

	typ, err := s.lineType(ctx, mapID, after.TypeID)
	if err != nil {
		return nil, err
	}
	update := style.ResolveLine(after, typ)
	if style.ApplyToLine(&after, update) && after.Mode != before.Mode {
		geometryChanged = true
	}

	points := oldPoints
	if geometryChanged {
		var supplied []mapdata.TrackPoint
		if params.TrackPoints != nil {
			supplied = *params.TrackPoints
		}
		if points, err = s.computeLineGeometry(ctx, &after, supplied); err != nil {
			return nil, err
		}
	}

	if err := s.deps.Store.UpdateLine(ctx, after); err != nil {
		return nil, err
	}
	if geometryChanged {
		if err := s.deps.Store.SetLinePoints(ctx, mapID, after.ID, points); err != nil {
			return nil, err
		}
	}

	snapshot := after
	snapshot.TrackPoints = points
	if err := s.deps.History.Record(ctx, mapID, mapdata.KindLine, mapdata.ActionUpdate, after.ID, before, snapshot); err != nil {
		return nil, err
	}
	return after, nil
}

func (s *Session) deleteLine(ctx context.Context, payload []byte) (any, error) {
	mapID, _, err := s.requireTier(mapdata.TierWrite)
	if err != nil {
		return nil, err
	}
	var params idParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	before, err := s.deps.Store.GetLine(ctx, mapID, params.ID)
	if err != nil {
		return nil, err
	}
	points, err := s.deps.Store.LinePoints(ctx, mapID, params.ID)
	if err != nil {
		return nil, err
	}
	before.TrackPoints = points

	if err := s.deps.Store.DeleteLine(ctx, mapID, params.ID); err != nil {
		return nil, err
	}
	if err := s.deps.History.Record(ctx, mapID, mapdata.KindLine, mapdata.ActionDelete, params.ID, before, nil); err != nil {
		return nil, err
	}
	return nil, nil
}

type typeIDParams struct {
	TypeID string `json:"typeId" validate:"required"`
}

// getLineTemplate returns the style defaults a new line of the given
// type would receive, without creating anything.
func (s *Session) getLineTemplate(ctx context.Context, payload []byte) (any, error) {
	mapID, _, err := s.attached()
	if err != nil {
		return nil, err
	}
	var params typeIDParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	typ, err := s.lineType(ctx, mapID, params.TypeID)
	if err != nil {
		return nil, err
	}
	template := mapdata.Line{MapID: mapID, TypeID: params.TypeID, Mode: mapdata.ModeCar}
	style.ApplyToLine(&template, style.ResolveLine(template, typ))
	return template, nil
}

type linePointsParams struct {
	LineID  string `json:"lineId" validate:"required"`
	Indices []int  `json:"indices" validate:"required,min=1,dive,gte=0"`
}

// getLinePoints re-fetches geometry by point index, widening each
// contiguous index run by one anchor point on both sides.
func (s *Session) getLinePoints(ctx context.Context, payload []byte) (any, error) {
	mapID, _, err := s.attached()
	if err != nil {
		return nil, err
	}
	var params linePointsParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	all, err := s.deps.Store.LinePoints(ctx, mapID, params.LineID)
	if err != nil {
		return nil, err
	}
	ranges := track.WindowIndexRanges(params.Indices, len(all))
	points, err := s.deps.Store.LinePointsInRanges(ctx, mapID, params.LineID, ranges)
	if err != nil {
		return nil, err
	}
	return LinePointsChunk{LineID: params.LineID, TrackPoints: points}, nil
}

// computeLineGeometry fills the line's metrics and returns its zoom
// tagged track points. Routed modes go through the router; track mode
// takes the supplied geometry as-is.
func (s *Session) computeLineGeometry(ctx context.Context, line *mapdata.Line, supplied []mapdata.TrackPoint) ([]mapdata.TrackPoint, error) {
	if line.Mode == mapdata.ModeTrack {
		points := make([]mapdata.TrackPoint, len(supplied))
		copy(points, supplied)
		for i := range points {
			points[i].Idx = i
		}
		points = track.CalculateZoomLevels(points, s.deps.TrackOptions)

		line.Distance = units.TrackDistance(points)
		line.Time = nil
		line.Ascent, line.Descent = units.ElevationGain(points)
		return points, nil
	}

	if len(line.RoutePoints) < 2 {
		return nil, wire.NewValidationError("a routed line needs at least two route points")
	}
	route, err := s.deps.Router.Compute(ctx, line.RoutePoints, line.Mode, routing.Options{})
	if err != nil {
		return nil, err
	}
	line.Distance = route.Distance
	line.Time = route.Time
	line.Ascent = route.Ascent
	line.Descent = route.Descent
	return route.TrackPoints, nil
}

// lineType loads a type and checks that it styles lines.
func (s *Session) lineType(ctx context.Context, mapID, typeID string) (mapdata.Type, error) {
	typ, err := s.deps.Store.GetType(ctx, mapID, typeID)
	if err != nil {
		return mapdata.Type{}, err
	}
	if typ.ObjectKind != mapdata.KindLine {
		return mapdata.Type{}, wire.NewValidationError("type %q does not apply to lines", typ.Name)
	}
	return typ, nil
}
