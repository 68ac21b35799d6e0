package session

import (
	"context"

	"github.com/chartwork/mapsync/internal/style"
	"github.com/chartwork/mapsync/internal/wire"
	"github.com/chartwork/mapsync/pkg/mapdata"
)

type addMarkerParams struct {
	TypeID string            `json:"typeId" validate:"required"`
	Name   string            `json:"name"`
	Lat    float64           `json:"lat" validate:"gte=-90,lte=90"`
	Lon    float64           `json:"lon" validate:"gte=-180,lte=180"`
	Ele    *float64          `json:"ele"`
	Colour string            `json:"colour"`
	Size   int               `json:"size" validate:"gte=0"`
	Symbol string            `json:"symbol"`
	Shape  string            `json:"shape"`
	Data   map[string]string `json:"data"`
}

func (s *Session) addMarker(ctx context.Context, payload []byte) (any, error) {
	mapID, _, err := s.requireTier(mapdata.TierWrite)
	if err != nil {
		return nil, err
	}
	var params addMarkerParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	typ, err := s.markerType(ctx, mapID, params.TypeID)
	if err != nil {
		return nil, err
	}

	marker := mapdata.Marker{
		MapID:  mapID,
		TypeID: params.TypeID,
		Name:   params.Name,
		Lat:    params.Lat,
		Lon:    params.Lon,
		Ele:    params.Ele,
		Colour: params.Colour,
		Size:   params.Size,
		Symbol: params.Symbol,
		Shape:  params.Shape,
		Data:   params.Data,
	}
	style.ApplyToMarker(&marker, style.ResolveMarker(marker, typ))

	if err := s.deps.Store.CreateMarker(ctx, &marker); err != nil {
		return nil, err
	}
	if err := s.deps.History.Record(ctx, mapID, mapdata.KindMarker, mapdata.ActionCreate, marker.ID, nil, marker); err != nil {
		return nil, err
	}
	return marker, nil
}

type editMarkerParams struct {
	ID     string             `json:"id" validate:"required"`
	TypeID *string            `json:"typeId"`
	Name   *string            `json:"name"`
	Lat    *float64           `json:"lat"`
	Lon    *float64           `json:"lon"`
	Ele    *float64           `json:"ele"`
	Colour *string            `json:"colour"`
	Size   *int               `json:"size"`
	Symbol *string            `json:"symbol"`
	Shape  *string            `json:"shape"`
	Data   *map[string]string `json:"data"`
}

func (s *Session) editMarker(ctx context.Context, payload []byte) (any, error) {
	mapID, _, err := s.requireTier(mapdata.TierWrite)
	if err != nil {
		return nil, err
	}
	var params editMarkerParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	before, err := s.deps.Store.GetMarker(ctx, mapID, params.ID)
	if err != nil {
		return nil, err
	}

	after := before
	if params.TypeID != nil {
		after.TypeID = *params.TypeID
	}
	if params.Name != nil {
		after.Name = *params.Name
	}
	if params.Lat != nil {
		if *params.Lat < -90 || *params.Lat > 90 {
			return nil, wire.NewValidationError("latitude out of range")
		}
		after.Lat = *params.Lat
	}
	if params.Lon != nil {
		if *params.Lon < -180 || *params.Lon > 180 {
			return nil, wire.NewValidationError("longitude out of range")
		}
		after.Lon = *params.Lon
	}
	if params.Ele != nil {
		after.Ele = params.Ele
	}
	if params.Colour != nil {
		after.Colour = *params.Colour
	}
	if params.Size != nil {
		after.Size = *params.Size
	}
	if params.Symbol != nil {
		after.Symbol = *params.Symbol
	}
	if params.Shape != nil {
		after.Shape = *params.Shape
	}
	if params.Data != nil {
		after.Data = *params.Data
	}

	typ, err := s.markerType(ctx, mapID, after.TypeID)
	if err != nil {
		return nil, err
	}
	style.ApplyToMarker(&after, style.ResolveMarker(after, typ))

	if err := s.deps.Store.UpdateMarker(ctx, after); err != nil {
		return nil, err
	}
	if err := s.deps.History.Record(ctx, mapID, mapdata.KindMarker, mapdata.ActionUpdate, after.ID, before, after); err != nil {
		return nil, err
	}
	return after, nil
}

type idParams struct {
	ID string `json:"id" validate:"required"`
}

func (s *Session) deleteMarker(ctx context.Context, payload []byte) (any, error) {
	mapID, _, err := s.requireTier(mapdata.TierWrite)
	if err != nil {
		return nil, err
	}
	var params idParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	before, err := s.deps.Store.GetMarker(ctx, mapID, params.ID)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Store.DeleteMarker(ctx, mapID, params.ID); err != nil {
		return nil, err
	}
	if err := s.deps.History.Record(ctx, mapID, mapdata.KindMarker, mapdata.ActionDelete, params.ID, before, nil); err != nil {
		return nil, err
	}
	return nil, nil
}

// markerType loads a type and checks that it styles markers.
func (s *Session) markerType(ctx context.Context, mapID, typeID string) (mapdata.Type, error) {
	typ, err := s.deps.Store.GetType(ctx, mapID, typeID)
	if err != nil {
		return mapdata.Type{}, err
	}
	if typ.ObjectKind != mapdata.KindMarker {
		return mapdata.Type{}, wire.NewValidationError("type %q does not apply to markers", typ.Name)
	}
	return typ, nil
}
