package session

import (
	"context"

	"github.com/chartwork/mapsync/internal/style"
	"github.com/chartwork/mapsync/internal/wire"
	"github.com/chartwork/mapsync/pkg/mapdata"
)

type addTypeParams struct {
	Name       string                 `json:"name" validate:"required"`
	ObjectKind mapdata.ObjectKind     `json:"objectKind" validate:"required,oneof=marker line"`
	Styles     []mapdata.StyleControl `json:"styles"`
	Fields     []mapdata.Field        `json:"fields"`
}

func (s *Session) addType(ctx context.Context, payload []byte) (any, error) {
	mapID, _, err := s.requireTier(mapdata.TierAdmin)
	if err != nil {
		return nil, err
	}
	var params addTypeParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	typ := mapdata.Type{
		MapID:      mapID,
		Name:       params.Name,
		ObjectKind: params.ObjectKind,
		Styles:     params.Styles,
		Fields:     params.Fields,
	}
	if err := s.deps.Store.CreateType(ctx, &typ); err != nil {
		return nil, err
	}
	if err := s.deps.History.Record(ctx, mapID, mapdata.KindType, mapdata.ActionCreate, typ.ID, nil, typ); err != nil {
		return nil, err
	}
	return typ, nil
}

type editTypeParams struct {
	ID     string                  `json:"id" validate:"required"`
	Name   *string                 `json:"name"`
	Styles *[]mapdata.StyleControl `json:"styles"`
	Fields *[]mapdata.Field        `json:"fields"`
}

func (s *Session) editType(ctx context.Context, payload []byte) (any, error) {
	mapID, _, err := s.requireTier(mapdata.TierAdmin)
	if err != nil {
		return nil, err
	}
	var params editTypeParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	before, err := s.deps.Store.GetType(ctx, mapID, params.ID)
	if err != nil {
		return nil, err
	}

	after := before
	if params.Name != nil {
		after.Name = *params.Name
	}
	if params.Styles != nil {
		after.Styles = *params.Styles
	}
	if params.Fields != nil {
		after.Fields = *params.Fields
	}

	if err := s.deps.Store.UpdateType(ctx, after); err != nil {
		return nil, err
	}
	if err := s.deps.History.Record(ctx, mapID, mapdata.KindType, mapdata.ActionUpdate, after.ID, before, after); err != nil {
		return nil, err
	}

	if err := s.restyleObjects(ctx, mapID, after); err != nil {
		return nil, err
	}
	return after, nil
}

func (s *Session) deleteType(ctx context.Context, payload []byte) (any, error) {
	mapID, _, err := s.requireTier(mapdata.TierAdmin)
	if err != nil {
		return nil, err
	}
	var params idParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	before, err := s.deps.Store.GetType(ctx, mapID, params.ID)
	if err != nil {
		return nil, err
	}
	inUse, err := s.typeInUse(ctx, mapID, before)
	if err != nil {
		return nil, err
	}
	if inUse {
		return nil, wire.NewValidationError("type %q is still in use", before.Name)
	}

	if err := s.deps.Store.DeleteType(ctx, mapID, params.ID); err != nil {
		return nil, err
	}
	if err := s.deps.History.Record(ctx, mapID, mapdata.KindType, mapdata.ActionDelete, params.ID, before, nil); err != nil {
		return nil, err
	}
	return nil, nil
}

// restyleObjects reapplies a changed type's style cascade to every
// object of that type. Cascade writes are derived state and are not
// recorded in history.
func (s *Session) restyleObjects(ctx context.Context, mapID string, typ mapdata.Type) error {
	switch typ.ObjectKind {
	case mapdata.KindMarker:
		markers, err := s.deps.Store.MarkersForMap(ctx, mapID)
		if err != nil {
			return err
		}
		for _, m := range markers {
			if m.TypeID != typ.ID {
				continue
			}
			if style.ApplyToMarker(&m, style.ResolveMarker(m, typ)) {
				if err := s.deps.Store.UpdateMarker(ctx, m); err != nil {
					return err
				}
			}
		}
	case mapdata.KindLine:
		lines, err := s.deps.Store.LinesForMap(ctx, mapID)
		if err != nil {
			return err
		}
		for _, l := range lines {
			if l.TypeID != typ.ID {
				continue
			}
			if style.ApplyToLine(&l, style.ResolveLine(l, typ)) {
				if err := s.deps.Store.UpdateLine(ctx, l); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Session) typeInUse(ctx context.Context, mapID string, typ mapdata.Type) (bool, error) {
	switch typ.ObjectKind {
	case mapdata.KindMarker:
		markers, err := s.deps.Store.MarkersForMap(ctx, mapID)
		if err != nil {
			return false, err
		}
		for _, m := range markers {
			if m.TypeID == typ.ID {
				return true, nil
			}
		}
	case mapdata.KindLine:
		lines, err := s.deps.Store.LinesForMap(ctx, mapID)
		if err != nil {
			return false, err
		}
		for _, l := range lines {
			if l.TypeID == typ.ID {
				return true, nil
			}
		}
	}
	return false, nil
}

type addViewParams struct {
	Name      string   `json:"name" validate:"required"`
	Top       float64  `json:"top" validate:"gte=-90,lte=90"`
	Bottom    float64  `json:"bottom" validate:"gte=-90,lte=90"`
	Left      float64  `json:"left" validate:"gte=-180,lte=180"`
	Right     float64  `json:"right" validate:"gte=-180,lte=180"`
	Zoom      int      `json:"zoom" validate:"gte=0,lte=20"`
	BaseLayer string   `json:"baseLayer"`
	Layers    []string `json:"layers"`
	Filter    string   `json:"filter"`
}

func (s *Session) addView(ctx context.Context, payload []byte) (any, error) {
	mapID, _, err := s.requireTier(mapdata.TierAdmin)
	if err != nil {
		return nil, err
	}
	var params addViewParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	view := mapdata.View{
		MapID:     mapID,
		Name:      params.Name,
		Top:       params.Top,
		Bottom:    params.Bottom,
		Left:      params.Left,
		Right:     params.Right,
		Zoom:      params.Zoom,
		BaseLayer: params.BaseLayer,
		Layers:    params.Layers,
		Filter:    params.Filter,
	}
	if err := s.deps.Store.CreateView(ctx, &view); err != nil {
		return nil, err
	}
	if err := s.deps.History.Record(ctx, mapID, mapdata.KindView, mapdata.ActionCreate, view.ID, nil, view); err != nil {
		return nil, err
	}
	return view, nil
}

type editViewParams struct {
	ID        string    `json:"id" validate:"required"`
	Name      *string   `json:"name"`
	Top       *float64  `json:"top"`
	Bottom    *float64  `json:"bottom"`
	Left      *float64  `json:"left"`
	Right     *float64  `json:"right"`
	Zoom      *int      `json:"zoom"`
	BaseLayer *string   `json:"baseLayer"`
	Layers    *[]string `json:"layers"`
	Filter    *string   `json:"filter"`
}

func (s *Session) editView(ctx context.Context, payload []byte) (any, error) {
	mapID, _, err := s.requireTier(mapdata.TierAdmin)
	if err != nil {
		return nil, err
	}
	var params editViewParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	before, err := s.deps.Store.GetView(ctx, mapID, params.ID)
	if err != nil {
		return nil, err
	}

	after := before
	if params.Name != nil {
		after.Name = *params.Name
	}
	if params.Top != nil {
		after.Top = *params.Top
	}
	if params.Bottom != nil {
		after.Bottom = *params.Bottom
	}
	if params.Left != nil {
		after.Left = *params.Left
	}
	if params.Right != nil {
		after.Right = *params.Right
	}
	if params.Zoom != nil {
		after.Zoom = *params.Zoom
	}
	if params.BaseLayer != nil {
		after.BaseLayer = *params.BaseLayer
	}
	if params.Layers != nil {
		after.Layers = *params.Layers
	}
	if params.Filter != nil {
		after.Filter = *params.Filter
	}

	if err := s.deps.Store.UpdateView(ctx, after); err != nil {
		return nil, err
	}
	if err := s.deps.History.Record(ctx, mapID, mapdata.KindView, mapdata.ActionUpdate, after.ID, before, after); err != nil {
		return nil, err
	}
	return after, nil
}

func (s *Session) deleteView(ctx context.Context, payload []byte) (any, error) {
	mapID, _, err := s.requireTier(mapdata.TierAdmin)
	if err != nil {
		return nil, err
	}
	var params idParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	before, err := s.deps.Store.GetView(ctx, mapID, params.ID)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Store.DeleteView(ctx, mapID, params.ID); err != nil {
		return nil, err
	}
	if err := s.deps.History.Record(ctx, mapID, mapdata.KindView, mapdata.ActionDelete, params.ID, before, nil); err != nil {
		return nil, err
	}
	return nil, nil
}

type editMapParams struct {
	Name        *string       `json:"name"`
	Description *string       `json:"description"`
	DefaultView *mapdata.View `json:"defaultView"`
}

// editMap changes map display metadata. Slugs are fixed at creation
// and not editable over the protocol.
func (s *Session) editMap(ctx context.Context, payload []byte) (any, error) {
	mapID, tier, err := s.requireTier(mapdata.TierAdmin)
	if err != nil {
		return nil, err
	}
	var params editMapParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	before, err := s.deps.Store.GetMap(ctx, mapID)
	if err != nil {
		return nil, err
	}

	after := before
	if params.Name != nil {
		after.Name = *params.Name
	}
	if params.Description != nil {
		after.Description = *params.Description
	}
	if params.DefaultView != nil {
		after.DefaultView = params.DefaultView
	}

	if err := s.deps.Store.UpdateMap(ctx, after); err != nil {
		return nil, err
	}
	if err := s.deps.History.Record(ctx, mapID, mapdata.KindMap, mapdata.ActionUpdate, mapID, before, after); err != nil {
		return nil, err
	}
	return after.Redacted(tier), nil
}
