package gormstore

import (
	"github.com/goccy/go-json"
	"gorm.io/datatypes"

	"github.com/chartwork/mapsync/internal/geo"
	"github.com/chartwork/mapsync/pkg/mapdata"
)

// toJSON marshals a value for a JSON column. Empty values become "null"
// so columns stay comparable across drivers.
func toJSON(v any) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(data)
}

// fromJSON unmarshals a JSON column into v, leaving v untouched on null
// or malformed content.
func fromJSON(data datatypes.JSON, v any) {
	if len(data) == 0 {
		return
	}
	_ = json.Unmarshal(data, v)
}

func mapToRow(m mapdata.Map) MapRow {
	row := MapRow{
		Slug:        m.ID,
		WriteSlug:   m.WriteID,
		AdminSlug:   m.AdminID,
		Name:        m.Name,
		Description: m.Description,
	}
	if m.DefaultView != nil {
		row.DefaultView = toJSON(m.DefaultView)
	}
	return row
}

func rowToMap(r MapRow) mapdata.Map {
	m := mapdata.Map{
		ID:          r.Slug,
		WriteID:     r.WriteSlug,
		AdminID:     r.AdminSlug,
		Name:        r.Name,
		Description: r.Description,
	}
	if len(r.DefaultView) > 0 && string(r.DefaultView) != "null" {
		var v mapdata.View
		fromJSON(r.DefaultView, &v)
		m.DefaultView = &v
	}
	return m
}

func markerToRow(m mapdata.Marker) (MarkerRow, error) {
	pt, err := geo.Point3857From4326(mapdata.Point{Lat: m.Lat, Lon: m.Lon})
	if err != nil {
		return MarkerRow{}, err
	}
	return MarkerRow{
		ObjectID: m.ID,
		MapSlug:  m.MapID,
		TypeID:   m.TypeID,
		Name:     m.Name,
		Lat:      m.Lat,
		Lon:      m.Lon,
		Ele:      m.Ele,
		Colour:   m.Colour,
		Size:     m.Size,
		Symbol:   m.Symbol,
		Shape:    m.Shape,
		Data:     toJSON(m.Data),
		Geom:     pt.AsBinary(),
	}, nil
}

func rowToMarker(r MarkerRow) mapdata.Marker {
	m := mapdata.Marker{
		ID:     r.ObjectID,
		MapID:  r.MapSlug,
		TypeID: r.TypeID,
		Name:   r.Name,
		Lat:    r.Lat,
		Lon:    r.Lon,
		Ele:    r.Ele,
		Colour: r.Colour,
		Size:   r.Size,
		Symbol: r.Symbol,
		Shape:  r.Shape,
	}
	fromJSON(r.Data, &m.Data)
	return m
}

func lineToRow(l mapdata.Line) LineRow {
	return LineRow{
		ObjectID:    l.ID,
		MapSlug:     l.MapID,
		TypeID:      l.TypeID,
		Name:        l.Name,
		Mode:        string(l.Mode),
		Colour:      l.Colour,
		Width:       l.Width,
		RoutePoints: toJSON(l.RoutePoints),
		Distance:    l.Distance,
		Time:        l.Time,
		Ascent:      l.Ascent,
		Descent:     l.Descent,
		Data:        toJSON(l.Data),
	}
}

func rowToLine(r LineRow) mapdata.Line {
	l := mapdata.Line{
		ID:       r.ObjectID,
		MapID:    r.MapSlug,
		TypeID:   r.TypeID,
		Name:     r.Name,
		Mode:     mapdata.RouteMode(r.Mode),
		Colour:   r.Colour,
		Width:    r.Width,
		Distance: r.Distance,
		Time:     r.Time,
		Ascent:   r.Ascent,
		Descent:  r.Descent,
	}
	fromJSON(r.RoutePoints, &l.RoutePoints)
	fromJSON(r.Data, &l.Data)
	return l
}

func typeToRow(t mapdata.Type) TypeRow {
	return TypeRow{
		ObjectID:   t.ID,
		MapSlug:    t.MapID,
		Name:       t.Name,
		ObjectKind: string(t.ObjectKind),
		Styles:     toJSON(t.Styles),
		Fields:     toJSON(t.Fields),
	}
}

func rowToType(r TypeRow) mapdata.Type {
	t := mapdata.Type{
		ID:         r.ObjectID,
		MapID:      r.MapSlug,
		Name:       r.Name,
		ObjectKind: mapdata.ObjectKind(r.ObjectKind),
	}
	fromJSON(r.Styles, &t.Styles)
	fromJSON(r.Fields, &t.Fields)
	return t
}

func viewToRow(v mapdata.View) ViewRow {
	return ViewRow{
		ObjectID:  v.ID,
		MapSlug:   v.MapID,
		Name:      v.Name,
		Top:       v.Top,
		Bottom:    v.Bottom,
		Left:      v.Left,
		Right:     v.Right,
		Zoom:      v.Zoom,
		BaseLayer: v.BaseLayer,
		Layers:    toJSON(v.Layers),
		Filter:    v.Filter,
	}
}

func rowToView(r ViewRow) mapdata.View {
	v := mapdata.View{
		ID:        r.ObjectID,
		MapID:     r.MapSlug,
		Name:      r.Name,
		Top:       r.Top,
		Bottom:    r.Bottom,
		Left:      r.Left,
		Right:     r.Right,
		Zoom:      r.Zoom,
		BaseLayer: r.BaseLayer,
		Filter:    r.Filter,
	}
	fromJSON(r.Layers, &v.Layers)
	return v
}

func historyToRow(e mapdata.HistoryEntry) HistoryRow {
	return HistoryRow{
		EntryID:  e.ID,
		MapSlug:  e.MapID,
		Time:     e.Time,
		Kind:     string(e.Kind),
		Action:   string(e.Action),
		ObjectID: e.ObjectID,
		Before:   datatypes.JSON(e.Before),
		After:    datatypes.JSON(e.After),
	}
}

func rowToHistory(r HistoryRow) mapdata.HistoryEntry {
	return mapdata.HistoryEntry{
		ID:       r.EntryID,
		MapID:    r.MapSlug,
		Time:     r.Time,
		Kind:     mapdata.ObjectKind(r.Kind),
		Action:   mapdata.HistoryAction(r.Action),
		ObjectID: r.ObjectID,
		Before:   json.RawMessage(r.Before),
		After:    json.RawMessage(r.After),
	}
}

func trackToPointRows(mapSlug, lineID string, points []mapdata.TrackPoint) []LinePointRow {
	rows := make([]LinePointRow, 0, len(points))
	for _, p := range points {
		rows = append(rows, LinePointRow{
			LineID:  lineID,
			MapSlug: mapSlug,
			Idx:     p.Idx,
			Lat:     p.Lat,
			Lon:     p.Lon,
			Ele:     p.Ele,
			Zoom:    p.Zoom,
		})
	}
	return rows
}

func pointRowsToTrack(rows []LinePointRow) []mapdata.TrackPoint {
	points := make([]mapdata.TrackPoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, mapdata.TrackPoint{
			Lat:  r.Lat,
			Lon:  r.Lon,
			Ele:  r.Ele,
			Idx:  r.Idx,
			Zoom: r.Zoom,
		})
	}
	return points
}
