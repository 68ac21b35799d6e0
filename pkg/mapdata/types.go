// Package mapdata defines the shared value types of the live map
// synchronization engine: maps, markers, lines, track points, types,
// views and history entries. These types cross the wire and feed the
// geometry algorithms; persistence models live with the store.
package mapdata

import (
	"encoding/json"
	"time"
)

// Tier is the permission level a session holds on a map, derived from
// which of the map's three slugs it presented on attach.
type Tier int

const (
	TierRead Tier = iota + 1
	TierWrite
	TierAdmin
)

// String returns the wire representation of the tier.
func (t Tier) String() string {
	switch t {
	case TierRead:
		return "read"
	case TierWrite:
		return "write"
	case TierAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ObjectKind identifies the entity type of a history entry or event.
type ObjectKind string

const (
	KindMap    ObjectKind = "Map"
	KindMarker ObjectKind = "Marker"
	KindLine   ObjectKind = "Line"
	KindType   ObjectKind = "Type"
	KindView   ObjectKind = "View"
)

// HistoryAction is the mutation recorded by a history entry.
type HistoryAction string

const (
	ActionCreate HistoryAction = "create"
	ActionUpdate HistoryAction = "update"
	ActionDelete HistoryAction = "delete"
)

// Point is a bare WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// TrackPoint is one point of a line's rendered geometry. Idx is a dense
// 0-based index over the full line; Zoom is the minimum display zoom at
// which the point must be rendered, in [1,20]. Ele is nil when the
// elevation is unknown.
type TrackPoint struct {
	Lat  float64  `json:"lat"`
	Lon  float64  `json:"lon"`
	Ele  *float64 `json:"ele,omitempty"`
	Idx  int      `json:"idx"`
	Zoom int      `json:"zoom"`
}

// Bbox is an axis-aligned lat/lon rectangle. Left may exceed Right when
// the box crosses the anti-meridian.
type Bbox struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
}

// ZoomedBbox is a viewport: a bbox plus the display zoom it is shown at.
type ZoomedBbox struct {
	Bbox
	Zoom int `json:"zoom"`
}

// Map holds the display metadata of a collaborative map and its three
// access slugs. ID doubles as the read slug; WriteID and AdminID grant
// the higher tiers. The three slugs are pairwise distinct and globally
// unique across all maps.
type Map struct {
	ID          string `json:"id"`
	WriteID     string `json:"writeId,omitempty"`
	AdminID     string `json:"adminId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
	DefaultView *View  `json:"defaultView,omitempty"`
}

// Redacted returns a copy of the map with the slugs the given tier must
// not see removed.
func (m Map) Redacted(tier Tier) Map {
	if tier < TierAdmin {
		m.AdminID = ""
	}
	if tier < TierWrite {
		m.WriteID = ""
	}
	return m
}

// Marker is a single point object on a map.
type Marker struct {
	ID     string            `json:"id"`
	MapID  string            `json:"mapId"`
	TypeID string            `json:"typeId"`
	Name   string            `json:"name"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Ele    *float64          `json:"ele,omitempty"`
	Colour string            `json:"colour"`
	Size   int               `json:"size"`
	Symbol string            `json:"symbol"`
	Shape  string            `json:"shape"`
	Data   map[string]string `json:"data,omitempty"`
}

// RouteMode selects the routing profile of a line. ModeTrack marks a
// literal recorded track that is never re-routed.
type RouteMode string

const (
	ModeCar        RouteMode = "car"
	ModeBicycle    RouteMode = "bicycle"
	ModePedestrian RouteMode = "pedestrian"
	ModeTrack      RouteMode = "track"
)

// Line is a polyline object: user-placed RoutePoints and the derived,
// zoom-tagged TrackPoints actually rendered. Metrics are filled by the
// router; Time, Ascent and Descent are nil when unknown.
type Line struct {
	ID          string            `json:"id"`
	MapID       string            `json:"mapId"`
	TypeID      string            `json:"typeId"`
	Name        string            `json:"name"`
	Mode        RouteMode         `json:"mode"`
	Colour      string            `json:"colour"`
	Width       int               `json:"width"`
	RoutePoints []Point           `json:"routePoints"`
	TrackPoints []TrackPoint      `json:"trackPoints,omitempty"`
	Distance    float64           `json:"distance"`
	Time        *int              `json:"time,omitempty"`
	Ascent      *int              `json:"ascent,omitempty"`
	Descent     *int              `json:"descent,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
}

// StyleAttribute names one style field a Type may control.
type StyleAttribute string

const (
	StyleColour StyleAttribute = "colour"
	StyleSize   StyleAttribute = "size"
	StyleSymbol StyleAttribute = "symbol"
	StyleShape  StyleAttribute = "shape"
	StyleWidth  StyleAttribute = "width"
	StyleMode   StyleAttribute = "mode"
)

// StyleControl describes how a Type drives one style attribute of its
// objects: a default, an optional fixed flag, and optionally the name of
// a dropdown field whose selected option picks the value per object.
type StyleControl struct {
	Attribute       StyleAttribute    `json:"attribute"`
	Fixed           bool              `json:"fixed"`
	Default         string            `json:"default"`
	DropdownField   string            `json:"dropdownField,omitempty"`
	DropdownOptions map[string]string `json:"dropdownOptions,omitempty"`
}

// FieldKind is the input widget of a custom Type field.
type FieldKind string

const (
	FieldInput    FieldKind = "input"
	FieldTextarea FieldKind = "textarea"
	FieldDropdown FieldKind = "dropdown"
	FieldCheckbox FieldKind = "checkbox"
)

// Field is one custom data field declared by a Type.
type Field struct {
	Name    string    `json:"name"`
	Kind    FieldKind `json:"kind"`
	Default string    `json:"default,omitempty"`
	Options []string  `json:"options,omitempty"`
}

// Type is a per-map style template for markers or lines.
type Type struct {
	ID         string         `json:"id"`
	MapID      string         `json:"mapId"`
	Name       string         `json:"name"`
	ObjectKind ObjectKind     `json:"objectKind"` // KindMarker or KindLine
	Styles     []StyleControl `json:"styles,omitempty"`
	Fields     []Field        `json:"fields,omitempty"`
}

// View is a saved viewport.
type View struct {
	ID        string   `json:"id"`
	MapID     string   `json:"mapId"`
	Name      string   `json:"name"`
	Top       float64  `json:"top"`
	Bottom    float64  `json:"bottom"`
	Left      float64  `json:"left"`
	Right     float64  `json:"right"`
	Zoom      int      `json:"zoom"`
	BaseLayer string   `json:"baseLayer,omitempty"`
	Layers    []string `json:"layers,omitempty"`
	Filter    string   `json:"filter,omitempty"`
}

// Bounds returns the view's viewport rectangle.
func (v View) Bounds() ZoomedBbox {
	return ZoomedBbox{
		Bbox: Bbox{Top: v.Top, Bottom: v.Bottom, Left: v.Left, Right: v.Right},
		Zoom: v.Zoom,
	}
}

// HistoryEntry is one immutable record of the append-only change ledger.
// Before and After hold JSON snapshots of the object around the change;
// create entries have no Before, delete entries no After.
type HistoryEntry struct {
	ID       string          `json:"id"`
	MapID    string          `json:"mapId"`
	Time     time.Time       `json:"time"`
	Kind     ObjectKind      `json:"kind"`
	Action   HistoryAction   `json:"action"`
	ObjectID string          `json:"objectId"`
	Before   json.RawMessage `json:"before,omitempty"`
	After    json.RawMessage `json:"after,omitempty"`
}

// VisibleTo reports whether a session of the given tier may observe this
// entry. Write-tier sessions see only marker and line history; admin
// sessions see everything.
func (e HistoryEntry) VisibleTo(tier Tier) bool {
	if tier >= TierAdmin {
		return true
	}
	if tier >= TierWrite {
		return e.Kind == KindMarker || e.Kind == KindLine
	}
	return false
}

// RevertTier is the minimum tier required to revert this entry.
func (e HistoryEntry) RevertTier() Tier {
	if e.Kind == KindMarker || e.Kind == KindLine {
		return TierWrite
	}
	return TierAdmin
}
