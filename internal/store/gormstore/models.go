package gormstore

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&MapRow{},
	&MarkerRow{},
	&LineRow{},
	&LinePointRow{},
	&TypeRow{},
	&ViewRow{},
	&HistoryRow{},
}

// MapRow is a map with its three access slugs. The read slug doubles as
// the public map id, so objects reference maps by Slug.
type MapRow struct {
	gorm.Model
	Slug        string `gorm:"uniqueIndex;size:64"`
	WriteSlug   string `gorm:"uniqueIndex;size:64"`
	AdminSlug   string `gorm:"uniqueIndex;size:64"`
	Name        string `gorm:"size:255"`
	Description string
	DefaultView datatypes.JSON
}

func (*MapRow) TableName() string {
	return "maps"
}

// MarkerRow is a single point object. Geom holds the EPSG:3857 WKB of
// the position; Lat/Lon stay denormalized for bbox queries.
type MarkerRow struct {
	gorm.Model
	ObjectID string `gorm:"uniqueIndex;size:36"`
	MapSlug  string `gorm:"index:idx_markers_map;size:64"`
	TypeID   string `gorm:"size:36"`
	Name     string `gorm:"size:255"`
	Lat      float64
	Lon      float64
	Ele      *float64
	Colour   string `gorm:"size:8"`
	Size     int
	Symbol   string `gorm:"size:64"`
	Shape    string `gorm:"size:64"`
	Data     datatypes.JSON
	Geom     []byte
}

func (*MarkerRow) TableName() string {
	return "markers"
}

// LineRow is a polyline object. RoutePoints is the user-placed geometry
// as JSON; the rendered track lives in line_points with its EPSG:3857
// WKB mirror in Geom.
type LineRow struct {
	gorm.Model
	ObjectID    string `gorm:"uniqueIndex;size:36"`
	MapSlug     string `gorm:"index:idx_lines_map;size:64"`
	TypeID      string `gorm:"size:36"`
	Name        string `gorm:"size:255"`
	Mode        string `gorm:"size:16"`
	Colour      string `gorm:"size:8"`
	Width       int
	RoutePoints datatypes.JSON
	Distance    float64
	Time        *int
	Ascent      *int
	Descent     *int
	Data        datatypes.JSON
	Geom        []byte
}

func (*LineRow) TableName() string {
	return "lines"
}

// LinePointRow is one rendered track point of a line, addressable by
// dense index for windowed range queries.
type LinePointRow struct {
	ID      uint   `gorm:"primarykey"`
	LineID  string `gorm:"index:idx_line_points_line,priority:1;size:36"`
	MapSlug string `gorm:"size:64"`
	Idx     int    `gorm:"index:idx_line_points_line,priority:2"`
	Lat     float64
	Lon     float64
	Ele     *float64
	Zoom    int
}

func (*LinePointRow) TableName() string {
	return "line_points"
}

// TypeRow is a per-map style template.
type TypeRow struct {
	gorm.Model
	ObjectID   string `gorm:"uniqueIndex;size:36"`
	MapSlug    string `gorm:"index:idx_types_map;size:64"`
	Name       string `gorm:"size:255"`
	ObjectKind string `gorm:"size:16"`
	Styles     datatypes.JSON
	Fields     datatypes.JSON
}

func (*TypeRow) TableName() string {
	return "types"
}

// ViewRow is a saved viewport.
type ViewRow struct {
	gorm.Model
	ObjectID  string `gorm:"uniqueIndex;size:36"`
	MapSlug   string `gorm:"index:idx_views_map;size:64"`
	Name      string `gorm:"size:255"`
	Top       float64
	Bottom    float64
	Left      float64
	Right     float64
	Zoom      int
	BaseLayer string `gorm:"size:64"`
	Layers    datatypes.JSON
	Filter    string
}

func (*ViewRow) TableName() string {
	return "views"
}

// HistoryRow is one entry of a map's append-only change ledger.
type HistoryRow struct {
	ID       uint   `gorm:"primarykey"`
	EntryID  string `gorm:"uniqueIndex;size:36"`
	MapSlug  string `gorm:"index:idx_history_map;size:64"`
	Time     time.Time
	Kind     string `gorm:"size:16"`
	Action   string `gorm:"size:16"`
	ObjectID string `gorm:"size:64"`
	Before   datatypes.JSON
	After    datatypes.JSON
}

func (*HistoryRow) TableName() string {
	return "history"
}
