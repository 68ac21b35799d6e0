// Package store defines the data store consumed by the sync engine:
// per-entity CRUD, bbox-range point queries with an optional excluding
// rectangle, history persistence primitives, and a per-map mutation
// event stream the broadcaster subscribes to. Implementations must emit
// the events of a single map in the order the mutations were applied.
package store

import (
	"context"
	"errors"

	"github.com/chartwork/mapsync/internal/track"
	"github.com/chartwork/mapsync/pkg/mapdata"
)

var (
	// ErrSlugTaken is returned when any of a map's three slugs collides
	// with any slug of any existing map.
	ErrSlugTaken = errors.New("slug already taken")

	// ErrNotFound is returned when a map or object does not exist.
	ErrNotFound = errors.New("not found")
)

// Event is one mutation notification. Exactly one object pointer is set
// for create/update events; delete events carry only the object id. A
// line-point bulk replacement is Kind=KindLine with LinePoints set. A
// history append carries History.
type Event struct {
	MapID    string
	Kind     mapdata.ObjectKind
	Action   mapdata.HistoryAction
	ObjectID string

	Map        *mapdata.Map
	Marker     *mapdata.Marker
	Line       *mapdata.Line
	LinePoints []mapdata.TrackPoint
	Type       *mapdata.Type
	View       *mapdata.View
	History    *mapdata.HistoryEntry
}

// Handler receives mutation events for one map.
type Handler func(Event)

// Unsubscribe detaches a previously registered handler.
type Unsubscribe func()

// Store is the persistence interface of the engine. All blocking calls
// take a context; cancellation aborts the query, never a committed
// mutation.
type Store interface {
	// Maps. CreateMap fills missing slugs, enforces global pairwise slug
	// uniqueness and returns ErrSlugTaken on any collision. ResolveSlug
	// checks the slug against admin, write and read identifiers in that
	// priority order.
	CreateMap(ctx context.Context, m *mapdata.Map) error
	GetMap(ctx context.Context, id string) (mapdata.Map, error)
	ResolveSlug(ctx context.Context, slug string) (mapdata.Map, mapdata.Tier, error)
	UpdateMap(ctx context.Context, m mapdata.Map) error
	DeleteMap(ctx context.Context, id string) error

	// Markers.
	CreateMarker(ctx context.Context, m *mapdata.Marker) error
	GetMarker(ctx context.Context, mapID, id string) (mapdata.Marker, error)
	UpdateMarker(ctx context.Context, m mapdata.Marker) error
	DeleteMarker(ctx context.Context, mapID, id string) error
	MarkersInBbox(ctx context.Context, mapID string, bbox mapdata.Bbox, except *mapdata.Bbox) ([]mapdata.Marker, error)
	MarkersForMap(ctx context.Context, mapID string) ([]mapdata.Marker, error)

	// Lines. Line CRUD never touches track points; SetLinePoints
	// replaces the full rendered geometry in one bulk operation.
	CreateLine(ctx context.Context, l *mapdata.Line) error
	GetLine(ctx context.Context, mapID, id string) (mapdata.Line, error)
	UpdateLine(ctx context.Context, l mapdata.Line) error
	DeleteLine(ctx context.Context, mapID, id string) error
	LinesForMap(ctx context.Context, mapID string) ([]mapdata.Line, error)
	SetLinePoints(ctx context.Context, mapID, lineID string, points []mapdata.TrackPoint) error
	LinePoints(ctx context.Context, mapID, lineID string) ([]mapdata.TrackPoint, error)
	LinePointsInRanges(ctx context.Context, mapID, lineID string, ranges []track.IndexRange) ([]mapdata.TrackPoint, error)

	// Types.
	CreateType(ctx context.Context, t *mapdata.Type) error
	GetType(ctx context.Context, mapID, id string) (mapdata.Type, error)
	UpdateType(ctx context.Context, t mapdata.Type) error
	DeleteType(ctx context.Context, mapID, id string) error
	TypesForMap(ctx context.Context, mapID string) ([]mapdata.Type, error)

	// Views.
	CreateView(ctx context.Context, v *mapdata.View) error
	GetView(ctx context.Context, mapID, id string) (mapdata.View, error)
	UpdateView(ctx context.Context, v mapdata.View) error
	DeleteView(ctx context.Context, mapID, id string) error
	ViewsForMap(ctx context.Context, mapID string) ([]mapdata.View, error)

	// History persistence primitives. The revert and retention logic
	// lives in the history package; the store only appends, trims,
	// lists and rewrites.
	AppendHistory(ctx context.Context, e *mapdata.HistoryEntry) error
	TrimHistory(ctx context.Context, mapID string, keep int) error
	HistoryForMap(ctx context.Context, mapID string) ([]mapdata.HistoryEntry, error)
	GetHistoryEntry(ctx context.Context, mapID, id string) (mapdata.HistoryEntry, error)
	RewriteHistoryObjectID(ctx context.Context, mapID string, kind mapdata.ObjectKind, oldID, newID string) error

	// Subscribe registers a handler for one map's mutation events and
	// returns the matching unsubscribe. Handlers are invoked in
	// mutation order for that map; no cross-map ordering is guaranteed.
	Subscribe(mapID string, h Handler) Unsubscribe

	// Lifecycle.
	Init() error
	Close() error
}
