// Package memory stores all map data in process memory. It is the
// standalone development mode and the reference implementation the
// engine tests run against.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chartwork/mapsync/internal/geo"
	"github.com/chartwork/mapsync/internal/store"
	"github.com/chartwork/mapsync/internal/track"
	"github.com/chartwork/mapsync/pkg/mapdata"
)

// slugRef resolves one slug to its map and the tier it grants.
type slugRef struct {
	mapID string
	tier  mapdata.Tier
}

// lineRecord groups a line with its rendered geometry.
type lineRecord struct {
	line   mapdata.Line
	points []mapdata.TrackPoint
}

// mapRecord groups one map with all its objects and history.
type mapRecord struct {
	meta    mapdata.Map
	markers map[string]mapdata.Marker
	lines   map[string]*lineRecord
	types   map[string]mapdata.Type
	views   map[string]mapdata.View
	history []mapdata.HistoryEntry
}

// Store is the in-memory store.Store implementation.
type Store struct {
	mu    sync.RWMutex
	maps  map[string]*mapRecord
	slugs map[string]slugRef

	fanout *store.Fanout
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		maps:   make(map[string]*mapRecord),
		slugs:  make(map[string]slugRef),
		fanout: store.NewFanout(),
	}
}

// Init implements store.Store.
func (s *Store) Init() error { return nil }

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// Subscribe registers a mutation handler for one map.
func (s *Store) Subscribe(mapID string, h store.Handler) store.Unsubscribe {
	return s.fanout.Subscribe(mapID, h)
}

// MAPS

func (s *Store) CreateMap(_ context.Context, m *mapdata.Map) error {
	store.FillSlugs(m)
	if !store.SlugsDistinct(*m) {
		return store.ErrSlugTaken
	}

	return s.fanout.Ordered(func() (store.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, slug := range []string{m.ID, m.WriteID, m.AdminID} {
			if _, taken := s.slugs[slug]; taken {
				return store.Event{}, store.ErrSlugTaken
			}
		}
		s.maps[m.ID] = &mapRecord{
			meta:    *m,
			markers: make(map[string]mapdata.Marker),
			lines:   make(map[string]*lineRecord),
			types:   make(map[string]mapdata.Type),
			views:   make(map[string]mapdata.View),
		}
		s.slugs[m.ID] = slugRef{mapID: m.ID, tier: mapdata.TierRead}
		s.slugs[m.WriteID] = slugRef{mapID: m.ID, tier: mapdata.TierWrite}
		s.slugs[m.AdminID] = slugRef{mapID: m.ID, tier: mapdata.TierAdmin}
		return store.Event{MapID: m.ID, Kind: mapdata.KindMap, Action: mapdata.ActionCreate, ObjectID: m.ID, Map: m}, nil
	})
}

func (s *Store) GetMap(_ context.Context, id string) (mapdata.Map, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.maps[id]
	if !ok {
		return mapdata.Map{}, store.ErrNotFound
	}
	return rec.meta, nil
}

func (s *Store) ResolveSlug(_ context.Context, slug string) (mapdata.Map, mapdata.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.slugs[slug]
	if !ok {
		return mapdata.Map{}, 0, store.ErrNotFound
	}
	return s.maps[ref.mapID].meta, ref.tier, nil
}

func (s *Store) UpdateMap(_ context.Context, m mapdata.Map) error {
	return s.fanout.Ordered(func() (store.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.maps[m.ID]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		old := rec.meta
		if m.WriteID == "" {
			m.WriteID = old.WriteID
		}
		if m.AdminID == "" {
			m.AdminID = old.AdminID
		}
		if !store.SlugsDistinct(m) {
			return store.Event{}, store.ErrSlugTaken
		}
		for _, slug := range []string{m.WriteID, m.AdminID} {
			if ref, taken := s.slugs[slug]; taken && ref.mapID != m.ID {
				return store.Event{}, store.ErrSlugTaken
			}
		}
		delete(s.slugs, old.WriteID)
		delete(s.slugs, old.AdminID)
		s.slugs[m.WriteID] = slugRef{mapID: m.ID, tier: mapdata.TierWrite}
		s.slugs[m.AdminID] = slugRef{mapID: m.ID, tier: mapdata.TierAdmin}
		rec.meta = m
		return store.Event{MapID: m.ID, Kind: mapdata.KindMap, Action: mapdata.ActionUpdate, ObjectID: m.ID, Map: &m}, nil
	})
}

func (s *Store) DeleteMap(_ context.Context, id string) error {
	return s.fanout.Ordered(func() (store.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.maps[id]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		delete(s.slugs, rec.meta.ID)
		delete(s.slugs, rec.meta.WriteID)
		delete(s.slugs, rec.meta.AdminID)
		delete(s.maps, id)
		return store.Event{MapID: id, Kind: mapdata.KindMap, Action: mapdata.ActionDelete, ObjectID: id}, nil
	})
}

// MARKERS

func (s *Store) CreateMarker(_ context.Context, m *mapdata.Marker) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	return s.fanout.Ordered(func() (store.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.maps[m.MapID]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		rec.markers[m.ID] = *m
		return store.Event{MapID: m.MapID, Kind: mapdata.KindMarker, Action: mapdata.ActionCreate, ObjectID: m.ID, Marker: m}, nil
	})
}

func (s *Store) GetMarker(_ context.Context, mapID, id string) (mapdata.Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.maps[mapID]
	if !ok {
		return mapdata.Marker{}, store.ErrNotFound
	}
	m, ok := rec.markers[id]
	if !ok {
		return mapdata.Marker{}, store.ErrNotFound
	}
	return m, nil
}

func (s *Store) UpdateMarker(_ context.Context, m mapdata.Marker) error {
	return s.fanout.Ordered(func() (store.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.maps[m.MapID]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		if _, ok := rec.markers[m.ID]; !ok {
			return store.Event{}, store.ErrNotFound
		}
		rec.markers[m.ID] = m
		return store.Event{MapID: m.MapID, Kind: mapdata.KindMarker, Action: mapdata.ActionUpdate, ObjectID: m.ID, Marker: &m}, nil
	})
}

func (s *Store) DeleteMarker(_ context.Context, mapID, id string) error {
	return s.fanout.Ordered(func() (store.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.maps[mapID]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		if _, ok := rec.markers[id]; !ok {
			return store.Event{}, store.ErrNotFound
		}
		delete(rec.markers, id)
		return store.Event{MapID: mapID, Kind: mapdata.KindMarker, Action: mapdata.ActionDelete, ObjectID: id}, nil
	})
}

func (s *Store) MarkersInBbox(_ context.Context, mapID string, bbox mapdata.Bbox, except *mapdata.Bbox) ([]mapdata.Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.maps[mapID]
	if !ok {
		return nil, store.ErrNotFound
	}

	var out []mapdata.Marker
	for _, m := range rec.markers {
		if geo.MatchesQuery(mapdata.Point{Lat: m.Lat, Lon: m.Lon}, bbox, except) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) MarkersForMap(_ context.Context, mapID string) ([]mapdata.Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.maps[mapID]
	if !ok {
		return nil, store.ErrNotFound
	}

	out := make([]mapdata.Marker, 0, len(rec.markers))
	for _, m := range rec.markers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LINES

func (s *Store) CreateLine(_ context.Context, l *mapdata.Line) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	stored := *l
	stored.TrackPoints = nil

	return s.fanout.Ordered(func() (store.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.maps[l.MapID]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		rec.lines[l.ID] = &lineRecord{line: stored}
		return store.Event{MapID: l.MapID, Kind: mapdata.KindLine, Action: mapdata.ActionCreate, ObjectID: l.ID, Line: &stored}, nil
	})
}

func (s *Store) GetLine(_ context.Context, mapID, id string) (mapdata.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.maps[mapID]
	if !ok {
		return mapdata.Line{}, store.ErrNotFound
	}
	lr, ok := rec.lines[id]
	if !ok {
		return mapdata.Line{}, store.ErrNotFound
	}
	return lr.line, nil
}

func (s *Store) UpdateLine(_ context.Context, l mapdata.Line) error {
	l.TrackPoints = nil

	return s.fanout.Ordered(func() (store.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.maps[l.MapID]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		lr, ok := rec.lines[l.ID]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		lr.line = l
		return store.Event{MapID: l.MapID, Kind: mapdata.KindLine, Action: mapdata.ActionUpdate, ObjectID: l.ID, Line: &l}, nil
	})
}

func (s *Store) DeleteLine(_ context.Context, mapID, id string) error {
	return s.fanout.Ordered(func() (store.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.maps[mapID]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		if _, ok := rec.lines[id]; !ok {
			return store.Event{}, store.ErrNotFound
		}
		delete(rec.lines, id)
		return store.Event{MapID: mapID, Kind: mapdata.KindLine, Action: mapdata.ActionDelete, ObjectID: id}, nil
	})
}

func (s *Store) LinesForMap(_ context.Context, mapID string) ([]mapdata.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.maps[mapID]
	if !ok {
		return nil, store.ErrNotFound
	}

	out := make([]mapdata.Line, 0, len(rec.lines))
	for _, lr := range rec.lines {
		out = append(out, lr.line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetLinePoints(_ context.Context, mapID, lineID string, points []mapdata.TrackPoint) error {
	return s.fanout.Ordered(func() (store.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.maps[mapID]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		lr, ok := rec.lines[lineID]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		lr.points = points
		return store.Event{MapID: mapID, Kind: mapdata.KindLine, Action: mapdata.ActionUpdate, ObjectID: lineID, LinePoints: points}, nil
	})
}

func (s *Store) LinePoints(_ context.Context, mapID, lineID string) ([]mapdata.TrackPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.maps[mapID]
	if !ok {
		return nil, store.ErrNotFound
	}
	lr, ok := rec.lines[lineID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return lr.points, nil
}

func (s *Store) LinePointsInRanges(_ context.Context, mapID, lineID string, ranges []track.IndexRange) ([]mapdata.TrackPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.maps[mapID]
	if !ok {
		return nil, store.ErrNotFound
	}
	lr, ok := rec.lines[lineID]
	if !ok {
		return nil, store.ErrNotFound
	}

	var out []mapdata.TrackPoint
	for _, r := range ranges {
		for _, p := range lr.points {
			if p.Idx >= r.Start && p.Idx <= r.End {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// TYPES

func (s *Store) CreateType(_ context.Context, t *mapdata.Type) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	return s.fanout.Ordered(func() (store.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.maps[t.MapID]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		rec.types[t.ID] = *t
		return store.Event{MapID: t.MapID, Kind: mapdata.KindType, Action: mapdata.ActionCreate, ObjectID: t.ID, Type: t}, nil
	})
}

func (s *Store) GetType(_ context.Context, mapID, id string) (mapdata.Type, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.maps[mapID]
	if !ok {
		return mapdata.Type{}, store.ErrNotFound
	}
	t, ok := rec.types[id]
	if !ok {
		return mapdata.Type{}, store.ErrNotFound
	}
	return t, nil
}

func (s *Store) UpdateType(_ context.Context, t mapdata.Type) error {
	return s.fanout.Ordered(func() (store.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.maps[t.MapID]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		if _, ok := rec.types[t.ID]; !ok {
			return store.Event{}, store.ErrNotFound
		}
		rec.types[t.ID] = t
		return store.Event{MapID: t.MapID, Kind: mapdata.KindType, Action: mapdata.ActionUpdate, ObjectID: t.ID, Type: &t}, nil
	})
}

func (s *Store) DeleteType(_ context.Context, mapID, id string) error {
	return s.fanout.Ordered(func() (store.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.maps[mapID]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		if _, ok := rec.types[id]; !ok {
			return store.Event{}, store.ErrNotFound
		}
		delete(rec.types, id)
		return store.Event{MapID: mapID, Kind: mapdata.KindType, Action: mapdata.ActionDelete, ObjectID: id}, nil
	})
}

func (s *Store) TypesForMap(_ context.Context, mapID string) ([]mapdata.Type, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.maps[mapID]
	if !ok {
		return nil, store.ErrNotFound
	}

	out := make([]mapdata.Type, 0, len(rec.types))
	for _, t := range rec.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// VIEWS

func (s *Store) CreateView(_ context.Context, v *mapdata.View) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}

	return s.fanout.Ordered(func() (store.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.maps[v.MapID]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		rec.views[v.ID] = *v
		return store.Event{MapID: v.MapID, Kind: mapdata.KindView, Action: mapdata.ActionCreate, ObjectID: v.ID, View: v}, nil
	})
}

func (s *Store) GetView(_ context.Context, mapID, id string) (mapdata.View, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.maps[mapID]
	if !ok {
		return mapdata.View{}, store.ErrNotFound
	}
	v, ok := rec.views[id]
	if !ok {
		return mapdata.View{}, store.ErrNotFound
	}
	return v, nil
}

func (s *Store) UpdateView(_ context.Context, v mapdata.View) error {
	return s.fanout.Ordered(func() (store.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.maps[v.MapID]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		if _, ok := rec.views[v.ID]; !ok {
			return store.Event{}, store.ErrNotFound
		}
		rec.views[v.ID] = v
		return store.Event{MapID: v.MapID, Kind: mapdata.KindView, Action: mapdata.ActionUpdate, ObjectID: v.ID, View: &v}, nil
	})
}

func (s *Store) DeleteView(_ context.Context, mapID, id string) error {
	return s.fanout.Ordered(func() (store.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.maps[mapID]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		if _, ok := rec.views[id]; !ok {
			return store.Event{}, store.ErrNotFound
		}
		delete(rec.views, id)
		return store.Event{MapID: mapID, Kind: mapdata.KindView, Action: mapdata.ActionDelete, ObjectID: id}, nil
	})
}

func (s *Store) ViewsForMap(_ context.Context, mapID string) ([]mapdata.View, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.maps[mapID]
	if !ok {
		return nil, store.ErrNotFound
	}

	out := make([]mapdata.View, 0, len(rec.views))
	for _, v := range rec.views {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// HISTORY

func (s *Store) AppendHistory(_ context.Context, e *mapdata.HistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	return s.fanout.Ordered(func() (store.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.maps[e.MapID]
		if !ok {
			return store.Event{}, store.ErrNotFound
		}
		rec.history = append(rec.history, *e)
		return store.Event{MapID: e.MapID, Kind: e.Kind, Action: e.Action, ObjectID: e.ObjectID, History: e}, nil
	})
}

func (s *Store) TrimHistory(_ context.Context, mapID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.maps[mapID]
	if !ok {
		return store.ErrNotFound
	}
	if excess := len(rec.history) - keep; excess > 0 {
		rec.history = append(rec.history[:0:0], rec.history[excess:]...)
	}
	return nil
}

func (s *Store) HistoryForMap(_ context.Context, mapID string) ([]mapdata.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.maps[mapID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]mapdata.HistoryEntry, len(rec.history))
	copy(out, rec.history)
	return out, nil
}

func (s *Store) GetHistoryEntry(_ context.Context, mapID, id string) (mapdata.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.maps[mapID]
	if !ok {
		return mapdata.HistoryEntry{}, store.ErrNotFound
	}
	for _, e := range rec.history {
		if e.ID == id {
			return e, nil
		}
	}
	return mapdata.HistoryEntry{}, store.ErrNotFound
}

func (s *Store) RewriteHistoryObjectID(_ context.Context, mapID string, kind mapdata.ObjectKind, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.maps[mapID]
	if !ok {
		return store.ErrNotFound
	}
	for i := range rec.history {
		if rec.history[i].Kind == kind && rec.history[i].ObjectID == oldID {
			rec.history[i].ObjectID = newID
		}
	}
	return nil
}
