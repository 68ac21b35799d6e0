// Package gormstore persists map data through gorm, Postgres in
// production with the SQLite fallback for standalone servers. Rendered
// line geometry is mirrored as EPSG:3857 WKB next to the indexed point
// rows.
package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/chartwork/mapsync/internal/cache"
	"github.com/chartwork/mapsync/internal/geo"
	"github.com/chartwork/mapsync/internal/store"
	"github.com/chartwork/mapsync/internal/track"
	"github.com/chartwork/mapsync/pkg/mapdata"
)

// Store is the gorm-backed store.Store implementation.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger

	slugs    *cache.SlugCache
	lineRows *cache.RowCache

	fanout *store.Fanout
}

// New creates a store on an open gorm connection.
func New(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:       db,
		logger:   logger,
		slugs:    cache.NewSlugCache(),
		lineRows: cache.NewRowCache(),
		fanout:   store.NewFanout(),
	}
}

// Init migrates the schema.
func (s *Store) Init() error {
	return s.db.AutoMigrate(DatabaseModels...)
}

// Close implements store.Store. The connection is owned by the database
// manager.
func (s *Store) Close() error {
	s.slugs.Reset()
	s.lineRows.Reset()
	return nil
}

// Subscribe registers a mutation handler for one map.
func (s *Store) Subscribe(mapID string, h store.Handler) store.Unsubscribe {
	return s.fanout.Subscribe(mapID, h)
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrSlugTaken
	}
	return err
}

// MAPS

func (s *Store) CreateMap(ctx context.Context, m *mapdata.Map) error {
	store.FillSlugs(m)
	if !store.SlugsDistinct(*m) {
		return store.ErrSlugTaken
	}

	var taken int64
	err := s.db.WithContext(ctx).Model(&MapRow{}).
		Where("slug IN ? OR write_slug IN ? OR admin_slug IN ?",
			[]string{m.ID, m.WriteID, m.AdminID},
			[]string{m.ID, m.WriteID, m.AdminID},
			[]string{m.ID, m.WriteID, m.AdminID},
		).Count(&taken).Error
	if err != nil {
		return translate(err)
	}
	if taken > 0 {
		return store.ErrSlugTaken
	}

	row := mapToRow(*m)
	return s.fanout.Ordered(func() (store.Event, error) {
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return store.Event{}, translate(err)
		}
		return store.Event{MapID: m.ID, Kind: mapdata.KindMap, Action: mapdata.ActionCreate, ObjectID: m.ID, Map: m}, nil
	})
}

func (s *Store) GetMap(ctx context.Context, id string) (mapdata.Map, error) {
	var row MapRow
	err := s.db.WithContext(ctx).Where("slug = ?", id).First(&row).Error
	if err != nil {
		return mapdata.Map{}, translate(err)
	}
	return rowToMap(row), nil
}

func (s *Store) ResolveSlug(ctx context.Context, slug string) (mapdata.Map, mapdata.Tier, error) {
	if e, ok := s.slugs.Get(slug); ok {
		m, err := s.GetMap(ctx, e.MapID)
		if err != nil {
			return mapdata.Map{}, 0, err
		}
		return m, e.Tier, nil
	}

	var row MapRow
	err := s.db.WithContext(ctx).
		Where("slug = ? OR write_slug = ? OR admin_slug = ?", slug, slug, slug).
		First(&row).Error
	if err != nil {
		return mapdata.Map{}, 0, translate(err)
	}

	// admin wins over write wins over read
	tier := mapdata.TierRead
	switch slug {
	case row.AdminSlug:
		tier = mapdata.TierAdmin
	case row.WriteSlug:
		tier = mapdata.TierWrite
	}

	s.slugs.Add(slug, cache.SlugEntry{MapID: row.Slug, Tier: tier})
	return rowToMap(row), tier, nil
}

func (s *Store) UpdateMap(ctx context.Context, m mapdata.Map) error {
	var row MapRow
	err := s.db.WithContext(ctx).Where("slug = ?", m.ID).First(&row).Error
	if err != nil {
		return translate(err)
	}

	if m.WriteID == "" {
		m.WriteID = row.WriteSlug
	}
	if m.AdminID == "" {
		m.AdminID = row.AdminSlug
	}
	if !store.SlugsDistinct(m) {
		return store.ErrSlugTaken
	}

	var taken int64
	err = s.db.WithContext(ctx).Model(&MapRow{}).
		Where("slug != ?", m.ID).
		Where("slug IN ? OR write_slug IN ? OR admin_slug IN ?",
			[]string{m.WriteID, m.AdminID},
			[]string{m.WriteID, m.AdminID},
			[]string{m.WriteID, m.AdminID},
		).Count(&taken).Error
	if err != nil {
		return translate(err)
	}
	if taken > 0 {
		return store.ErrSlugTaken
	}

	next := mapToRow(m)
	next.Model = row.Model
	return s.fanout.Ordered(func() (store.Event, error) {
		if err := s.db.WithContext(ctx).Save(&next).Error; err != nil {
			return store.Event{}, translate(err)
		}
		s.slugs.InvalidateMap(m.ID)
		return store.Event{MapID: m.ID, Kind: mapdata.KindMap, Action: mapdata.ActionUpdate, ObjectID: m.ID, Map: &m}, nil
	})
}

func (s *Store) DeleteMap(ctx context.Context, id string) error {
	var row MapRow
	err := s.db.WithContext(ctx).Where("slug = ?", id).First(&row).Error
	if err != nil {
		return translate(err)
	}

	return s.fanout.Ordered(func() (store.Event, error) {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, model := range []any{&MarkerRow{}, &LineRow{}, &LinePointRow{}, &TypeRow{}, &ViewRow{}, &HistoryRow{}} {
				if err := tx.Unscoped().Where("map_slug = ?", id).Delete(model).Error; err != nil {
					return err
				}
			}
			return tx.Unscoped().Delete(&row).Error
		})
		if err != nil {
			return store.Event{}, translate(err)
		}
		s.slugs.InvalidateMap(id)
		return store.Event{MapID: id, Kind: mapdata.KindMap, Action: mapdata.ActionDelete, ObjectID: id}, nil
	})
}

// requireMap verifies the map exists before attaching objects to it.
func (s *Store) requireMap(ctx context.Context, id string) error {
	var n int64
	err := s.db.WithContext(ctx).Model(&MapRow{}).Where("slug = ?", id).Count(&n).Error
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// MARKERS

func (s *Store) CreateMarker(ctx context.Context, m *mapdata.Marker) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := s.requireMap(ctx, m.MapID); err != nil {
		return err
	}

	row, err := markerToRow(*m)
	if err != nil {
		return err
	}
	return s.fanout.Ordered(func() (store.Event, error) {
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return store.Event{}, translate(err)
		}
		return store.Event{MapID: m.MapID, Kind: mapdata.KindMarker, Action: mapdata.ActionCreate, ObjectID: m.ID, Marker: m}, nil
	})
}

func (s *Store) GetMarker(ctx context.Context, mapID, id string) (mapdata.Marker, error) {
	var row MarkerRow
	err := s.db.WithContext(ctx).Where("map_slug = ? AND object_id = ?", mapID, id).First(&row).Error
	if err != nil {
		return mapdata.Marker{}, translate(err)
	}
	return rowToMarker(row), nil
}

func (s *Store) UpdateMarker(ctx context.Context, m mapdata.Marker) error {
	var row MarkerRow
	err := s.db.WithContext(ctx).Where("map_slug = ? AND object_id = ?", m.MapID, m.ID).First(&row).Error
	if err != nil {
		return translate(err)
	}

	next, err := markerToRow(m)
	if err != nil {
		return err
	}
	next.Model = row.Model
	return s.fanout.Ordered(func() (store.Event, error) {
		if err := s.db.WithContext(ctx).Save(&next).Error; err != nil {
			return store.Event{}, translate(err)
		}
		return store.Event{MapID: m.MapID, Kind: mapdata.KindMarker, Action: mapdata.ActionUpdate, ObjectID: m.ID, Marker: &m}, nil
	})
}

func (s *Store) DeleteMarker(ctx context.Context, mapID, id string) error {
	return s.fanout.Ordered(func() (store.Event, error) {
		res := s.db.WithContext(ctx).Unscoped().
			Where("map_slug = ? AND object_id = ?", mapID, id).
			Delete(&MarkerRow{})
		if res.Error != nil {
			return store.Event{}, translate(res.Error)
		}
		if res.RowsAffected == 0 {
			return store.Event{}, store.ErrNotFound
		}
		return store.Event{MapID: mapID, Kind: mapdata.KindMarker, Action: mapdata.ActionDelete, ObjectID: id}, nil
	})
}

func (s *Store) MarkersInBbox(ctx context.Context, mapID string, bbox mapdata.Bbox, except *mapdata.Bbox) ([]mapdata.Marker, error) {
	if err := s.requireMap(ctx, mapID); err != nil {
		return nil, err
	}

	// Coarse latitude band in SQL; longitude wrap and the except clause
	// are resolved in Go.
	var rows []MarkerRow
	err := s.db.WithContext(ctx).
		Where("map_slug = ? AND lat <= ? AND lat >= ?", mapID, bbox.Top, bbox.Bottom).
		Order("object_id").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}

	var out []mapdata.Marker
	for _, r := range rows {
		if geo.MatchesQuery(mapdata.Point{Lat: r.Lat, Lon: r.Lon}, bbox, except) {
			out = append(out, rowToMarker(r))
		}
	}
	return out, nil
}

func (s *Store) MarkersForMap(ctx context.Context, mapID string) ([]mapdata.Marker, error) {
	if err := s.requireMap(ctx, mapID); err != nil {
		return nil, err
	}

	var rows []MarkerRow
	err := s.db.WithContext(ctx).Where("map_slug = ?", mapID).Order("object_id").Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}

	out := make([]mapdata.Marker, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToMarker(r))
	}
	return out, nil
}

// LINES

func (s *Store) CreateLine(ctx context.Context, l *mapdata.Line) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if err := s.requireMap(ctx, l.MapID); err != nil {
		return err
	}

	stored := *l
	stored.TrackPoints = nil

	row := lineToRow(stored)
	return s.fanout.Ordered(func() (store.Event, error) {
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return store.Event{}, translate(err)
		}
		s.lineRows.Set(l.ID, row.ID)
		return store.Event{MapID: l.MapID, Kind: mapdata.KindLine, Action: mapdata.ActionCreate, ObjectID: l.ID, Line: &stored}, nil
	})
}

func (s *Store) lineRow(ctx context.Context, mapID, id string) (LineRow, error) {
	var row LineRow
	q := s.db.WithContext(ctx)
	if rowID, ok := s.lineRows.Get(id); ok {
		if err := q.First(&row, rowID).Error; err == nil && row.MapSlug == mapID {
			return row, nil
		}
		s.lineRows.Delete(id)
	}
	err := q.Where("map_slug = ? AND object_id = ?", mapID, id).First(&row).Error
	if err != nil {
		return LineRow{}, translate(err)
	}
	s.lineRows.Set(id, row.ID)
	return row, nil
}

func (s *Store) GetLine(ctx context.Context, mapID, id string) (mapdata.Line, error) {
	row, err := s.lineRow(ctx, mapID, id)
	if err != nil {
		return mapdata.Line{}, err
	}
	return rowToLine(row), nil
}

func (s *Store) UpdateLine(ctx context.Context, l mapdata.Line) error {
	l.TrackPoints = nil

	row, err := s.lineRow(ctx, l.MapID, l.ID)
	if err != nil {
		return err
	}

	next := lineToRow(l)
	next.Model = row.Model
	next.Geom = row.Geom
	return s.fanout.Ordered(func() (store.Event, error) {
		if err := s.db.WithContext(ctx).Save(&next).Error; err != nil {
			return store.Event{}, translate(err)
		}
		return store.Event{MapID: l.MapID, Kind: mapdata.KindLine, Action: mapdata.ActionUpdate, ObjectID: l.ID, Line: &l}, nil
	})
}

func (s *Store) DeleteLine(ctx context.Context, mapID, id string) error {
	row, err := s.lineRow(ctx, mapID, id)
	if err != nil {
		return err
	}

	return s.fanout.Ordered(func() (store.Event, error) {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Unscoped().Where("line_id = ?", id).Delete(&LinePointRow{}).Error; err != nil {
				return err
			}
			return tx.Unscoped().Delete(&row).Error
		})
		if err != nil {
			return store.Event{}, translate(err)
		}
		s.lineRows.Delete(id)
		return store.Event{MapID: mapID, Kind: mapdata.KindLine, Action: mapdata.ActionDelete, ObjectID: id}, nil
	})
}

func (s *Store) LinesForMap(ctx context.Context, mapID string) ([]mapdata.Line, error) {
	if err := s.requireMap(ctx, mapID); err != nil {
		return nil, err
	}

	var rows []LineRow
	err := s.db.WithContext(ctx).Where("map_slug = ?", mapID).Order("object_id").Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}

	out := make([]mapdata.Line, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToLine(r))
	}
	return out, nil
}

func (s *Store) SetLinePoints(ctx context.Context, mapID, lineID string, points []mapdata.TrackPoint) error {
	row, err := s.lineRow(ctx, mapID, lineID)
	if err != nil {
		return err
	}

	return s.fanout.Ordered(func() (store.Event, error) {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Unscoped().Where("line_id = ?", lineID).Delete(&LinePointRow{}).Error; err != nil {
				return err
			}
			if len(points) > 0 {
				rows := trackToPointRows(mapID, lineID, points)
				if err := tx.Create(&rows).Error; err != nil {
					return err
				}
			}
			geom, err := geo.LineString3857From4326(points)
			if err != nil {
				return err
			}
			return tx.Model(&LineRow{}).Where("id = ?", row.ID).Update("geom", geom.AsBinary()).Error
		})
		if err != nil {
			return store.Event{}, translate(err)
		}
		return store.Event{MapID: mapID, Kind: mapdata.KindLine, Action: mapdata.ActionUpdate, ObjectID: lineID, LinePoints: points}, nil
	})
}

func (s *Store) LinePoints(ctx context.Context, mapID, lineID string) ([]mapdata.TrackPoint, error) {
	if _, err := s.lineRow(ctx, mapID, lineID); err != nil {
		return nil, err
	}

	var rows []LinePointRow
	err := s.db.WithContext(ctx).Where("line_id = ?", lineID).Order("idx").Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	return pointRowsToTrack(rows), nil
}

func (s *Store) LinePointsInRanges(ctx context.Context, mapID, lineID string, ranges []track.IndexRange) ([]mapdata.TrackPoint, error) {
	if _, err := s.lineRow(ctx, mapID, lineID); err != nil {
		return nil, err
	}

	var out []mapdata.TrackPoint
	for _, r := range ranges {
		var rows []LinePointRow
		err := s.db.WithContext(ctx).
			Where("line_id = ? AND idx BETWEEN ? AND ?", lineID, r.Start, r.End).
			Order("idx").
			Find(&rows).Error
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, pointRowsToTrack(rows)...)
	}
	return out, nil
}

// TYPES

func (s *Store) CreateType(ctx context.Context, t *mapdata.Type) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := s.requireMap(ctx, t.MapID); err != nil {
		return err
	}

	row := typeToRow(*t)
	return s.fanout.Ordered(func() (store.Event, error) {
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return store.Event{}, translate(err)
		}
		return store.Event{MapID: t.MapID, Kind: mapdata.KindType, Action: mapdata.ActionCreate, ObjectID: t.ID, Type: t}, nil
	})
}

func (s *Store) GetType(ctx context.Context, mapID, id string) (mapdata.Type, error) {
	var row TypeRow
	err := s.db.WithContext(ctx).Where("map_slug = ? AND object_id = ?", mapID, id).First(&row).Error
	if err != nil {
		return mapdata.Type{}, translate(err)
	}
	return rowToType(row), nil
}

func (s *Store) UpdateType(ctx context.Context, t mapdata.Type) error {
	var row TypeRow
	err := s.db.WithContext(ctx).Where("map_slug = ? AND object_id = ?", t.MapID, t.ID).First(&row).Error
	if err != nil {
		return translate(err)
	}

	next := typeToRow(t)
	next.Model = row.Model
	return s.fanout.Ordered(func() (store.Event, error) {
		if err := s.db.WithContext(ctx).Save(&next).Error; err != nil {
			return store.Event{}, translate(err)
		}
		return store.Event{MapID: t.MapID, Kind: mapdata.KindType, Action: mapdata.ActionUpdate, ObjectID: t.ID, Type: &t}, nil
	})
}

func (s *Store) DeleteType(ctx context.Context, mapID, id string) error {
	return s.fanout.Ordered(func() (store.Event, error) {
		res := s.db.WithContext(ctx).Unscoped().
			Where("map_slug = ? AND object_id = ?", mapID, id).
			Delete(&TypeRow{})
		if res.Error != nil {
			return store.Event{}, translate(res.Error)
		}
		if res.RowsAffected == 0 {
			return store.Event{}, store.ErrNotFound
		}
		return store.Event{MapID: mapID, Kind: mapdata.KindType, Action: mapdata.ActionDelete, ObjectID: id}, nil
	})
}

func (s *Store) TypesForMap(ctx context.Context, mapID string) ([]mapdata.Type, error) {
	if err := s.requireMap(ctx, mapID); err != nil {
		return nil, err
	}

	var rows []TypeRow
	err := s.db.WithContext(ctx).Where("map_slug = ?", mapID).Order("object_id").Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}

	out := make([]mapdata.Type, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToType(r))
	}
	return out, nil
}

// VIEWS

func (s *Store) CreateView(ctx context.Context, v *mapdata.View) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if err := s.requireMap(ctx, v.MapID); err != nil {
		return err
	}

	row := viewToRow(*v)
	return s.fanout.Ordered(func() (store.Event, error) {
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return store.Event{}, translate(err)
		}
		return store.Event{MapID: v.MapID, Kind: mapdata.KindView, Action: mapdata.ActionCreate, ObjectID: v.ID, View: v}, nil
	})
}

func (s *Store) GetView(ctx context.Context, mapID, id string) (mapdata.View, error) {
	var row ViewRow
	err := s.db.WithContext(ctx).Where("map_slug = ? AND object_id = ?", mapID, id).First(&row).Error
	if err != nil {
		return mapdata.View{}, translate(err)
	}
	return rowToView(row), nil
}

func (s *Store) UpdateView(ctx context.Context, v mapdata.View) error {
	var row ViewRow
	err := s.db.WithContext(ctx).Where("map_slug = ? AND object_id = ?", v.MapID, v.ID).First(&row).Error
	if err != nil {
		return translate(err)
	}

	next := viewToRow(v)
	next.Model = row.Model
	return s.fanout.Ordered(func() (store.Event, error) {
		if err := s.db.WithContext(ctx).Save(&next).Error; err != nil {
			return store.Event{}, translate(err)
		}
		return store.Event{MapID: v.MapID, Kind: mapdata.KindView, Action: mapdata.ActionUpdate, ObjectID: v.ID, View: &v}, nil
	})
}

func (s *Store) DeleteView(ctx context.Context, mapID, id string) error {
	return s.fanout.Ordered(func() (store.Event, error) {
		res := s.db.WithContext(ctx).Unscoped().
			Where("map_slug = ? AND object_id = ?", mapID, id).
			Delete(&ViewRow{})
		if res.Error != nil {
			return store.Event{}, translate(res.Error)
		}
		if res.RowsAffected == 0 {
			return store.Event{}, store.ErrNotFound
		}
		return store.Event{MapID: mapID, Kind: mapdata.KindView, Action: mapdata.ActionDelete, ObjectID: id}, nil
	})
}

func (s *Store) ViewsForMap(ctx context.Context, mapID string) ([]mapdata.View, error) {
	if err := s.requireMap(ctx, mapID); err != nil {
		return nil, err
	}

	var rows []ViewRow
	err := s.db.WithContext(ctx).Where("map_slug = ?", mapID).Order("object_id").Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}

	out := make([]mapdata.View, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToView(r))
	}
	return out, nil
}

// HISTORY

func (s *Store) AppendHistory(ctx context.Context, e *mapdata.HistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if err := s.requireMap(ctx, e.MapID); err != nil {
		return err
	}

	row := historyToRow(*e)
	return s.fanout.Ordered(func() (store.Event, error) {
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return store.Event{}, translate(err)
		}
		return store.Event{MapID: e.MapID, Kind: e.Kind, Action: e.Action, ObjectID: e.ObjectID, History: e}, nil
	})
}

func (s *Store) TrimHistory(ctx context.Context, mapID string, keep int) error {
	if err := s.requireMap(ctx, mapID); err != nil {
		return err
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&HistoryRow{}).Where("map_slug = ?", mapID).Count(&count).Error
	if err != nil {
		return translate(err)
	}
	excess := count - int64(keep)
	if excess <= 0 {
		return nil
	}

	var victims []uint
	err = s.db.WithContext(ctx).Model(&HistoryRow{}).
		Where("map_slug = ?", mapID).
		Order("id").
		Limit(int(excess)).
		Pluck("id", &victims).Error
	if err != nil {
		return translate(err)
	}
	return translate(s.db.WithContext(ctx).Delete(&HistoryRow{}, victims).Error)
}

func (s *Store) HistoryForMap(ctx context.Context, mapID string) ([]mapdata.HistoryEntry, error) {
	if err := s.requireMap(ctx, mapID); err != nil {
		return nil, err
	}

	var rows []HistoryRow
	err := s.db.WithContext(ctx).Where("map_slug = ?", mapID).Order("id").Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}

	out := make([]mapdata.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToHistory(r))
	}
	return out, nil
}

func (s *Store) GetHistoryEntry(ctx context.Context, mapID, id string) (mapdata.HistoryEntry, error) {
	var row HistoryRow
	err := s.db.WithContext(ctx).Where("map_slug = ? AND entry_id = ?", mapID, id).First(&row).Error
	if err != nil {
		return mapdata.HistoryEntry{}, translate(err)
	}
	return rowToHistory(row), nil
}

func (s *Store) RewriteHistoryObjectID(ctx context.Context, mapID string, kind mapdata.ObjectKind, oldID, newID string) error {
	err := s.db.WithContext(ctx).Model(&HistoryRow{}).
		Where("map_slug = ? AND kind = ? AND object_id = ?", mapID, string(kind), oldID).
		Update("object_id", newID).Error
	return translate(err)
}
