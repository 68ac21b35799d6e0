// Package history implements the append-only change ledger: bounded
// retention per map and the revert semantics for every entry kind.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/chartwork/mapsync/internal/store"
	"github.com/chartwork/mapsync/internal/wire"
	"github.com/chartwork/mapsync/pkg/mapdata"
)

// DefaultRetention is the number of most-recent entries kept per map.
const DefaultRetention = 50

// Log records mutations and reverts them. It is a thin layer over the
// store's history primitives; the bounded ring buffer is implemented as
// insert-then-trim rather than a fixed-size structure.
type Log struct {
	store     store.Store
	retention int
}

// New creates a history log. A non-positive retention selects
// DefaultRetention.
func New(st store.Store, retention int) *Log {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Log{store: st, retention: retention}
}

// Record appends one entry and trims the map's ledger to the retention
// bound. Before and After are marshalled snapshots of the object around
// the mutation; pass nil where the action has no corresponding state.
func (l *Log) Record(ctx context.Context, mapID string, kind mapdata.ObjectKind, action mapdata.HistoryAction, objectID string, before, after any) error {
	entry := mapdata.HistoryEntry{
		MapID:    mapID,
		Kind:     kind,
		Action:   action,
		ObjectID: objectID,
	}

	var err error
	if before != nil {
		entry.Before, err = wire.Marshal(before)
		if err != nil {
			return fmt.Errorf("marshal before snapshot: %w", err)
		}
	}
	if after != nil {
		entry.After, err = wire.Marshal(after)
		if err != nil {
			return fmt.Errorf("marshal after snapshot: %w", err)
		}
	}

	if err := l.store.AppendHistory(ctx, &entry); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return l.store.TrimHistory(ctx, mapID, l.retention)
}

// Entries returns the entries of a map visible to the given tier,
// oldest first.
func (l *Log) Entries(ctx context.Context, mapID string, tier mapdata.Tier) ([]mapdata.HistoryEntry, error) {
	all, err := l.store.HistoryForMap(ctx, mapID)
	if err != nil {
		return nil, err
	}
	out := make([]mapdata.HistoryEntry, 0, len(all))
	for _, e := range all {
		if e.VisibleTo(tier) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Revert undoes the mutation recorded by one entry. Reverting a create
// deletes the object (a no-op when it is already gone); reverting an
// update restores the before snapshot in full; reverting a delete
// recreates the object and, since the store assigns it a new identity,
// rewrites every history entry referencing the old one so later reverts
// stay addressable. Map entries restore metadata fields only. The
// caller's tier must reach the entry's revert tier.
func (l *Log) Revert(ctx context.Context, mapID, entryID string, tier mapdata.Tier) error {
	entry, err := l.store.GetHistoryEntry(ctx, mapID, entryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return wire.NewNotFoundError("history entry %s not found", entryID)
		}
		return err
	}
	if tier < entry.RevertTier() {
		return wire.NewPermissionError("reverting a %s entry requires %s access", entry.Kind, entry.RevertTier())
	}

	switch entry.Action {
	case mapdata.ActionCreate:
		return l.revertCreate(ctx, entry)
	case mapdata.ActionUpdate:
		return l.revertUpdate(ctx, entry)
	case mapdata.ActionDelete:
		return l.revertDelete(ctx, entry)
	default:
		return fmt.Errorf("unknown history action %q", entry.Action)
	}
}

// revertCreate deletes the created object if it still exists.
func (l *Log) revertCreate(ctx context.Context, entry mapdata.HistoryEntry) error {
	var err error
	switch entry.Kind {
	case mapdata.KindMarker:
		err = l.store.DeleteMarker(ctx, entry.MapID, entry.ObjectID)
	case mapdata.KindLine:
		err = l.store.DeleteLine(ctx, entry.MapID, entry.ObjectID)
	case mapdata.KindType:
		err = l.store.DeleteType(ctx, entry.MapID, entry.ObjectID)
	case mapdata.KindView:
		err = l.store.DeleteView(ctx, entry.MapID, entry.ObjectID)
	case mapdata.KindMap:
		return wire.NewValidationError("cannot revert map creation")
	default:
		return fmt.Errorf("unknown history kind %q", entry.Kind)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return l.Record(ctx, entry.MapID, entry.Kind, mapdata.ActionDelete, entry.ObjectID, entry.After, nil)
}

// revertUpdate overwrites the object's current fields with the before
// snapshot in full.
func (l *Log) revertUpdate(ctx context.Context, entry mapdata.HistoryEntry) error {
	switch entry.Kind {
	case mapdata.KindMarker:
		var m mapdata.Marker
		if err := wire.Unmarshal(entry.Before, &m); err != nil {
			return fmt.Errorf("decode marker snapshot: %w", err)
		}
		m.MapID = entry.MapID
		m.ID = entry.ObjectID
		current, err := l.store.GetMarker(ctx, entry.MapID, entry.ObjectID)
		if err != nil {
			return err
		}
		if err := l.store.UpdateMarker(ctx, m); err != nil {
			return err
		}
		return l.Record(ctx, entry.MapID, entry.Kind, mapdata.ActionUpdate, entry.ObjectID, current, m)

	case mapdata.KindLine:
		var line mapdata.Line
		if err := wire.Unmarshal(entry.Before, &line); err != nil {
			return fmt.Errorf("decode line snapshot: %w", err)
		}
		line.MapID = entry.MapID
		line.ID = entry.ObjectID
		current, err := l.store.GetLine(ctx, entry.MapID, entry.ObjectID)
		if err != nil {
			return err
		}
		points := line.TrackPoints
		if err := l.store.UpdateLine(ctx, line); err != nil {
			return err
		}
		if points != nil {
			if err := l.store.SetLinePoints(ctx, entry.MapID, entry.ObjectID, points); err != nil {
				return err
			}
		}
		return l.Record(ctx, entry.MapID, entry.Kind, mapdata.ActionUpdate, entry.ObjectID, current, line)

	case mapdata.KindType:
		var typ mapdata.Type
		if err := wire.Unmarshal(entry.Before, &typ); err != nil {
			return fmt.Errorf("decode type snapshot: %w", err)
		}
		typ.MapID = entry.MapID
		typ.ID = entry.ObjectID
		current, err := l.store.GetType(ctx, entry.MapID, entry.ObjectID)
		if err != nil {
			return err
		}
		if err := l.store.UpdateType(ctx, typ); err != nil {
			return err
		}
		return l.Record(ctx, entry.MapID, entry.Kind, mapdata.ActionUpdate, entry.ObjectID, current, typ)

	case mapdata.KindView:
		var view mapdata.View
		if err := wire.Unmarshal(entry.Before, &view); err != nil {
			return fmt.Errorf("decode view snapshot: %w", err)
		}
		view.MapID = entry.MapID
		view.ID = entry.ObjectID
		current, err := l.store.GetView(ctx, entry.MapID, entry.ObjectID)
		if err != nil {
			return err
		}
		if err := l.store.UpdateView(ctx, view); err != nil {
			return err
		}
		return l.Record(ctx, entry.MapID, entry.Kind, mapdata.ActionUpdate, entry.ObjectID, current, view)

	case mapdata.KindMap:
		// Map entries revert metadata fields only; slugs and objects
		// stay untouched.
		var snapshot mapdata.Map
		if err := wire.Unmarshal(entry.Before, &snapshot); err != nil {
			return fmt.Errorf("decode map snapshot: %w", err)
		}
		current, err := l.store.GetMap(ctx, entry.MapID)
		if err != nil {
			return err
		}
		restored := current
		restored.Name = snapshot.Name
		restored.Description = snapshot.Description
		restored.DefaultView = snapshot.DefaultView
		if err := l.store.UpdateMap(ctx, restored); err != nil {
			return err
		}
		return l.Record(ctx, entry.MapID, entry.Kind, mapdata.ActionUpdate, entry.MapID, current, restored)

	default:
		return fmt.Errorf("unknown history kind %q", entry.Kind)
	}
}

// revertDelete recreates the object from the before snapshot. The store
// assigns a fresh identity, so all history entries referencing the old
// one are rewritten to the new id.
func (l *Log) revertDelete(ctx context.Context, entry mapdata.HistoryEntry) error {
	oldID := entry.ObjectID

	switch entry.Kind {
	case mapdata.KindMarker:
		var m mapdata.Marker
		if err := wire.Unmarshal(entry.Before, &m); err != nil {
			return fmt.Errorf("decode marker snapshot: %w", err)
		}
		m.ID = ""
		m.MapID = entry.MapID
		if err := l.store.CreateMarker(ctx, &m); err != nil {
			return err
		}
		if err := l.store.RewriteHistoryObjectID(ctx, entry.MapID, entry.Kind, oldID, m.ID); err != nil {
			return err
		}
		return l.Record(ctx, entry.MapID, entry.Kind, mapdata.ActionCreate, m.ID, nil, m)

	case mapdata.KindLine:
		var line mapdata.Line
		if err := wire.Unmarshal(entry.Before, &line); err != nil {
			return fmt.Errorf("decode line snapshot: %w", err)
		}
		line.ID = ""
		line.MapID = entry.MapID
		points := line.TrackPoints
		if err := l.store.CreateLine(ctx, &line); err != nil {
			return err
		}
		if points != nil {
			if err := l.store.SetLinePoints(ctx, entry.MapID, line.ID, points); err != nil {
				return err
			}
		}
		if err := l.store.RewriteHistoryObjectID(ctx, entry.MapID, entry.Kind, oldID, line.ID); err != nil {
			return err
		}
		return l.Record(ctx, entry.MapID, entry.Kind, mapdata.ActionCreate, line.ID, nil, line)

	case mapdata.KindType:
		var typ mapdata.Type
		if err := wire.Unmarshal(entry.Before, &typ); err != nil {
			return fmt.Errorf("decode type snapshot: %w", err)
		}
		typ.ID = ""
		typ.MapID = entry.MapID
		if err := l.store.CreateType(ctx, &typ); err != nil {
			return err
		}
		if err := l.store.RewriteHistoryObjectID(ctx, entry.MapID, entry.Kind, oldID, typ.ID); err != nil {
			return err
		}
		return l.Record(ctx, entry.MapID, entry.Kind, mapdata.ActionCreate, typ.ID, nil, typ)

	case mapdata.KindView:
		var view mapdata.View
		if err := wire.Unmarshal(entry.Before, &view); err != nil {
			return fmt.Errorf("decode view snapshot: %w", err)
		}
		view.ID = ""
		view.MapID = entry.MapID
		if err := l.store.CreateView(ctx, &view); err != nil {
			return err
		}
		if err := l.store.RewriteHistoryObjectID(ctx, entry.MapID, entry.Kind, oldID, view.ID); err != nil {
			return err
		}
		return l.Record(ctx, entry.MapID, entry.Kind, mapdata.ActionCreate, view.ID, nil, view)

	case mapdata.KindMap:
		return wire.NewValidationError("cannot revert map deletion")

	default:
		return fmt.Errorf("unknown history kind %q", entry.Kind)
	}
}
