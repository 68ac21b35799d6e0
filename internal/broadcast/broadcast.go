// Package broadcast fans store change events out to attached sessions,
// tailoring each event to the receiver: markers are filtered by the
// session's viewport, track points are re-windowed to it, map metadata
// is redacted to the session's tier, and history entries only reach
// sessions that listen for them and may see them.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/chartwork/mapsync/internal/geo"
	"github.com/chartwork/mapsync/internal/store"
	"github.com/chartwork/mapsync/internal/track"
	"github.com/chartwork/mapsync/internal/wire"
	"github.com/chartwork/mapsync/pkg/mapdata"
)

// Broadcaster distributes store events to subscribed sessions. It
// holds one store subscription per map with at least one session and
// drops it when the last session leaves.
type Broadcaster struct {
	store  store.Store
	logger *slog.Logger

	delivered   metric.Int64Counter
	filtered    metric.Int64Counter
	subscribers metric.Int64ObservableGauge

	mu     sync.Mutex
	maps   map[string]*mapFanout
	nextID int
}

type mapFanout struct {
	unsubscribe store.Unsubscribe
	subs        map[int]*Subscription
}

// New creates a broadcaster on top of the store. logger may be nil for
// slog.Default.
func New(st store.Store, logger *slog.Logger) (*Broadcaster, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broadcaster{
		store:  st,
		logger: logger,
		maps:   make(map[string]*mapFanout),
	}

	m := meter()
	var err error

	b.delivered, err = m.Int64Counter(
		"broadcast.events.delivered",
		metric.WithDescription("Events delivered to sessions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating delivered counter: %w", err)
	}

	b.filtered, err = m.Int64Counter(
		"broadcast.events.filtered",
		metric.WithDescription("Events withheld from sessions by viewport or tier"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating filtered counter: %w", err)
	}

	b.subscribers, err = m.Int64ObservableGauge(
		"broadcast.subscribers",
		metric.WithDescription("Sessions subscribed per map"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating subscribers gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			b.mu.Lock()
			defer b.mu.Unlock()
			for mapID, fan := range b.maps {
				o.ObserveInt64(b.subscribers, int64(len(fan.subs)),
					metric.WithAttributes(attribute.String("map", mapID)))
			}
			return nil
		},
		b.subscribers,
	)
	if err != nil {
		return nil, fmt.Errorf("registering subscribers callback: %w", err)
	}

	return b, nil
}

// Subscribe registers a session on a map. send must not block; it is
// called from the store's event goroutine with one tailored event at a
// time.
func (b *Broadcaster) Subscribe(mapID string, tier mapdata.Tier, send func(wire.Event)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	fan, ok := b.maps[mapID]
	if !ok {
		fan = &mapFanout{subs: make(map[int]*Subscription)}
		fan.unsubscribe = b.store.Subscribe(mapID, func(ev store.Event) {
			b.fanout(mapID, ev)
		})
		b.maps[mapID] = fan
	}

	b.nextID++
	sub := &Subscription{
		broadcaster: b,
		mapID:       mapID,
		id:          b.nextID,
		send:        send,
		tier:        tier,
	}
	fan.subs[sub.id] = sub
	return sub
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fan, ok := b.maps[sub.mapID]
	if !ok {
		return
	}
	delete(fan.subs, sub.id)
	if len(fan.subs) == 0 {
		fan.unsubscribe()
		delete(b.maps, sub.mapID)
	}
}

func (b *Broadcaster) fanout(mapID string, ev store.Event) {
	b.mu.Lock()
	fan, ok := b.maps[mapID]
	if !ok {
		b.mu.Unlock()
		return
	}
	subs := make([]*Subscription, 0, len(fan.subs))
	for _, s := range fan.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	kindAttr := metric.WithAttributes(attribute.String("kind", string(ev.Kind)))
	for _, sub := range subs {
		events, err := sub.tailor(ev)
		if err != nil {
			b.logger.Error("failed to encode event", "map", mapID, "kind", ev.Kind, "error", err)
			continue
		}
		if len(events) == 0 {
			b.filtered.Add(context.Background(), 1, kindAttr)
			continue
		}
		for _, e := range events {
			sub.send(e)
		}
		b.delivered.Add(context.Background(), int64(len(events)), kindAttr)
	}
}

// Subscription is one session's registration on a map. Its viewport,
// tier and history flag steer what the session receives.
type Subscription struct {
	broadcaster *Broadcaster
	mapID       string
	id          int
	send        func(wire.Event)

	mu      sync.Mutex
	tier    mapdata.Tier
	bbox    *mapdata.ZoomedBbox
	history bool
	closed  bool
}

// SetViewport updates the viewport used to filter markers and window
// track points. nil means no viewport: marker and track point events
// are withheld while object metadata still propagates.
func (s *Subscription) SetViewport(bbox *mapdata.ZoomedBbox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bbox = bbox
}

// SetTier updates the tier used for redaction and history visibility.
func (s *Subscription) SetTier(tier mapdata.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tier = tier
}

// SetHistoryListening turns history event delivery on or off.
func (s *Subscription) SetHistoryListening(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = on
}

// Close removes the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.broadcaster.remove(s)
}

type idPayload struct {
	ID string `json:"id"`
}

type linePointsPayload struct {
	LineID      string               `json:"lineId"`
	Reset       bool                 `json:"reset"`
	TrackPoints []mapdata.TrackPoint `json:"trackPoints"`
}

// tailor converts a store event into the wire events this subscriber
// should receive. An empty result means the event is withheld.
func (s *Subscription) tailor(ev store.Event) ([]wire.Event, error) {
	s.mu.Lock()
	tier := s.tier
	bbox := s.bbox
	history := s.history
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil, nil
	}

	if ev.History != nil {
		if !history || !ev.History.VisibleTo(tier) {
			return nil, nil
		}
		e, err := wire.NewEvent(wire.EventHistory, ev.History)
		if err != nil {
			return nil, err
		}
		return []wire.Event{e}, nil
	}

	switch ev.Kind {
	case mapdata.KindMap:
		if ev.Action == mapdata.ActionDelete {
			e, err := wire.NewEvent(wire.EventDeleteMap, idPayload{ID: ev.ObjectID})
			if err != nil {
				return nil, err
			}
			return []wire.Event{e}, nil
		}
		redacted := ev.Map.Redacted(tier)
		e, err := wire.NewEvent(wire.EventMapData, redacted)
		if err != nil {
			return nil, err
		}
		return []wire.Event{e}, nil

	case mapdata.KindMarker:
		if ev.Action == mapdata.ActionDelete {
			e, err := wire.NewEvent(wire.EventDeleteMarker, idPayload{ID: ev.ObjectID})
			if err != nil {
				return nil, err
			}
			return []wire.Event{e}, nil
		}
		if bbox == nil || !geo.IsInBbox(mapdata.Point{Lat: ev.Marker.Lat, Lon: ev.Marker.Lon}, bbox.Bbox) {
			return nil, nil
		}
		e, err := wire.NewEvent(wire.EventMarker, ev.Marker)
		if err != nil {
			return nil, err
		}
		return []wire.Event{e}, nil

	case mapdata.KindLine:
		if ev.Action == mapdata.ActionDelete {
			e, err := wire.NewEvent(wire.EventDeleteLine, idPayload{ID: ev.ObjectID})
			if err != nil {
				return nil, err
			}
			return []wire.Event{e}, nil
		}
		var events []wire.Event
		if ev.Line != nil {
			e, err := wire.NewEvent(wire.EventLine, ev.Line)
			if err != nil {
				return nil, err
			}
			events = append(events, e)
		}
		if ev.LinePoints != nil {
			points := []mapdata.TrackPoint{}
			if bbox != nil {
				points = track.PrepareForBoundingBox(ev.LinePoints, bbox.Bbox, bbox.Zoom, true)
			}
			e, err := wire.NewEvent(wire.EventLinePoints, linePointsPayload{
				LineID:      ev.ObjectID,
				Reset:       true,
				TrackPoints: points,
			})
			if err != nil {
				return nil, err
			}
			events = append(events, e)
		}
		return events, nil

	case mapdata.KindType:
		if ev.Action == mapdata.ActionDelete {
			e, err := wire.NewEvent(wire.EventDeleteType, idPayload{ID: ev.ObjectID})
			if err != nil {
				return nil, err
			}
			return []wire.Event{e}, nil
		}
		e, err := wire.NewEvent(wire.EventType, ev.Type)
		if err != nil {
			return nil, err
		}
		return []wire.Event{e}, nil

	case mapdata.KindView:
		if ev.Action == mapdata.ActionDelete {
			e, err := wire.NewEvent(wire.EventDeleteView, idPayload{ID: ev.ObjectID})
			if err != nil {
				return nil, err
			}
			return []wire.Event{e}, nil
		}
		e, err := wire.NewEvent(wire.EventView, ev.View)
		if err != nil {
			return nil, err
		}
		return []wire.Event{e}, nil
	}

	return nil, nil
}
