package broadcast

import (
	"context"
	"sync"
	"testing"

	"github.com/chartwork/mapsync/internal/store/memory"
	"github.com/chartwork/mapsync/internal/wire"
	"github.com/chartwork/mapsync/pkg/mapdata"

	"github.com/goccy/go-json"
)

type recorder struct {
	mu     sync.Mutex
	events []wire.Event
}

func (r *recorder) send(e wire.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) byType(eventType string) []wire.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []wire.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestMap(t *testing.T, st *memory.Store) mapdata.Map {
	t.Helper()
	m := mapdata.Map{Name: "test map"}
	if err := st.CreateMap(context.Background(), &m); err != nil {
		t.Fatalf("CreateMap failed: %v", err)
	}
	return m
}

func viewport(top, bottom, left, right float64, zoom int) *mapdata.ZoomedBbox {
	return &mapdata.ZoomedBbox{
		Bbox: mapdata.Bbox{Top: top, Bottom: bottom, Left: left, Right: right},
		Zoom: zoom,
	}
}

func TestBroadcaster_MarkerFilteredByViewport(t *testing.T) {
	st := memory.New()
	b, err := New(st, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m := newTestMap(t, st)
	ctx := context.Background()

	rec := &recorder{}
	sub := b.Subscribe(m.ID, mapdata.TierWrite, rec.send)
	defer sub.Close()
	sub.SetViewport(viewport(10, 0, 0, 10, 12))

	inside := mapdata.Marker{MapID: m.ID, Name: "inside", Lat: 5, Lon: 5}
	if err := st.CreateMarker(ctx, &inside); err != nil {
		t.Fatalf("CreateMarker failed: %v", err)
	}
	outside := mapdata.Marker{MapID: m.ID, Name: "outside", Lat: 50, Lon: 50}
	if err := st.CreateMarker(ctx, &outside); err != nil {
		t.Fatalf("CreateMarker failed: %v", err)
	}

	got := rec.byType(wire.EventMarker)
	if len(got) != 1 {
		t.Fatalf("expected 1 marker event, got %d", len(got))
	}
	var marker mapdata.Marker
	if err := json.Unmarshal(got[0].Payload, &marker); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if marker.Name != "inside" {
		t.Errorf("expected the inside marker, got %q", marker.Name)
	}

	// Deletions always propagate, wherever the marker was.
	if err := st.DeleteMarker(ctx, m.ID, outside.ID); err != nil {
		t.Fatalf("DeleteMarker failed: %v", err)
	}
	if deletes := rec.byType(wire.EventDeleteMarker); len(deletes) != 1 {
		t.Errorf("expected 1 delete event, got %d", len(deletes))
	}
}

func TestBroadcaster_NoViewportWithholdsMarkers(t *testing.T) {
	st := memory.New()
	b, err := New(st, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m := newTestMap(t, st)

	rec := &recorder{}
	sub := b.Subscribe(m.ID, mapdata.TierWrite, rec.send)
	defer sub.Close()

	marker := mapdata.Marker{MapID: m.ID, Lat: 5, Lon: 5}
	if err := st.CreateMarker(context.Background(), &marker); err != nil {
		t.Fatalf("CreateMarker failed: %v", err)
	}
	if got := rec.byType(wire.EventMarker); len(got) != 0 {
		t.Errorf("expected no marker events without a viewport, got %d", len(got))
	}
}

func TestBroadcaster_MapDataRedactedPerTier(t *testing.T) {
	st := memory.New()
	b, err := New(st, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m := newTestMap(t, st)
	ctx := context.Background()

	reader := &recorder{}
	readSub := b.Subscribe(m.ID, mapdata.TierRead, reader.send)
	defer readSub.Close()
	admin := &recorder{}
	adminSub := b.Subscribe(m.ID, mapdata.TierAdmin, admin.send)
	defer adminSub.Close()

	m.Name = "renamed"
	if err := st.UpdateMap(ctx, m); err != nil {
		t.Fatalf("UpdateMap failed: %v", err)
	}

	readEvents := reader.byType(wire.EventMapData)
	if len(readEvents) != 1 {
		t.Fatalf("expected 1 mapData event for the reader, got %d", len(readEvents))
	}
	var readMap mapdata.Map
	if err := json.Unmarshal(readEvents[0].Payload, &readMap); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if readMap.WriteID != "" || readMap.AdminID != "" {
		t.Errorf("read-tier event leaks higher slugs: %+v", readMap)
	}
	if readMap.Name != "renamed" {
		t.Errorf("expected renamed map, got %q", readMap.Name)
	}

	adminEvents := admin.byType(wire.EventMapData)
	if len(adminEvents) != 1 {
		t.Fatalf("expected 1 mapData event for the admin, got %d", len(adminEvents))
	}
	var adminMap mapdata.Map
	if err := json.Unmarshal(adminEvents[0].Payload, &adminMap); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if adminMap.AdminID == "" {
		t.Error("admin-tier event is missing the admin slug")
	}
}

func TestBroadcaster_LinePointsWindowedToViewport(t *testing.T) {
	st := memory.New()
	b, err := New(st, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m := newTestMap(t, st)
	ctx := context.Background()

	line := mapdata.Line{MapID: m.ID, Mode: mapdata.ModeTrack}
	if err := st.CreateLine(ctx, &line); err != nil {
		t.Fatalf("CreateLine failed: %v", err)
	}

	withView := &recorder{}
	viewSub := b.Subscribe(m.ID, mapdata.TierWrite, withView.send)
	defer viewSub.Close()
	viewSub.SetViewport(viewport(10, 0, 0, 10, 20))

	noView := &recorder{}
	blindSub := b.Subscribe(m.ID, mapdata.TierWrite, noView.send)
	defer blindSub.Close()

	points := []mapdata.TrackPoint{
		{Lat: 5, Lon: 5, Idx: 0, Zoom: 1},
		{Lat: 6, Lon: 6, Idx: 1, Zoom: 1},
		{Lat: 50, Lon: 50, Idx: 2, Zoom: 1},
	}
	if err := st.SetLinePoints(ctx, m.ID, line.ID, points); err != nil {
		t.Fatalf("SetLinePoints failed: %v", err)
	}

	viewEvents := withView.byType(wire.EventLinePoints)
	if len(viewEvents) != 1 {
		t.Fatalf("expected 1 linePoints event, got %d", len(viewEvents))
	}
	var payload linePointsPayload
	if err := json.Unmarshal(viewEvents[0].Payload, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.LineID != line.ID || !payload.Reset {
		t.Errorf("unexpected payload header: %+v", payload)
	}
	if len(payload.TrackPoints) == 0 {
		t.Fatal("expected windowed track points for the session with a viewport")
	}
	for _, p := range payload.TrackPoints {
		if p.Lat > 10 && p.Idx != 2 {
			t.Errorf("unexpected point outside the viewport: %+v", p)
		}
	}

	blindEvents := noView.byType(wire.EventLinePoints)
	if len(blindEvents) != 1 {
		t.Fatalf("expected 1 linePoints event for the blind session, got %d", len(blindEvents))
	}
	if err := json.Unmarshal(blindEvents[0].Payload, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if len(payload.TrackPoints) != 0 {
		t.Errorf("session without a viewport should receive no track points, got %d", len(payload.TrackPoints))
	}
}

func TestBroadcaster_HistoryOnlyToListeners(t *testing.T) {
	st := memory.New()
	b, err := New(st, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m := newTestMap(t, st)
	ctx := context.Background()

	listener := &recorder{}
	listenSub := b.Subscribe(m.ID, mapdata.TierAdmin, listener.send)
	defer listenSub.Close()
	listenSub.SetHistoryListening(true)

	deaf := &recorder{}
	deafSub := b.Subscribe(m.ID, mapdata.TierAdmin, deaf.send)
	defer deafSub.Close()

	writeTier := &recorder{}
	writeSub := b.Subscribe(m.ID, mapdata.TierWrite, writeTier.send)
	defer writeSub.Close()
	writeSub.SetHistoryListening(true)

	entry := mapdata.HistoryEntry{MapID: m.ID, Kind: mapdata.KindType, Action: mapdata.ActionCreate, ObjectID: "t1"}
	if err := st.AppendHistory(ctx, &entry); err != nil {
		t.Fatalf("AppendHistory failed: %v", err)
	}

	if got := listener.byType(wire.EventHistory); len(got) != 1 {
		t.Errorf("expected 1 history event for the admin listener, got %d", len(got))
	}
	if got := deaf.byType(wire.EventHistory); len(got) != 0 {
		t.Errorf("non-listening session received %d history events", len(got))
	}
	// Type history is invisible below admin tier.
	if got := writeTier.byType(wire.EventHistory); len(got) != 0 {
		t.Errorf("write-tier session received %d type history events", len(got))
	}
}

func TestBroadcaster_CloseStopsDelivery(t *testing.T) {
	st := memory.New()
	b, err := New(st, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m := newTestMap(t, st)
	ctx := context.Background()

	rec := &recorder{}
	sub := b.Subscribe(m.ID, mapdata.TierWrite, rec.send)
	sub.SetViewport(viewport(90, -90, -180, 180, 10))

	marker := mapdata.Marker{MapID: m.ID, Lat: 1, Lon: 1}
	if err := st.CreateMarker(ctx, &marker); err != nil {
		t.Fatalf("CreateMarker failed: %v", err)
	}
	before := rec.count()
	if before == 0 {
		t.Fatal("expected events before close")
	}

	sub.Close()
	sub.Close() // idempotent

	second := mapdata.Marker{MapID: m.ID, Lat: 2, Lon: 2}
	if err := st.CreateMarker(ctx, &second); err != nil {
		t.Fatalf("CreateMarker failed: %v", err)
	}
	if rec.count() != before {
		t.Errorf("events delivered after close: %d -> %d", before, rec.count())
	}
}
