package session

import (
	"context"
	"sync"
	"testing"

	"github.com/chartwork/mapsync/internal/broadcast"
	"github.com/chartwork/mapsync/internal/geo"
	"github.com/chartwork/mapsync/internal/geocode"
	"github.com/chartwork/mapsync/internal/history"
	"github.com/chartwork/mapsync/internal/routing"
	"github.com/chartwork/mapsync/internal/store/memory"
	"github.com/chartwork/mapsync/internal/track"
	"github.com/chartwork/mapsync/internal/wire"
	"github.com/chartwork/mapsync/pkg/mapdata"

	"github.com/goccy/go-json"
)

// lineProvider answers every request with the waypoints as geometry.
type lineProvider struct{}

func (lineProvider) Name() string                             { return "test" }
func (lineProvider) MaxWaypoints() int                        { return 100 }
func (lineProvider) MaxLegDistance(mapdata.RouteMode) float64 { return 10_000_000 }

func (lineProvider) Route(_ context.Context, waypoints []mapdata.Point, _ mapdata.RouteMode, _ routing.Options) (*routing.Route, error) {
	distance := 0.0
	points := make([]mapdata.TrackPoint, len(waypoints))
	for i, wp := range waypoints {
		points[i] = mapdata.TrackPoint{Lat: wp.Lat, Lon: wp.Lon, Idx: i}
		if i > 0 {
			distance += geo.HaversineDistance(waypoints[i-1], wp)
		}
	}
	duration := int(distance / 10)
	return &routing.Route{TrackPoints: points, Distance: distance, Time: &duration}, nil
}

type stubGeocoder struct {
	results []geocode.Result
}

func (g stubGeocoder) Search(context.Context, string) ([]geocode.Result, error) {
	return g.results, nil
}

type fixture struct {
	store   *memory.Store
	mapObj  mapdata.Map
	markers mapdata.Type
	lines   mapdata.Type
	deps    Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	b, err := broadcast.New(st, nil)
	if err != nil {
		t.Fatalf("broadcast.New failed: %v", err)
	}

	provider := lineProvider{}
	router := routing.NewRouter(provider, provider, routing.NewThrottle(4), nil, nil, track.Options{})

	f := &fixture{
		store: st,
		deps: Deps{
			Store:     st,
			History:   history.New(st, history.DefaultRetention),
			Broadcast: b,
			Router:    router,
			Geocoder:  stubGeocoder{},
		},
	}

	ctx := context.Background()
	f.mapObj = mapdata.Map{Name: "fixture"}
	if err := st.CreateMap(ctx, &f.mapObj); err != nil {
		t.Fatalf("CreateMap failed: %v", err)
	}
	f.markers = mapdata.Type{
		MapID:      f.mapObj.ID,
		Name:       "default markers",
		ObjectKind: mapdata.KindMarker,
		Styles: []mapdata.StyleControl{
			{Attribute: mapdata.StyleColour, Default: "ff0000"},
		},
	}
	if err := st.CreateType(ctx, &f.markers); err != nil {
		t.Fatalf("CreateType failed: %v", err)
	}
	f.lines = mapdata.Type{
		MapID:      f.mapObj.ID,
		Name:       "default lines",
		ObjectKind: mapdata.KindLine,
		Styles: []mapdata.StyleControl{
			{Attribute: mapdata.StyleWidth, Default: "4"},
		},
	}
	if err := st.CreateType(ctx, &f.lines); err != nil {
		t.Fatalf("CreateType failed: %v", err)
	}
	return f
}

func (f *fixture) session() *Session {
	return New(f.deps, func(wire.Event) {})
}

func call(t *testing.T, s *Session, op string, payload any) wire.Response {
	t.Helper()
	var raw []byte
	if payload != nil {
		var err error
		if raw, err = json.Marshal(payload); err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
	}
	return s.Handle(context.Background(), wire.Request{ID: 1, Op: op, Payload: raw})
}

func mustResult(t *testing.T, resp wire.Response, v any) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if v != nil {
		if err := json.Unmarshal(resp.Result, v); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}
	}
}

func attachAs(t *testing.T, f *fixture, s *Session, slug string) AttachResult {
	t.Helper()
	var result AttachResult
	mustResult(t, call(t, s, wire.OpAttach, map[string]string{"slug": slug}), &result)
	return result
}

func TestSession_AttachResolvesTierAndSnapshots(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	defer s.Close()

	result := attachAs(t, f, s, f.mapObj.WriteID)
	if result.Tier != mapdata.TierWrite {
		t.Errorf("expected write tier, got %v", result.Tier)
	}
	if result.ProtocolVersion != wire.ProtocolVersion {
		t.Errorf("unexpected protocol version %d", result.ProtocolVersion)
	}
	if len(result.Types) != 2 {
		t.Errorf("expected 2 types in the snapshot, got %d", len(result.Types))
	}
	// Write tier must not see the admin slug.
	if result.Map.AdminID != "" {
		t.Error("write-tier snapshot leaks the admin slug")
	}
	if result.Map.WriteID == "" {
		t.Error("write-tier snapshot is missing the write slug")
	}
}

func TestSession_AttachTwiceFails(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	defer s.Close()

	attachAs(t, f, s, f.mapObj.ID)
	resp := call(t, s, wire.OpAttach, map[string]string{"slug": f.mapObj.ID})
	if resp.Error == nil || resp.Error.Code != wire.CodeValidation {
		t.Errorf("expected a validation error, got %v", resp.Error)
	}
}

func TestSession_ConcurrentAttachSingleWinner(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var events []wire.Event
	s := New(f.deps, func(e wire.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	defer s.Close()

	raw, err := json.Marshal(map[string]string{"slug": f.mapObj.ID})
	if err != nil {
		t.Fatalf("failed to encode payload: %v", err)
	}

	// Requests arrive on concurrent frames, so two attaches can race
	// past each other's early check. Exactly one may win; the loser
	// backs its subscription out.
	for iter := 0; iter < 50; iter++ {
		responses := make([]wire.Response, 4)
		var wg sync.WaitGroup
		for i := range responses {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				responses[i] = s.Handle(context.Background(), wire.Request{ID: int64(i), Op: wire.OpAttach, Payload: raw})
			}(i)
		}
		wg.Wait()

		won := 0
		for _, resp := range responses {
			if resp.Error == nil {
				won++
			} else if resp.Error.Code != wire.CodeValidation {
				t.Fatalf("unexpected error code %q", resp.Error.Code)
			}
		}
		if iter == 0 && won != 1 {
			t.Fatalf("expected exactly one attach to win, got %d", won)
		}
		if iter > 0 && won != 0 {
			t.Fatalf("attach succeeded on an already attached session")
		}
	}

	typ := mapdata.Type{MapID: f.mapObj.ID, Name: "late", ObjectKind: mapdata.KindMarker}
	if err := f.store.CreateType(context.Background(), &typ); err != nil {
		t.Fatalf("CreateType failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	delivered := 0
	for _, e := range events {
		if e.Type == wire.EventType {
			delivered++
		}
	}
	if delivered != 1 {
		t.Errorf("expected the mutation delivered exactly once, got %d events", delivered)
	}
}

// snapshotMutator mutates the map while a snapshot is being assembled.
type snapshotMutator struct {
	*memory.Store
	once   sync.Once
	mutate func()
}

func (m *snapshotMutator) LinesForMap(ctx context.Context, mapID string) ([]mapdata.Line, error) {
	m.once.Do(m.mutate)
	return m.Store.LinesForMap(ctx, mapID)
}

func TestSession_AttachDeliversMutationDuringSnapshot(t *testing.T) {
	f := newFixture(t)

	wrapped := &snapshotMutator{Store: f.store}
	wrapped.mutate = func() {
		typ := mapdata.Type{MapID: f.mapObj.ID, Name: "mid-snapshot", ObjectKind: mapdata.KindMarker}
		if err := f.store.CreateType(context.Background(), &typ); err != nil {
			t.Errorf("CreateType failed: %v", err)
		}
	}
	deps := f.deps
	deps.Store = wrapped

	var mu sync.Mutex
	var events []wire.Event
	s := New(deps, func(e wire.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	defer s.Close()

	result := attachAs(t, f, s, f.mapObj.ID)

	// A change landing between the snapshot reads must reach the client
	// one way: either inside the snapshot or as a push event.
	mu.Lock()
	pushed := 0
	for _, e := range events {
		if e.Type == wire.EventType {
			pushed++
		}
	}
	mu.Unlock()
	if len(result.Types) < 3 && pushed == 0 {
		t.Error("mutation during snapshot assembly was dropped")
	}
}

func TestSession_AttachUnknownSlug(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	defer s.Close()

	resp := call(t, s, wire.OpAttach, map[string]string{"slug": "nope"})
	if resp.Error == nil || resp.Error.Code != wire.CodeNotFound {
		t.Errorf("expected a notFound error, got %v", resp.Error)
	}
}

func TestSession_ReadTierEditRejectedWithoutMutation(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	defer s.Close()

	attachAs(t, f, s, f.mapObj.ID)

	resp := call(t, s, wire.OpAddMarker, map[string]any{
		"typeId": f.markers.ID, "lat": 1.0, "lon": 1.0,
	})
	if resp.Error == nil || resp.Error.Code != wire.CodePermission {
		t.Fatalf("expected a permission error, got %v", resp.Error)
	}

	markers, err := f.store.MarkersForMap(context.Background(), f.mapObj.ID)
	if err != nil {
		t.Fatalf("MarkersForMap failed: %v", err)
	}
	if len(markers) != 0 {
		t.Errorf("store mutated despite permission error: %d markers", len(markers))
	}
}

func TestSession_AddMarkerAppliesStyleDefaults(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	defer s.Close()

	attachAs(t, f, s, f.mapObj.WriteID)

	var marker mapdata.Marker
	mustResult(t, call(t, s, wire.OpAddMarker, map[string]any{
		"typeId": f.markers.ID, "name": "poi", "lat": 10.0, "lon": 20.0,
	}), &marker)

	if marker.ID == "" {
		t.Fatal("marker was not assigned an id")
	}
	if marker.Colour != "ff0000" {
		t.Errorf("expected the type default colour, got %q", marker.Colour)
	}

	stored, err := f.store.GetMarker(context.Background(), f.mapObj.ID, marker.ID)
	if err != nil {
		t.Fatalf("GetMarker failed: %v", err)
	}
	if stored.Colour != "ff0000" {
		t.Errorf("stored marker colour %q", stored.Colour)
	}
}

func TestSession_EditTypeRestylesExistingObjects(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	defer s.Close()

	attachAs(t, f, s, f.mapObj.AdminID)

	var marker mapdata.Marker
	mustResult(t, call(t, s, wire.OpAddMarker, map[string]any{
		"typeId": f.markers.ID, "lat": 1.0, "lon": 1.0,
	}), &marker)

	mustResult(t, call(t, s, wire.OpEditType, map[string]any{
		"id": f.markers.ID,
		"styles": []map[string]any{
			{"attribute": "colour", "fixed": true, "default": "00ff00"},
		},
	}), nil)

	stored, err := f.store.GetMarker(context.Background(), f.mapObj.ID, marker.ID)
	if err != nil {
		t.Fatalf("GetMarker failed: %v", err)
	}
	if stored.Colour != "00ff00" {
		t.Errorf("expected cascaded colour 00ff00, got %q", stored.Colour)
	}
}

func TestSession_DeleteTypeInUseRejected(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	defer s.Close()

	attachAs(t, f, s, f.mapObj.AdminID)

	mustResult(t, call(t, s, wire.OpAddMarker, map[string]any{
		"typeId": f.markers.ID, "lat": 1.0, "lon": 1.0,
	}), nil)

	resp := call(t, s, wire.OpDeleteType, map[string]string{"id": f.markers.ID})
	if resp.Error == nil || resp.Error.Code != wire.CodeValidation {
		t.Errorf("expected a validation error for a type in use, got %v", resp.Error)
	}
}

func TestSession_AddLineComputesGeometry(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	defer s.Close()

	attachAs(t, f, s, f.mapObj.WriteID)

	var line mapdata.Line
	mustResult(t, call(t, s, wire.OpAddLine, map[string]any{
		"typeId": f.lines.ID,
		"mode":   "car",
		"routePoints": []map[string]float64{
			{"lat": 52.5, "lon": 13.4},
			{"lat": 52.6, "lon": 13.5},
		},
	}), &line)

	if line.Distance <= 0 {
		t.Errorf("expected a positive distance, got %v", line.Distance)
	}
	if line.Width != 4 {
		t.Errorf("expected the type default width, got %d", line.Width)
	}

	points, err := f.store.LinePoints(context.Background(), f.mapObj.ID, line.ID)
	if err != nil {
		t.Fatalf("LinePoints failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 stored track points, got %d", len(points))
	}
	if points[0].Zoom != track.MinZoom || points[1].Zoom != track.MinZoom {
		t.Error("stored geometry is not zoom tagged")
	}
}

func TestSession_TrackLineKeepsSuppliedGeometry(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	defer s.Close()

	attachAs(t, f, s, f.mapObj.WriteID)

	var line mapdata.Line
	mustResult(t, call(t, s, wire.OpAddLine, map[string]any{
		"typeId": f.lines.ID,
		"mode":   "track",
		"trackPoints": []map[string]float64{
			{"lat": 1, "lon": 1},
			{"lat": 1.1, "lon": 1.1},
			{"lat": 1.2, "lon": 1.2},
		},
	}), &line)

	points, err := f.store.LinePoints(context.Background(), f.mapObj.ID, line.ID)
	if err != nil {
		t.Fatalf("LinePoints failed: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 stored track points, got %d", len(points))
	}
	if line.Time != nil {
		t.Error("a track line must not carry a routing time")
	}
}

func TestSession_UpdateViewportDeltaExcludesPreviousBbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	west := mapdata.Marker{MapID: f.mapObj.ID, TypeID: f.markers.ID, Name: "west", Lat: 5, Lon: 5}
	if err := f.store.CreateMarker(ctx, &west); err != nil {
		t.Fatalf("CreateMarker failed: %v", err)
	}
	east := mapdata.Marker{MapID: f.mapObj.ID, TypeID: f.markers.ID, Name: "east", Lat: 5, Lon: 15}
	if err := f.store.CreateMarker(ctx, &east); err != nil {
		t.Fatalf("CreateMarker failed: %v", err)
	}

	s := f.session()
	defer s.Close()
	attachAs(t, f, s, f.mapObj.ID)

	var first ViewportResult
	mustResult(t, call(t, s, wire.OpUpdateViewport, map[string]any{
		"top": 10.0, "bottom": 0.0, "left": 0.0, "right": 10.0, "zoom": 12,
	}), &first)
	if len(first.Markers) != 1 || first.Markers[0].Name != "west" {
		t.Fatalf("expected only the west marker, got %+v", first.Markers)
	}

	// Pan east at the same zoom: the overlap is excluded, only the
	// newly visible marker arrives.
	var second ViewportResult
	mustResult(t, call(t, s, wire.OpUpdateViewport, map[string]any{
		"top": 10.0, "bottom": 0.0, "left": 4.0, "right": 20.0, "zoom": 12,
	}), &second)
	if len(second.Markers) != 1 || second.Markers[0].Name != "east" {
		t.Fatalf("expected only the east marker in the delta, got %+v", second.Markers)
	}

	// Zoom change invalidates the except region: both markers return.
	var third ViewportResult
	mustResult(t, call(t, s, wire.OpUpdateViewport, map[string]any{
		"top": 10.0, "bottom": 0.0, "left": 0.0, "right": 20.0, "zoom": 13,
	}), &third)
	if len(third.Markers) != 2 {
		t.Fatalf("expected both markers after a zoom change, got %+v", third.Markers)
	}
}

func TestSession_DeleteMarkerRevertRestoresIt(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	defer s.Close()

	attachAs(t, f, s, f.mapObj.WriteID)
	ctx := context.Background()

	var marker mapdata.Marker
	mustResult(t, call(t, s, wire.OpAddMarker, map[string]any{
		"typeId": f.markers.ID, "name": "victim", "lat": 3.0, "lon": 4.0,
	}), &marker)
	mustResult(t, call(t, s, wire.OpDeleteMarker, map[string]string{"id": marker.ID}), nil)

	var entries []mapdata.HistoryEntry
	mustResult(t, call(t, s, wire.OpListenToHistory, nil), &entries)
	var deleteEntry *mapdata.HistoryEntry
	for i := range entries {
		if entries[i].Action == mapdata.ActionDelete && entries[i].ObjectID == marker.ID {
			deleteEntry = &entries[i]
		}
	}
	if deleteEntry == nil {
		t.Fatalf("no delete entry found in %d entries", len(entries))
	}

	mustResult(t, call(t, s, wire.OpRevertHistoryEntry, map[string]string{"id": deleteEntry.ID}), nil)

	markers, err := f.store.MarkersForMap(ctx, f.mapObj.ID)
	if err != nil {
		t.Fatalf("MarkersForMap failed: %v", err)
	}
	if len(markers) != 1 || markers[0].Name != "victim" {
		t.Fatalf("expected the restored marker, got %+v", markers)
	}
}

func TestSession_GetLinePointsWindowsIndices(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	defer s.Close()

	attachAs(t, f, s, f.mapObj.WriteID)

	var line mapdata.Line
	mustResult(t, call(t, s, wire.OpAddLine, map[string]any{
		"typeId": f.lines.ID,
		"mode":   "track",
		"trackPoints": []map[string]float64{
			{"lat": 0, "lon": 0}, {"lat": 1, "lon": 1}, {"lat": 2, "lon": 2},
			{"lat": 3, "lon": 3}, {"lat": 4, "lon": 4}, {"lat": 5, "lon": 5},
		},
	}), &line)

	var chunk LinePointsChunk
	mustResult(t, call(t, s, wire.OpGetLinePoints, map[string]any{
		"lineId": line.ID, "indices": []int{2, 3},
	}), &chunk)

	if len(chunk.TrackPoints) != 4 {
		t.Fatalf("expected indices 1..4, got %d points", len(chunk.TrackPoints))
	}
	if chunk.TrackPoints[0].Idx != 1 || chunk.TrackPoints[3].Idx != 4 {
		t.Errorf("unexpected window: first %d last %d", chunk.TrackPoints[0].Idx, chunk.TrackPoints[3].Idx)
	}
}

func TestSession_SetRouteAndExport(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	defer s.Close()

	var result RouteResult
	mustResult(t, call(t, s, wire.OpSetRoute, map[string]any{
		"mode": "car",
		"waypoints": []map[string]float64{
			{"lat": 52.5, "lon": 13.4},
			{"lat": 52.6, "lon": 13.5},
		},
	}), &result)
	if result.Distance <= 0 || len(result.TrackPoints) == 0 {
		t.Fatalf("unexpected route result: %+v", result)
	}

	var export ExportResult
	mustResult(t, call(t, s, wire.OpExportRoute, map[string]string{}), &export)
	if export.Format != "gpx" || export.Data == "" {
		t.Fatalf("unexpected export: %+v", export)
	}

	mustResult(t, call(t, s, wire.OpClearRoute, map[string]string{}), nil)
	resp := call(t, s, wire.OpExportRoute, map[string]string{})
	if resp.Error == nil || resp.Error.Code != wire.CodeNotFound {
		t.Errorf("expected notFound after clearRoute, got %v", resp.Error)
	}
}

// shortLegProvider rejects nothing itself but advertises a tiny leg
// limit, so the router refuses long segments before calling it.
type shortLegProvider struct{ lineProvider }

func (shortLegProvider) MaxLegDistance(mapdata.RouteMode) float64 { return 1000 }

func TestSession_SetRouteOverlongLegIsValidationError(t *testing.T) {
	f := newFixture(t)
	provider := shortLegProvider{}
	f.deps.Router = routing.NewRouter(provider, provider, routing.NewThrottle(4), nil, nil, track.Options{})
	s := f.session()
	defer s.Close()

	resp := call(t, s, wire.OpSetRoute, map[string]any{
		"mode": "car",
		"waypoints": []map[string]float64{
			{"lat": 0, "lon": 0},
			{"lat": 10, "lon": 10},
		},
	})
	if resp.Error == nil || resp.Error.Code != wire.CodeValidation {
		t.Errorf("expected a validation error for an over-long leg, got %v", resp.Error)
	}

	resp = call(t, s, wire.OpRoute, map[string]any{
		"mode": "car",
		"waypoints": []map[string]float64{
			{"lat": 0, "lon": 0},
			{"lat": 10, "lon": 10},
		},
	})
	if resp.Error == nil || resp.Error.Code != wire.CodeValidation {
		t.Errorf("expected a validation error for an over-long leg, got %v", resp.Error)
	}
}

func TestSession_ListenToHistoryRequiresWrite(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	defer s.Close()

	attachAs(t, f, s, f.mapObj.ID)
	resp := call(t, s, wire.OpListenToHistory, nil)
	if resp.Error == nil || resp.Error.Code != wire.CodePermission {
		t.Errorf("expected a permission error, got %v", resp.Error)
	}
}

func TestSession_UnknownOperation(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	defer s.Close()

	resp := call(t, s, wire.OpFind, map[string]string{"query": ""})
	if resp.Error == nil || resp.Error.Code != wire.CodeValidation {
		t.Errorf("expected a validation error for an empty query, got %v", resp.Error)
	}

	resp = s.Handle(context.Background(), wire.Request{ID: 2, Op: "selfDestruct"})
	if resp.Error == nil || resp.Error.Code != wire.CodeValidation {
		t.Errorf("expected a validation error for an unknown op, got %v", resp.Error)
	}
}
