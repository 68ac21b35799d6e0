// Package session implements the per-connection state machine of the
// protocol: attaching to a map by slug, tracking the viewport, and
// dispatching every named operation with payload validation and tier
// checks before any mutation.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/chartwork/mapsync/internal/broadcast"
	"github.com/chartwork/mapsync/internal/geo"
	"github.com/chartwork/mapsync/internal/geocode"
	"github.com/chartwork/mapsync/internal/history"
	"github.com/chartwork/mapsync/internal/routing"
	"github.com/chartwork/mapsync/internal/store"
	"github.com/chartwork/mapsync/internal/track"
	"github.com/chartwork/mapsync/internal/wire"
	"github.com/chartwork/mapsync/pkg/mapdata"
)

var validate = validator.New()

// Geocoder resolves free-text place searches.
type Geocoder interface {
	Search(ctx context.Context, query string) ([]geocode.Result, error)
}

// Deps are the shared collaborators a session operates on.
type Deps struct {
	Store        store.Store
	History      *history.Log
	Broadcast    *broadcast.Broadcaster
	Router       *routing.Router
	Geocoder     Geocoder
	TrackOptions track.Options
	Logger       *slog.Logger
}

// Session is one client connection. Route slots exist from the start;
// everything touching map data requires a successful attach first.
type Session struct {
	id     string
	deps   Deps
	logger *slog.Logger
	routes *routing.Manager
	send   func(wire.Event)

	mu     sync.Mutex
	mapID  string
	tier   mapdata.Tier
	bbox   *mapdata.ZoomedBbox
	sub    *broadcast.Subscription
	closed bool
}

// New creates an unattached session. send receives the broadcaster's
// tailored push events and must not block.
func New(deps Deps, send func(wire.Event)) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		deps:   deps,
		logger: deps.Logger.With("session", id),
		routes: routing.NewManager(deps.Router),
		send:   send,
	}
}

// ID returns the session's identifier, used in logs.
func (s *Session) ID() string { return s.id }

// Handle dispatches one request and produces its response. Unknown
// operations and malformed payloads are rejected before any mutation.
func (s *Session) Handle(ctx context.Context, req wire.Request) wire.Response {
	result, err := s.dispatch(ctx, req)
	if err != nil {
		return wire.Response{ID: req.ID, Error: toWireError(err)}
	}

	raw, err := wire.Marshal(result)
	if err != nil {
		s.logger.Error("failed to encode result", "op", req.Op, "error", err)
		return wire.Response{ID: req.ID, Error: wire.FromErr(err)}
	}
	return wire.Response{ID: req.ID, Result: raw}
}

func (s *Session) dispatch(ctx context.Context, req wire.Request) (any, error) {
	switch req.Op {
	case wire.OpAttach:
		return s.attach(ctx, req.Payload)
	case wire.OpUpdateViewport:
		return s.updateViewport(ctx, req.Payload)
	case wire.OpAddMarker:
		return s.addMarker(ctx, req.Payload)
	case wire.OpEditMarker:
		return s.editMarker(ctx, req.Payload)
	case wire.OpDeleteMarker:
		return s.deleteMarker(ctx, req.Payload)
	case wire.OpAddLine:
		return s.addLine(ctx, req.Payload)
	case wire.OpEditLine:
		return s.editLine(ctx, req.Payload)
	case wire.OpDeleteLine:
		return s.deleteLine(ctx, req.Payload)
	case wire.OpGetLineTemplate:
		return s.getLineTemplate(ctx, req.Payload)
	case wire.OpGetLinePoints:
		return s.getLinePoints(ctx, req.Payload)
	case wire.OpAddType:
		return s.addType(ctx, req.Payload)
	case wire.OpEditType:
		return s.editType(ctx, req.Payload)
	case wire.OpDeleteType:
		return s.deleteType(ctx, req.Payload)
	case wire.OpAddView:
		return s.addView(ctx, req.Payload)
	case wire.OpEditView:
		return s.editView(ctx, req.Payload)
	case wire.OpDeleteView:
		return s.deleteView(ctx, req.Payload)
	case wire.OpEditMap:
		return s.editMap(ctx, req.Payload)
	case wire.OpSetRoute:
		return s.setRoute(ctx, req.Payload)
	case wire.OpClearRoute:
		return s.clearRoute(ctx, req.Payload)
	case wire.OpExportRoute:
		return s.exportRoute(ctx, req.Payload)
	case wire.OpLineToRoute:
		return s.lineToRoute(ctx, req.Payload)
	case wire.OpRoute:
		return s.oneShotRoute(ctx, req.Payload)
	case wire.OpFind:
		return s.find(ctx, req.Payload)
	case wire.OpListenToHistory:
		return s.listenToHistory(ctx, req.Payload)
	case wire.OpStopListenHistory:
		return s.stopListeningToHistory(ctx, req.Payload)
	case wire.OpRevertHistoryEntry:
		return s.revertHistoryEntry(ctx, req.Payload)
	default:
		return nil, wire.NewValidationError("unknown operation %q", req.Op)
	}
}

// Close tears the session down: unsubscribes from the broadcaster and
// cancels all route slots. Cleanup failures are logged and swallowed;
// there is no client left to tell.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	s.routes.CancelAll()
	s.logger.Debug("session closed")
}

// decodePayload unmarshals and validates a request payload.
func decodePayload(payload []byte, v any) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if err := wire.Unmarshal(payload, v); err != nil {
		return wire.NewValidationError("malformed payload: %v", err)
	}
	if err := validate.Struct(v); err != nil {
		return wire.NewValidationError("invalid payload: %v", err)
	}
	return nil
}

// attached returns the current map and tier, failing when unattached.
func (s *Session) attached() (string, mapdata.Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mapID == "" {
		return "", 0, wire.NewPermissionError("not attached to a map")
	}
	return s.mapID, s.tier, nil
}

// requireTier is the gate in front of every mutating operation: it
// fails before anything is touched when the session is unattached or
// below the minimum tier.
func (s *Session) requireTier(min mapdata.Tier) (string, mapdata.Tier, error) {
	mapID, tier, err := s.attached()
	if err != nil {
		return "", 0, err
	}
	if tier < min {
		return "", 0, wire.NewPermissionError("operation requires %s access", min)
	}
	return mapID, tier, nil
}

func (s *Session) viewport() *mapdata.ZoomedBbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bbox
}

func toWireError(err error) *wire.Error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return wire.NewNotFoundError("object not found")
	case errors.Is(err, store.ErrSlugTaken):
		return wire.NewValidationError("slug already taken")
	case errors.Is(err, routing.ErrTooFewWaypoints),
		errors.Is(err, routing.ErrSegmentTooLong),
		errors.Is(err, routing.ErrTrackMode):
		return wire.NewValidationError("%v", err)
	case errors.Is(err, routing.ErrNoSuchRoute):
		return wire.NewNotFoundError("%v", err)
	}
	return wire.FromErr(err)
}

// AttachResult is the initial full snapshot returned by attach.
type AttachResult struct {
	ProtocolVersion int               `json:"protocolVersion"`
	Tier            mapdata.Tier      `json:"tier"`
	Map             mapdata.Map       `json:"map"`
	Types           []mapdata.Type    `json:"types"`
	Views           []mapdata.View    `json:"views"`
	Lines           []mapdata.Line    `json:"lines"`
	Markers         []mapdata.Marker  `json:"markers,omitempty"`
	LinePoints      []LinePointsChunk `json:"linePoints,omitempty"`
}

// LinePointsChunk is one line's windowed geometry.
type LinePointsChunk struct {
	LineID      string               `json:"lineId"`
	TrackPoints []mapdata.TrackPoint `json:"trackPoints"`
}

type attachParams struct {
	Slug string `json:"slug" validate:"required"`
}

func (s *Session) attach(ctx context.Context, payload []byte) (any, error) {
	var params attachParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.mapID != "" {
		s.mu.Unlock()
		return nil, wire.NewValidationError("already attached to a map")
	}
	bbox := s.bbox
	s.mu.Unlock()

	m, tier, err := s.deps.Store.ResolveSlug(ctx, params.Slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, wire.NewNotFoundError("no map under this slug")
		}
		return nil, err
	}

	// Subscribe before reading the snapshot so a mutation landing while
	// the snapshot is assembled still reaches the client as an event.
	// The client may see an object both in the snapshot and as an event;
	// it must never miss one entirely.
	sub := s.deps.Broadcast.Subscribe(m.ID, tier, s.send)
	if bbox != nil {
		sub.SetViewport(bbox)
	}

	result, err := s.attachSnapshot(ctx, m, tier, bbox)
	if err != nil {
		sub.Close()
		return nil, err
	}

	// Requests are dispatched concurrently, so a second attach can race
	// past the early check above. Whichever commits second backs out.
	s.mu.Lock()
	if s.closed || s.mapID != "" {
		closed := s.closed
		s.mu.Unlock()
		sub.Close()
		if closed {
			return nil, wire.NewValidationError("session is closed")
		}
		return nil, wire.NewValidationError("already attached to a map")
	}
	s.mapID = m.ID
	s.tier = tier
	s.sub = sub
	s.mu.Unlock()

	s.logger.Info("attached", "map", m.ID, "tier", tier.String())
	return result, nil
}

// attachSnapshot assembles the initial full-state payload for a map.
func (s *Session) attachSnapshot(ctx context.Context, m mapdata.Map, tier mapdata.Tier, bbox *mapdata.ZoomedBbox) (AttachResult, error) {
	result := AttachResult{
		ProtocolVersion: wire.ProtocolVersion,
		Tier:            tier,
		Map:             m.Redacted(tier),
	}
	var err error
	if result.Types, err = s.deps.Store.TypesForMap(ctx, m.ID); err != nil {
		return AttachResult{}, err
	}
	if result.Views, err = s.deps.Store.ViewsForMap(ctx, m.ID); err != nil {
		return AttachResult{}, err
	}
	if result.Lines, err = s.deps.Store.LinesForMap(ctx, m.ID); err != nil {
		return AttachResult{}, err
	}
	if bbox != nil {
		if result.Markers, err = s.deps.Store.MarkersInBbox(ctx, m.ID, bbox.Bbox, nil); err != nil {
			return AttachResult{}, err
		}
		if result.LinePoints, err = s.windowedLinePoints(ctx, m.ID, result.Lines, *bbox, nil); err != nil {
			return AttachResult{}, err
		}
	}
	return result, nil
}

// ViewportResult is the incremental delta returned by updateViewport:
// objects inside the new bbox that were not covered by the previous
// one.
type ViewportResult struct {
	Markers     []mapdata.Marker                `json:"markers"`
	LinePoints  []LinePointsChunk               `json:"linePoints"`
	RoutePoints map[string][]mapdata.TrackPoint `json:"routePoints,omitempty"`
}

type viewportParams struct {
	Top    float64 `json:"top" validate:"gte=-90,lte=90"`
	Bottom float64 `json:"bottom" validate:"gte=-90,lte=90"`
	Left   float64 `json:"left" validate:"gte=-180,lte=180"`
	Right  float64 `json:"right" validate:"gte=-180,lte=180"`
	Zoom   int     `json:"zoom" validate:"gte=0,lte=20"`
}

func (s *Session) updateViewport(ctx context.Context, payload []byte) (any, error) {
	var params viewportParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}

	next := mapdata.ZoomedBbox{
		Bbox: mapdata.Bbox{Top: params.Top, Bottom: params.Bottom, Left: params.Left, Right: params.Right},
		Zoom: params.Zoom,
	}

	s.mu.Lock()
	except := geo.ExceptDelta(s.bbox, next)
	s.bbox = &next
	mapID := s.mapID
	sub := s.sub
	s.mu.Unlock()

	if sub != nil {
		sub.SetViewport(&next)
	}

	result := ViewportResult{Markers: []mapdata.Marker{}, LinePoints: []LinePointsChunk{}}

	// Route previews live outside any map; filter them even when the
	// session is not attached.
	for _, name := range s.routes.Names() {
		active, err := s.routes.Get(name)
		if err != nil {
			continue
		}
		prepared := track.PrepareForBoundingBox(active.Route.TrackPoints, next.Bbox, next.Zoom, true)
		if len(prepared) > 0 {
			if result.RoutePoints == nil {
				result.RoutePoints = make(map[string][]mapdata.TrackPoint)
			}
			result.RoutePoints[name] = prepared
		}
	}

	if mapID == "" {
		return result, nil
	}

	markers, err := s.deps.Store.MarkersInBbox(ctx, mapID, next.Bbox, except)
	if err != nil {
		return nil, err
	}
	result.Markers = markers

	lines, err := s.deps.Store.LinesForMap(ctx, mapID)
	if err != nil {
		return nil, err
	}
	if result.LinePoints, err = s.windowedLinePoints(ctx, mapID, lines, next, except); err != nil {
		return nil, err
	}
	return result, nil
}

// windowedLinePoints prepares every line's geometry for a viewport,
// dropping points already covered by except.
func (s *Session) windowedLinePoints(ctx context.Context, mapID string, lines []mapdata.Line, bbox mapdata.ZoomedBbox, except *mapdata.Bbox) ([]LinePointsChunk, error) {
	chunks := make([]LinePointsChunk, 0, len(lines))
	for _, line := range lines {
		points, err := s.deps.Store.LinePoints(ctx, mapID, line.ID)
		if err != nil {
			return nil, err
		}
		prepared := track.PrepareForBoundingBox(points, bbox.Bbox, bbox.Zoom, true)
		if except != nil {
			kept := prepared[:0:0]
			for _, p := range prepared {
				if !geo.IsInBbox(mapdata.Point{Lat: p.Lat, Lon: p.Lon}, *except) {
					kept = append(kept, p)
				}
			}
			prepared = kept
		}
		if len(prepared) > 0 {
			chunks = append(chunks, LinePointsChunk{LineID: line.ID, TrackPoints: prepared})
		}
	}
	return chunks, nil
}
