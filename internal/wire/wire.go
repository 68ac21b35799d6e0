// Package wire defines the session protocol: request/response envelopes
// exchanged over the WebSocket, the unsolicited event messages pushed by
// the broadcaster, and the structured error taxonomy. Payloads are
// encoded with goccy/go-json, a drop-in replacement for encoding/json.
package wire

import (
	json "github.com/goccy/go-json"
)

// ProtocolVersion selects the payload shape. Version 3 is the only
// implemented generation: permission tiers are a three-valued enum and
// errors are structured objects.
const ProtocolVersion = 3

// Request operation names accepted from clients.
const (
	OpAttach             = "attach"
	OpUpdateViewport     = "updateViewport"
	OpAddMarker          = "addMarker"
	OpEditMarker         = "editMarker"
	OpDeleteMarker       = "deleteMarker"
	OpAddLine            = "addLine"
	OpEditLine           = "editLine"
	OpDeleteLine         = "deleteLine"
	OpGetLineTemplate    = "getLineTemplate"
	OpGetLinePoints      = "getLinePoints"
	OpAddType            = "addType"
	OpEditType           = "editType"
	OpDeleteType         = "deleteType"
	OpAddView            = "addView"
	OpEditView           = "editView"
	OpDeleteView         = "deleteView"
	OpEditMap            = "editMap"
	OpSetRoute           = "setRoute"
	OpClearRoute         = "clearRoute"
	OpExportRoute        = "exportRoute"
	OpLineToRoute        = "lineToRoute"
	OpRoute              = "route"
	OpFind               = "find"
	OpListenToHistory    = "listenToHistory"
	OpStopListenHistory  = "stopListeningToHistory"
	OpRevertHistoryEntry = "revertHistoryEntry"
)

// Event types pushed by the server without a request.
const (
	EventMarker       = "marker"
	EventDeleteMarker = "deleteMarker"
	EventLine         = "line"
	EventLinePoints   = "linePoints"
	EventDeleteLine   = "deleteLine"
	EventType         = "type"
	EventDeleteType   = "deleteType"
	EventView         = "view"
	EventDeleteView   = "deleteView"
	EventMapData      = "mapData"
	EventDeleteMap    = "deleteMap"
	EventHistory      = "history"
)

// Request is one client request. ID correlates the eventual Response.
type Request struct {
	ID      int64           `json:"id"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response answers one Request. Exactly one of Result and Error is set.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Event is an unsolicited server push produced by the broadcaster.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is the single frame shape carried on the socket. A frame with
// a non-empty Op is a request, one with an Event type is a push, and
// anything else is a response.
type Message struct {
	ID      int64           `json:"id,omitempty"`
	Op      string          `json:"op,omitempty"`
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Marshal encodes a value with the wire codec.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes a value with the wire codec.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewEvent builds a push event, marshalling the payload. Marshal errors
// are returned to the caller rather than half-sending a frame.
func NewEvent(eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Payload: raw}, nil
}
