package elevation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/chartwork/mapsync/pkg/mapdata"
)

func TestLookup_OneEntryPerPoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/lookup" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req lookupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}

		// Echo one elevation per location; the second stays unknown.
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results": [{"elevation": 12.5}, {"elevation": null}, {"elevation": 300}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	points := []mapdata.Point{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}, {Lat: 3, Lon: 3}}
	eles, err := c.Lookup(context.Background(), points)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(eles) != 3 {
		t.Fatalf("got %d elevations, want 3", len(eles))
	}
	if eles[0] == nil || *eles[0] != 12.5 {
		t.Errorf("elevation 0 = %v, want 12.5", eles[0])
	}
	if eles[1] != nil {
		t.Errorf("elevation 1 = %v, want nil", *eles[1])
	}
	if eles[2] == nil || *eles[2] != 300 {
		t.Errorf("elevation 2 = %v, want 300", eles[2])
	}
}

func TestLookup_BatchesLargeRequests(t *testing.T) {
	var batchSizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req lookupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		batchSizes = append(batchSizes, len(req.Locations))

		resp := lookupResponse{}
		resp.Results = make([]struct {
			Elevation *float64 `json:"elevation"`
		}, len(req.Locations))
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(srv.URL)
	points := make([]mapdata.Point, batchSize+5)
	eles, err := c.Lookup(context.Background(), points)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(eles) != len(points) {
		t.Fatalf("got %d elevations, want %d", len(eles), len(points))
	}
	if len(batchSizes) != 2 || batchSizes[0] != batchSize || batchSizes[1] != 5 {
		t.Errorf("unexpected batching %v", batchSizes)
	}
}

func TestLookup_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.Lookup(context.Background(), []mapdata.Point{{}}); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}
