// Package track implements the progressive multi-resolution polyline
// simplifier. One polyline is stored once; every point carries the
// minimum display zoom at which it must be rendered, so any viewport
// can be served by filtering rather than by recomputing geometry.
package track

import (
	"math"

	"github.com/chartwork/mapsync/internal/geo"
	"github.com/chartwork/mapsync/pkg/mapdata"
)

const (
	// MaxZoom is the finest display zoom level supported.
	MaxZoom = 20

	// MinZoom marks points visible at every zoom, endpoints included.
	MinZoom = 1

	// OverviewZoom bounds the coarse always-visible skeleton of a line.
	OverviewZoom = 5
)

// DefaultUnitsPerPixel is the planar distance (in degrees) spanned by
// one screen pixel at MaxZoom: one 256-pixel tile row of a 2^20-tile
// world. It encodes a tile-rendering assumption, so callers may
// override it through Options.
var DefaultUnitsPerPixel = 360 / (256 * math.Exp2(MaxZoom))

// Options configures zoom assignment.
type Options struct {
	// UnitsPerPixel is the planar degree distance represented by one
	// pixel at MaxZoom. Zero selects DefaultUnitsPerPixel.
	UnitsPerPixel float64
}

func (o Options) unitsPerPixel() float64 {
	if o.UnitsPerPixel > 0 {
		return o.UnitsPerPixel
	}
	return DefaultUnitsPerPixel
}

// CalculateZoomLevels assigns Idx and Zoom to every point of a track.
// The tagging is a deterministic, purely local function of the
// cumulative planar distance along the track: an interior point gets
// zoom 20-k for the smallest k whose 2^k-sized distance bucket does not
// separate it from its predecessor, endpoints always get zoom 1. The
// input slice is tagged in place and returned.
func CalculateZoomLevels(points []mapdata.TrackPoint, opts Options) []mapdata.TrackPoint {
	upp := opts.unitsPerPixel()

	cumulative := 0.0
	prevScaled := 0.0
	for i := range points {
		points[i].Idx = i

		if i == 0 || i == len(points)-1 {
			points[i].Zoom = MinZoom
			if i == 0 {
				continue
			}
		}

		cumulative += geo.PlanarDistance(
			mapdata.Point{Lat: points[i-1].Lat, Lon: points[i-1].Lon},
			mapdata.Point{Lat: points[i].Lat, Lon: points[i].Lon},
		)
		scaled := cumulative / upp

		if i == len(points)-1 {
			prevScaled = scaled
			continue
		}

		points[i].Zoom = zoomForBucket(prevScaled, scaled)
		prevScaled = scaled
	}
	return points
}

// zoomForBucket finds the smallest k in [0,19] such that both scaled
// distances fall into the same 2^k bucket and maps it to a zoom level.
func zoomForBucket(prev, cur float64) int {
	for k := 0; k < MaxZoom; k++ {
		size := math.Exp2(float64(k))
		if math.Floor(prev/size) == math.Floor(cur/size) {
			return MaxZoom - k
		}
	}
	return MinZoom
}

// FilterByZoom returns the points visible at the requested display
// zoom, preserving order.
func FilterByZoom(points []mapdata.TrackPoint, zoom int) []mapdata.TrackPoint {
	out := make([]mapdata.TrackPoint, 0, len(points))
	for _, p := range points {
		if p.Zoom <= zoom {
			out = append(out, p)
		}
	}
	return out
}

// PrepareForBoundingBox windows a zoom-tagged track for one viewport.
// Points are first filtered by display zoom, then by bbox containment;
// whenever the filtered sequence crosses from outside to inside the
// bbox, the immediately preceding outside point is kept as well so the
// entering segment renders its true edge. With includeOverview set,
// points up to OverviewZoom are always retained regardless of bbox.
func PrepareForBoundingBox(points []mapdata.TrackPoint, bbox mapdata.Bbox, zoom int, includeOverview bool) []mapdata.TrackPoint {
	maxZoom := zoom
	if includeOverview && maxZoom < OverviewZoom {
		maxZoom = OverviewZoom
	}
	filtered := FilterByZoom(points, maxZoom)

	out := make([]mapdata.TrackPoint, 0, len(filtered))
	prevInside := false
	for i, p := range filtered {
		inside := geo.IsInBbox(mapdata.Point{Lat: p.Lat, Lon: p.Lon}, bbox)
		keep := inside
		if !keep && includeOverview && p.Zoom <= OverviewZoom {
			keep = true
		}

		if inside && !prevInside && i > 0 {
			prev := filtered[i-1]
			if len(out) == 0 || out[len(out)-1].Idx != prev.Idx {
				out = append(out, prev)
			}
		}
		if keep {
			out = append(out, p)
		}
		prevInside = inside
	}
	return out
}

// IndexRange is a half-open-free inclusive index window [Start,End].
type IndexRange struct {
	Start int
	End   int
}

// WindowIndexRanges widens each maximal contiguous run [a..b] of the
// matched indices to [a-1..b+1], clipped to [0,length-1], so refetched
// geometry includes one anchor point beyond each end of every visible
// segment. Overlapping windows are merged. Indices must be sorted
// ascending.
func WindowIndexRanges(indices []int, length int) []IndexRange {
	if len(indices) == 0 {
		return nil
	}

	var runs []IndexRange
	start := indices[0]
	prev := indices[0]
	for _, idx := range indices[1:] {
		if idx == prev+1 {
			prev = idx
			continue
		}
		runs = append(runs, IndexRange{Start: start, End: prev})
		start = idx
		prev = idx
	}
	runs = append(runs, IndexRange{Start: start, End: prev})

	out := make([]IndexRange, 0, len(runs))
	for _, r := range runs {
		widened := IndexRange{Start: r.Start - 1, End: r.End + 1}
		if widened.Start < 0 {
			widened.Start = 0
		}
		if widened.End > length-1 {
			widened.End = length - 1
		}
		if n := len(out); n > 0 && widened.Start <= out[n-1].End+1 {
			if widened.End > out[n-1].End {
				out[n-1].End = widened.End
			}
			continue
		}
		out = append(out, widened)
	}
	return out
}
