// Package geo implements the viewport diff engine: bounding-box
// containment with anti-meridian wraparound, the "exclude previous box"
// delta used for incremental viewport fetches, and the distance helpers
// shared by the track simplifier and the router.
package geo

import (
	"math"

	"github.com/chartwork/mapsync/pkg/mapdata"
)

// IsInBbox reports whether the point lies inside the bbox. Latitude
// bounds are inclusive while longitude bounds are exclusive; boundary
// continuity in the track simplifier relies on exactly this asymmetry,
// so do not normalize it. A box with Right < Left crosses the
// anti-meridian and matches longitudes on either side of it.
func IsInBbox(p mapdata.Point, b mapdata.Bbox) bool {
	if p.Lat > b.Top || p.Lat < b.Bottom {
		return false
	}
	if b.Right >= b.Left {
		return p.Lon > b.Left && p.Lon < b.Right
	}
	return p.Lon > b.Left || p.Lon < b.Right
}

// ExceptDelta returns the rectangle to exclude from an incremental
// viewport fetch: the previous bbox, but only when one exists and the
// zoom level did not change. A zoom change invalidates the previously
// sent detail level, so the whole new bbox must be refetched.
func ExceptDelta(prev *mapdata.ZoomedBbox, next mapdata.ZoomedBbox) *mapdata.Bbox {
	if prev == nil || prev.Zoom != next.Zoom {
		return nil
	}
	except := prev.Bbox
	return &except
}

// MatchesQuery reports whether a point satisfies the incremental fetch
// predicate "inside bbox and not inside except". A nil except matches
// plain containment.
func MatchesQuery(p mapdata.Point, b mapdata.Bbox, except *mapdata.Bbox) bool {
	if !IsInBbox(p, b) {
		return false
	}
	return except == nil || !IsInBbox(p, *except)
}

// PlanarDistance returns the Euclidean distance between two points in
// degrees. This is a flat-earth approximation, acceptable for detail
// selection but never for navigation.
func PlanarDistance(a, b mapdata.Point) float64 {
	dx := a.Lon - b.Lon
	dy := a.Lat - b.Lat
	return math.Sqrt(dx*dx + dy*dy)
}

const earthRadiusMeters = 6371000

// HaversineDistance returns the great-circle distance between two
// points in meters.
func HaversineDistance(a, b mapdata.Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)

	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Interpolate returns the point at the given fraction along the segment
// from a to b. Fraction 0 is a, fraction 1 is b.
func Interpolate(a, b mapdata.Point, fraction float64) mapdata.Point {
	return mapdata.Point{
		Lat: a.Lat + fraction*(b.Lat-a.Lat),
		Lon: a.Lon + fraction*(b.Lon-a.Lon),
	}
}
