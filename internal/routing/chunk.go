package routing

import (
	"github.com/chartwork/mapsync/internal/geo"
	"github.com/chartwork/mapsync/pkg/mapdata"
)

// chunkWaypoints splits a waypoint list into consecutive chunks of at
// most max points, each chunk sharing its first waypoint with the last
// waypoint of the previous chunk so the concatenated route is gapless.
// The overlap means a chunk below two points cannot advance, so max is
// clamped to two.
func chunkWaypoints(waypoints []mapdata.Point, max int) [][]mapdata.Point {
	if max < 2 {
		max = 2
	}
	if len(waypoints) <= max {
		return [][]mapdata.Point{waypoints}
	}

	var chunks [][]mapdata.Point
	start := 0
	for start < len(waypoints)-1 {
		end := start + max
		if end > len(waypoints) {
			end = len(waypoints)
		}
		chunks = append(chunks, waypoints[start:end])
		start = end - 1
	}
	return chunks
}

// mergeRoutes concatenates chunk results into one route. The shared
// boundary waypoint appears in two chunks, so the first geometry point
// of every chunk but the first is dropped. Metrics aggregate by
// summation; a metric missing from any chunk is missing from the total.
func mergeRoutes(chunks []*Route) *Route {
	merged := &Route{}

	timeTotal := 0
	ascentTotal := 0
	descentTotal := 0
	haveTime := true
	haveAscent := true
	haveDescent := true

	for i, c := range chunks {
		points := c.TrackPoints
		if i > 0 && len(points) > 0 {
			points = points[1:]
		}
		merged.TrackPoints = append(merged.TrackPoints, points...)

		merged.Distance += c.Distance
		if c.Time != nil {
			timeTotal += *c.Time
		} else {
			haveTime = false
		}
		if c.Ascent != nil {
			ascentTotal += *c.Ascent
		} else {
			haveAscent = false
		}
		if c.Descent != nil {
			descentTotal += *c.Descent
		} else {
			haveDescent = false
		}
	}

	for i := range merged.TrackPoints {
		merged.TrackPoints[i].Idx = i
	}

	if haveTime {
		merged.Time = &timeTotal
	}
	if haveAscent {
		merged.Ascent = &ascentTotal
	}
	if haveDescent {
		merged.Descent = &descentTotal
	}
	return merged
}

// ResampleTrack returns points sampled from the track at approximately
// the given interval in meters, linearly interpolating inside any
// source segment longer than the interval. The first and last points
// are always kept.
func ResampleTrack(points []mapdata.Point, intervalMeters float64) []mapdata.Point {
	if len(points) == 0 {
		return nil
	}
	if intervalMeters <= 0 || len(points) == 1 {
		return points
	}

	sampled := []mapdata.Point{points[0]}
	accumulated := 0.0

	for i := 1; i < len(points); i++ {
		prev := points[i-1]
		cur := points[i]
		segment := geo.HaversineDistance(prev, cur)

		for accumulated+segment >= intervalMeters {
			remaining := intervalMeters - accumulated
			fraction := remaining / segment
			next := geo.Interpolate(prev, cur, fraction)
			sampled = append(sampled, next)

			prev = next
			segment -= remaining
			accumulated = 0
		}
		accumulated += segment
	}

	last := points[len(points)-1]
	if sampled[len(sampled)-1] != last {
		sampled = append(sampled, last)
	}
	return sampled
}
