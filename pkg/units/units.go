// Package units aggregates track-level measurements: total distance
// along a point sequence and cumulative elevation gain and loss.
package units

import (
	"github.com/chartwork/mapsync/internal/geo"
	"github.com/chartwork/mapsync/pkg/mapdata"
)

// TrackDistance sums the great-circle distance in meters along the
// points in index order.
func TrackDistance(points []mapdata.TrackPoint) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += geo.HaversineDistance(
			mapdata.Point{Lat: points[i-1].Lat, Lon: points[i-1].Lon},
			mapdata.Point{Lat: points[i].Lat, Lon: points[i].Lon})
	}
	return total
}

// ElevationGain sums the positive and negative elevation deltas along
// the points. Points without an elevation are skipped; nil is returned
// for both when fewer than two points carry one.
func ElevationGain(points []mapdata.TrackPoint) (ascent, descent *int) {
	up := 0.0
	down := 0.0
	known := 0

	var prev *float64
	for _, p := range points {
		if p.Ele == nil {
			continue
		}
		known++
		if prev != nil {
			d := *p.Ele - *prev
			if d > 0 {
				up += d
			} else {
				down -= d
			}
		}
		prev = p.Ele
	}

	if known < 2 {
		return nil, nil
	}
	a := int(up + 0.5)
	d := int(down + 0.5)
	return &a, &d
}
