package geo

import (
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"github.com/chartwork/mapsync/pkg/mapdata"
)

// GEOMETRY STORAGE
// Track geometry is persisted as Web Mercator (EPSG:3857) WKB because
// SQLite has no spatial awareness and we need to round-trip geometry
// through plain blob columns during migrations.

// Point3857From4326 projects a WGS84 point into EPSG:3857 and returns
// it as a simplefeatures point suitable for WKB encoding.
func Point3857From4326(p mapdata.Point) (geom.Point, error) {
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(p.Lon, p.Lat, 0)
	return geom.NewPoint(geom.Coordinates{
		XY: geom.XY{X: x, Y: y},
	})
}

// LineString3857From4326 projects a track into EPSG:3857 as a
// simplefeatures line string. Fewer than two points yields an empty
// line string.
func LineString3857From4326(track []mapdata.TrackPoint) (geom.LineString, error) {
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	flat := make([]float64, 0, len(track)*2)
	for _, p := range track {
		x, y, _ := f(p.Lon, p.Lat, 0)
		flat = append(flat, x, y)
	}
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
}
