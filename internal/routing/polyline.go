package routing

import (
	"math"

	"github.com/chartwork/mapsync/pkg/mapdata"
)

// Google polyline codec, precision 5 (the format both routing backends
// speak). https://developers.google.com/maps/documentation/utilities/polylinealgorithm

// DecodePolyline decodes a polyline-encoded string into points.
func DecodePolyline(encoded string) []mapdata.Point {
	if encoded == "" {
		return nil
	}

	var points []mapdata.Point
	index := 0
	lat := 0
	lon := 0

	for index < len(encoded) {
		latDelta, next := decodePolylineValue(encoded, index)
		index = next
		lat += latDelta

		lonDelta, next := decodePolylineValue(encoded, index)
		index = next
		lon += lonDelta

		points = append(points, mapdata.Point{
			Lat: float64(lat) / 1e5,
			Lon: float64(lon) / 1e5,
		})
	}
	return points
}

func decodePolylineValue(encoded string, index int) (int, int) {
	shift := 0
	result := 0

	for index < len(encoded) {
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), index
	}
	return result >> 1, index
}

// EncodePolyline encodes points as a polyline string.
func EncodePolyline(points []mapdata.Point) string {
	if len(points) == 0 {
		return ""
	}

	encoded := make([]byte, 0, len(points)*4)
	prevLat := 0
	prevLon := 0

	for _, p := range points {
		lat := int(math.Round(p.Lat * 1e5))
		lon := int(math.Round(p.Lon * 1e5))

		encoded = encodePolylineValue(encoded, lat-prevLat)
		encoded = encodePolylineValue(encoded, lon-prevLon)

		prevLat = lat
		prevLon = lon
	}
	return string(encoded)
}

func encodePolylineValue(buf []byte, value int) []byte {
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}

	for value >= 0x20 {
		buf = append(buf, byte((value&0x1f)|0x20)+63)
		value >>= 5
	}
	return append(buf, byte(value)+63)
}
