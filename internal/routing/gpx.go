package routing

import (
	"encoding/xml"
	"fmt"

	"github.com/chartwork/mapsync/pkg/mapdata"
)

type gpxFile struct {
	XMLName xml.Name `xml:"gpx"`
	Version string   `xml:"version,attr"`
	Creator string   `xml:"creator,attr"`
	Xmlns   string   `xml:"xmlns,attr"`
	Track   gpxTrack `xml:"trk"`
}

type gpxTrack struct {
	Name    string       `xml:"name,omitempty"`
	Type    string       `xml:"type,omitempty"`
	Segment []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat float64  `xml:"lat,attr"`
	Lon float64  `xml:"lon,attr"`
	Ele *float64 `xml:"ele,omitempty"`
}

// EncodeGPX renders track points as a single-track GPX 1.1 document.
func EncodeGPX(name string, mode mapdata.RouteMode, points []mapdata.TrackPoint) ([]byte, error) {
	seg := gpxSegment{Points: make([]gpxPoint, len(points))}
	for i, p := range points {
		seg.Points[i] = gpxPoint{Lat: p.Lat, Lon: p.Lon, Ele: p.Ele}
	}
	doc := gpxFile{
		Version: "1.1",
		Creator: "mapsync",
		Xmlns:   "http://www.topografix.com/GPX/1/1",
		Track: gpxTrack{
			Name:    name,
			Type:    string(mode),
			Segment: []gpxSegment{seg},
		},
	}

	out, err := xml.MarshalIndent(doc, "", "\t")
	if err != nil {
		return nil, fmt.Errorf("failed to encode gpx: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
