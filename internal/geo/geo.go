package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"github.com/contestmap/contestmap/pkg/core"
)

// ErrInvalidCoordinates is returned when a coordinate string cannot be parsed.
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// ParseLat parses a latitude tag value.
func ParseLat(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < -90 || v > 90 {
		return 0, ErrInvalidCoordinates
	}
	return v, nil
}

// ParseLonWestPositive parses a longitude tag value in the logging program's
// west-positive convention and returns a standard signed longitude. N3FJP
// reports "75.9319" for 75.9319 degrees west.
func ParseLonWestPositive(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < -180 || v > 180 {
		return 0, ErrInvalidCoordinates
	}
	return -v, nil
}

// Mercator3857 projects a WGS84 coordinate into Web Mercator (EPSG:3857),
// the plane the 2D rendering draws on.
func Mercator3857(p core.GeoPoint) geom.Point {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ := f(p.Lon, p.Lat, 0)
	pt, _ := geom.NewPoint(geom.Coordinates{
		XY: geom.XY{X: x, Y: y},
	})
	return pt
}

// Vector3 is a point on the unit sphere the 3D rendering draws on.
// X points at lat 0 lon 0, Z at the north pole.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Globe returns the unit-sphere vector for a coordinate.
func Globe(p core.GeoPoint) Vector3 {
	latRad := p.Lat * math.Pi / 180
	lonRad := p.Lon * math.Pi / 180
	return Vector3{
		X: math.Cos(latRad) * math.Cos(lonRad),
		Y: math.Cos(latRad) * math.Sin(lonRad),
		Z: math.Sin(latRad),
	}
}
