package geo

import (
	"errors"
	"strings"

	"github.com/contestmap/contestmap/pkg/core"
)

// ErrInvalidGrid is returned when a Maidenhead locator cannot be decoded.
var ErrInvalidGrid = errors.New("invalid maidenhead grid locator")

const (
	upperAlpha = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerAlpha = "abcdefghijklmnopqrstuvwxyz"
)

// GridFromLatLon encodes a coordinate as a 6-character Maidenhead locator
// (field, square, subsquare), e.g. 41.714,-72.727 -> "FN31pr".
func GridFromLatLon(lat, lon float64) string {
	lon += 180.0
	lat += 90.0

	f1 := int(lon / 20)
	f2 := int(lat / 10)
	r1 := int(mod(lon, 20) / 2)
	r2 := int(mod(lat, 10))
	s1 := int(mod(lon, 2) * 60 / 5)
	s2 := int(mod(lat, 1) * 60 / 2.5)

	return string([]byte{
		upperAlpha[clampIdx(f1, 17)],
		upperAlpha[clampIdx(f2, 17)],
		byte('0' + clampIdx(r1, 9)),
		byte('0' + clampIdx(r2, 9)),
		lowerAlpha[clampIdx(s1, 23)],
		lowerAlpha[clampIdx(s2, 23)],
	})
}

// LatLonFromGrid decodes a 4- or 6-character Maidenhead locator to the
// center coordinate of the designated square. Longer locators are truncated
// to subsquare precision.
func LatLonFromGrid(grid string) (core.GeoPoint, error) {
	g := strings.TrimSpace(grid)
	if len(g) < 4 {
		return core.GeoPoint{}, ErrInvalidGrid
	}

	fieldLon := strings.IndexByte(upperAlpha, upper(g[0]))
	fieldLat := strings.IndexByte(upperAlpha, upper(g[1]))
	if fieldLon < 0 || fieldLon > 17 || fieldLat < 0 || fieldLat > 17 {
		return core.GeoPoint{}, ErrInvalidGrid
	}
	if g[2] < '0' || g[2] > '9' || g[3] < '0' || g[3] > '9' {
		return core.GeoPoint{}, ErrInvalidGrid
	}

	lon := float64(fieldLon)*20 - 180 + float64(g[2]-'0')*2
	lat := float64(fieldLat)*10 - 90 + float64(g[3]-'0')

	if len(g) >= 6 {
		subLon := strings.IndexByte(lowerAlpha, lower(g[4]))
		subLat := strings.IndexByte(lowerAlpha, lower(g[5]))
		if subLon < 0 || subLon > 23 || subLat < 0 || subLat > 23 {
			return core.GeoPoint{}, ErrInvalidGrid
		}
		lon += float64(subLon) * 5 / 60.0
		lat += float64(subLat) * 2.5 / 60.0
		// center of the subsquare
		lon += (5 / 60.0) / 2
		lat += (2.5 / 60.0) / 2
	} else {
		// center of the square
		lon += 1.0
		lat += 0.5
	}

	return core.GeoPoint{Lat: lat, Lon: lon, Grid: g}, nil
}

func mod(v, m float64) float64 {
	r := v - float64(int(v/m))*m
	if r < 0 {
		r += m
	}
	return r
}

func clampIdx(i, max int) int {
	if i < 0 {
		return 0
	}
	if i > max {
		return max
	}
	return i
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b - 'A' + 'a'
	}
	return b
}
