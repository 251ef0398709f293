// pkg/core/geopoint.go
package core

// GeoPoint is a WGS84 coordinate with an optional Maidenhead grid locator.
type GeoPoint struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Grid string  `json:"grid,omitempty"`
}

// Valid reports whether the point carries a usable coordinate pair.
// (0,0) is in the Gulf of Guinea and never a real station location.
func (p GeoPoint) Valid() bool {
	return p.Lat != 0 || p.Lon != 0
}
