package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contestmap/contestmap/pkg/core"
)

func TestParseLat(t *testing.T) {
	v, err := ParseLat("43.9637")
	require.NoError(t, err)
	assert.InDelta(t, 43.9637, v, 1e-9)

	_, err = ParseLat("91")
	assert.ErrorIs(t, err, ErrInvalidCoordinates)
	_, err = ParseLat("abc")
	assert.ErrorIs(t, err, ErrInvalidCoordinates)
	_, err = ParseLat("")
	assert.ErrorIs(t, err, ErrInvalidCoordinates)
}

func TestParseLonWestPositive(t *testing.T) {
	// N3FJP reports west longitudes as positive numbers.
	v, err := ParseLonWestPositive("75.9319")
	require.NoError(t, err)
	assert.InDelta(t, -75.9319, v, 1e-9)

	// An eastern-hemisphere station comes through negative.
	v, err = ParseLonWestPositive("-11.608")
	require.NoError(t, err)
	assert.InDelta(t, 11.608, v, 1e-9)

	_, err = ParseLonWestPositive("999")
	assert.ErrorIs(t, err, ErrInvalidCoordinates)
}

func TestMercator3857(t *testing.T) {
	p := Mercator3857(core.GeoPoint{Lat: 0, Lon: 0})
	xy, ok := p.XY()
	require.True(t, ok)
	assert.InDelta(t, 0, xy.X, 1e-6)
	assert.InDelta(t, 0, xy.Y, 1e-6)

	p = Mercator3857(core.GeoPoint{Lat: 41.5, Lon: -72.7})
	xy, ok = p.XY()
	require.True(t, ok)
	// One degree of longitude is ~111319.49 m at the equator in EPSG:3857.
	assert.InDelta(t, -72.7*111319.4908, xy.X, 1.0)
	assert.Greater(t, xy.Y, 5_000_000.0)
}

func TestGlobe(t *testing.T) {
	v := Globe(core.GeoPoint{Lat: 90, Lon: 0})
	assert.InDelta(t, 0, v.X, 1e-9)
	assert.InDelta(t, 0, v.Y, 1e-9)
	assert.InDelta(t, 1, v.Z, 1e-9)

	v = Globe(core.GeoPoint{Lat: 0, Lon: 0})
	assert.InDelta(t, 1, v.X, 1e-9)

	v = Globe(core.GeoPoint{Lat: 41.5, Lon: -72.7})
	norm := math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
	assert.InDelta(t, 1, norm, 1e-9)
}

func TestParseSectionsFlat(t *testing.T) {
	raw := []byte(`{"CT": {"lat": 41.6, "lon": -72.7}, "wny": {"lat": 42.9, "lon": -78.0}}`)
	table, err := ParseSections(raw)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	p, ok := table.Centroid("CT")
	require.True(t, ok)
	assert.InDelta(t, 41.6, p.Lat, 1e-9)
	assert.NotEmpty(t, p.Grid)

	// lookup is case-insensitive
	_, ok = table.Centroid("WNY")
	assert.True(t, ok)
	_, ok = table.Centroid("wny")
	assert.True(t, ok)

	_, ok = table.Centroid("NOPE")
	assert.False(t, ok)
}

func TestParseSectionsFeatureCollection(t *testing.T) {
	raw := []byte(`{
		"type": "FeatureCollection",
		"features": [
			{
				"properties": {"section": "CT"},
				"geometry": {"type": "Polygon", "coordinates": [[[-74,41],[-71,41],[-71,42],[-74,42],[-74,41]]]}
			},
			{
				"properties": {"name": "no code here"},
				"geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}
			}
		]
	}`)
	table, err := ParseSections(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())

	p, ok := table.Centroid("ct")
	require.True(t, ok)
	assert.InDelta(t, 41.5, p.Lat, 1e-6)
	assert.InDelta(t, -72.5, p.Lon, 1e-6)
}

func TestParseSectionsBadInput(t *testing.T) {
	_, err := ParseSections([]byte(`[1,2,3]`))
	assert.Error(t, err)
}
