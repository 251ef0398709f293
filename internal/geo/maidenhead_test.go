package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridFromLatLon(t *testing.T) {
	tests := []struct {
		name string
		lat  float64
		lon  float64
		want string
	}{
		{"newington ct", 41.714, -72.727, "FN31pr"},
		{"munich", 48.147, 11.608, "JN58td"},
		{"equator prime meridian", 0.021, 0.042, "JJ00aa"},
		{"southern hemisphere", -34.91, -56.21, "GF15vc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GridFromLatLon(tt.lat, tt.lon))
		})
	}
}

func TestLatLonFromGrid(t *testing.T) {
	tests := []struct {
		name    string
		grid    string
		wantLat float64
		wantLon float64
		wantErr bool
	}{
		{"six char", "FN31pr", 41.7292, -72.7083, false},
		{"four char centers square", "FN31", 41.5, -73.0, false},
		{"lowercase field accepted", "fn31pr", 41.7292, -72.7083, false},
		{"too short", "FN3", 0, 0, true},
		{"empty", "", 0, 0, true},
		{"bad field", "99AA", 0, 0, true},
		{"bad square digits", "FNxy", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := LatLonFromGrid(tt.grid)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidGrid)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.wantLat, p.Lat, 0.01)
			assert.InDelta(t, tt.wantLon, p.Lon, 0.01)
		})
	}
}

func TestGridRoundTrip(t *testing.T) {
	// Encoding the decoded center of a subsquare must land back in the
	// same subsquare.
	for _, grid := range []string{"FN31pr", "JN58td", "GF15vc", "QF56od"} {
		p, err := LatLonFromGrid(grid)
		require.NoError(t, err)
		assert.Equal(t, grid, GridFromLatLon(p.Lat, p.Lon), "grid %s", grid)
	}
}
