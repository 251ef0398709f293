package geo

import (
	"encoding/json"
	"fmt"
	"os"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/contestmap/contestmap/internal/util"
	"github.com/contestmap/contestmap/pkg/core"
)

// SectionTable maps canonical ARRL section codes to centroid coordinates.
// It is read-only after load.
type SectionTable struct {
	centroids map[string]core.GeoPoint
}

// sectionCentroid is the plain {"CT": {"lat": .., "lon": ..}} file entry.
type sectionCentroid struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// geoJSONFeature is the subset of a GeoJSON feature we need: a section code
// property and a boundary geometry.
type geoJSONFeature struct {
	Properties map[string]any  `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

type geoJSONCollection struct {
	Type     string           `json:"type"`
	Features []geoJSONFeature `json:"features"`
}

// LoadSections reads a section centroid table from path. Two formats are
// accepted: a flat code->{lat,lon} object, or a GeoJSON FeatureCollection of
// section boundaries, in which case each section's centroid is computed from
// its boundary polygon.
func LoadSections(path string) (*SectionTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sections file: %w", err)
	}
	return ParseSections(raw)
}

// ParseSections parses section centroid data from raw bytes.
func ParseSections(raw []byte) (*SectionTable, error) {
	t := &SectionTable{centroids: make(map[string]core.GeoPoint)}

	var collection geoJSONCollection
	if err := json.Unmarshal(raw, &collection); err == nil && collection.Type == "FeatureCollection" {
		if err := t.loadFeatures(collection.Features); err != nil {
			return nil, err
		}
		return t, nil
	}

	var flat map[string]sectionCentroid
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("sections file is neither a centroid map nor a FeatureCollection: %w", err)
	}
	for code, c := range flat {
		t.centroids[util.CanonicalSection(code)] = core.GeoPoint{
			Lat:  c.Lat,
			Lon:  c.Lon,
			Grid: GridFromLatLon(c.Lat, c.Lon),
		}
	}
	return t, nil
}

func (t *SectionTable) loadFeatures(features []geoJSONFeature) error {
	for _, f := range features {
		code := featureCode(f.Properties)
		if code == "" {
			continue
		}
		g, err := geom.UnmarshalGeoJSON(f.Geometry)
		if err != nil {
			return fmt.Errorf("section %s: bad boundary geometry: %w", code, err)
		}
		centroid, ok := g.Centroid().XY()
		if !ok {
			continue
		}
		t.centroids[util.CanonicalSection(code)] = core.GeoPoint{
			Lat:  centroid.Y,
			Lon:  centroid.X,
			Grid: GridFromLatLon(centroid.Y, centroid.X),
		}
	}
	return nil
}

func featureCode(props map[string]any) string {
	for _, key := range []string{"section", "code", "abbrev", "id"} {
		if v, ok := props[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Centroid returns the centroid for a section code, if known.
func (t *SectionTable) Centroid(code string) (core.GeoPoint, bool) {
	p, ok := t.centroids[util.CanonicalSection(code)]
	return p, ok
}

// Len returns the number of sections in the table.
func (t *SectionTable) Len() int {
	return len(t.centroids)
}
