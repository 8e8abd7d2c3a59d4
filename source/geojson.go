package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"geoview/geo"

	"github.com/paulmach/orb/geojson"
)

//GeoJSON file source, features are kept in memory in file order
type GeoJSON struct {
	*MemVector
	path string
}

//OpenGeoJSON reads a FeatureCollection, a single Feature or a bare geometry
func OpenGeoJSON(path string) (*GeoJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	fc, err := decodeGeoJSON(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	features := make([]*Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		features = append(features, &Feature{Geometry: f.Geometry, Properties: f.Properties})
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNotGeometric)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &GeoJSON{MemVector: NewMemVector(name, geo.WGS84, features), path: path}, nil
}

func decodeGeoJSON(data []byte) (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err == nil {
		return fc, nil
	}
	if f, ferr := geojson.UnmarshalFeature(data); ferr == nil && f.Geometry != nil {
		fc = geojson.NewFeatureCollection()
		fc.Append(f)
		return fc, nil
	}
	g, gerr := geojson.UnmarshalGeometry(data)
	if gerr != nil {
		return nil, err
	}
	fc = geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(g.Geometry()))
	return fc, nil
}

func (g *GeoJSON) Path() string {
	return g.path
}
