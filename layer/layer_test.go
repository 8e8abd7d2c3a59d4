package layer

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"geoview/geo"
	"geoview/source"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomFeatures(r *rand.Rand, n int) []*source.Feature {
	fs := make([]*source.Feature, n)
	for i := range fs {
		x, y := r.Float64()*100, r.Float64()*100
		var g orb.Geometry = orb.Point{x, y}
		if i%3 == 0 {
			g = orb.LineString{{x, y}, {x + r.Float64()*10, y + r.Float64()*10}}
		}
		fs[i] = &source.Feature{Geometry: g, Properties: geojson.Properties{"n": i}}
	}
	return fs
}

func TestLocalFilter(t *testing.T) {
	src := source.NewMemVector("mixed", geo.WebMercator, []*source.Feature{
		{Geometry: orb.Point{1, 1}},
		{Geometry: orb.LineString{{2, 8}, {8, 2}}},
		{Geometry: orb.Polygon{{{10, 10}, {20, 10}, {20, 20}, {10, 20}, {10, 10}}}},
		{Geometry: orb.Point{5, 5}},
		{Geometry: orb.Point{30, 30}},
		{Geometry: orb.LineString{{0, 15}, {40, 15}}},
		{Geometry: orb.Point{15, 15}},
	})
	l, err := NewVectorLayer(1, src)
	require.NoError(t, err)
	require.False(t, l.Native())

	cases := []struct {
		env  geo.Envelope
		want []int64
	}{
		{geo.NewEnvelope(4, 4, 12, 12), []int64{1, 2, 3}},
		{geo.NewEnvelope(14, 14, 16, 16), []int64{2, 5, 6}},
		{geo.NewEnvelope(20, 20, 30, 30), []int64{2, 4}},
		{geo.NewEnvelope(25, 0, 35, 10), nil},
	}
	for _, c := range cases {
		require.NoError(t, l.SetSpatialFilterRect(c.env, geo.WebMercator))
		var got []int64
		for f, ok := l.NextFeatureID(); ok; f, ok = l.NextFeatureID() {
			got = append(got, f.ID)
		}
		assert.Equal(t, c.want, got, c.env.String())
	}
}

func TestLocalFilterMatchesLinearScan(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	fs := randomFeatures(r, 300)
	bounds := make([]orb.Bound, len(fs))
	for i, f := range fs {
		bounds[i] = f.Geometry.Bound()
	}
	src := source.NewMemVector("pts", geo.WebMercator, fs)
	l, err := NewVectorLayer(1, src)
	require.NoError(t, err)
	require.False(t, l.Native())

	for q := 0; q < 50; q++ {
		x, y := r.Float64()*110-5, r.Float64()*110-5
		x1, y1 := x+r.Float64()*40, y+r.Float64()*40
		var want []int64
		for i, b := range bounds {
			if b.Min[0] <= x1 && x <= b.Max[0] && b.Min[1] <= y1 && y <= b.Max[1] {
				want = append(want, int64(i))
			}
		}
		require.NoError(t, l.SetSpatialFilterRect(geo.NewEnvelope(x, y, x1, y1), geo.WebMercator))
		var got []int64
		for f, ok := l.NextFeatureID(); ok; f, ok = l.NextFeatureID() {
			got = append(got, f.ID)
		}
		assert.Equal(t, want, got, "query %d", q)
	}
}

func TestFilterRestartsIteration(t *testing.T) {
	src := source.NewMemVector("pts", geo.WebMercator, []*source.Feature{
		{Geometry: orb.Point{1, 1}},
		{Geometry: orb.Point{5, 5}},
		{Geometry: orb.Point{9, 9}},
	})
	l, err := NewVectorLayer(1, src)
	require.NoError(t, err)
	require.NoError(t, l.SetSpatialFilterRect(geo.NewEnvelope(0, 0, 6, 6), geo.WebMercator))
	f, ok := l.NextFeature()
	require.True(t, ok)
	assert.Equal(t, int64(0), f.ID)

	require.NoError(t, l.SetSpatialFilterRect(geo.NewEnvelope(4, 4, 10, 10), geo.WebMercator))
	f, ok = l.NextFeature()
	require.True(t, ok)
	assert.Equal(t, int64(1), f.ID)
	f, ok = l.NextFeature()
	require.True(t, ok)
	assert.Equal(t, int64(2), f.ID)
	_, ok = l.NextFeature()
	assert.False(t, ok)

	require.NoError(t, l.ResetReading())
	_, ok = l.NextFeatureID()
	assert.True(t, ok)
}

func TestNativeFilter(t *testing.T) {
	src := source.WithBoxFilter(source.NewMemVector("pts", geo.WebMercator, []*source.Feature{
		{Geometry: orb.Point{1, 1}},
		{Geometry: orb.Point{50, 50}},
	}))
	l, err := NewVectorLayer(3, src)
	require.NoError(t, err)
	assert.True(t, l.Native())
	assert.Nil(t, l.Index())

	require.NoError(t, l.SetSpatialFilterRect(geo.NewEnvelope(40, 40, 60, 60), geo.WebMercator))
	f, ok := l.NextFeatureID()
	require.True(t, ok)
	assert.Equal(t, int64(1), f.ID)
	assert.Equal(t, 3, f.Layer)
	_, ok = l.NextFeatureID()
	assert.False(t, ok)
}

func TestFilterReprojects(t *testing.T) {
	src := source.NewMemVector("wgs", geo.WGS84, []*source.Feature{
		{Geometry: orb.Point{2.35, 48.85}},
		{Geometry: orb.Point{-74, 40.7}},
	})
	l, err := NewVectorLayer(1, src)
	require.NoError(t, err)
	env, err := geo.Reproject(geo.NewEnvelope(2, 48, 3, 49), geo.WGS84, geo.WebMercator)
	require.NoError(t, err)
	require.NoError(t, l.SetSpatialFilterRect(env, geo.WebMercator))
	f, ok := l.NextFeatureID()
	require.True(t, ok)
	assert.Equal(t, int64(0), f.ID)
	_, ok = l.NextFeatureID()
	assert.False(t, ok)
}

func TestRejectsNonGeometric(t *testing.T) {
	src := source.NewMemVector("attrs", geo.WGS84, []*source.Feature{{Properties: geojson.Properties{"a": 1}}})
	_, err := NewVectorLayer(1, src)
	assert.ErrorIs(t, err, source.ErrNotGeometric)
}

func TestRasterRejectsDegenerate(t *testing.T) {
	flat, err := source.NewMemRaster("flat", 2, 2, geo.GeoTransform{0, 1, 1, 0, 1, 1}, geo.WebMercator, source.Byte, make([]float32, 4))
	require.NoError(t, err)
	_, err = NewRaster(flat)
	assert.ErrorIs(t, err, ErrDegenerateTransform)

	good, err := source.NewMemRaster("good", 2, 2, geo.GeoTransform{10, 1, 0, 20, 0, -1}, geo.WebMercator, source.Byte, make([]float32, 4))
	require.NoError(t, err)
	l, err := NewRasterLayer(1, "mix", flat, good)
	require.NoError(t, err)
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, geo.NewEnvelope(10, 18, 12, 20), l.Envelope())
	assert.Len(t, l.Tiles(geo.NewEnvelope(11, 19, 30, 30), 1), 1)
	assert.Empty(t, l.Tiles(geo.NewEnvelope(50, 50, 60, 60), 1))

	_, err = NewRasterLayer(2, "bad", flat)
	assert.ErrorIs(t, err, ErrDegenerateTransform)

	l.SetOpacity(3)
	assert.Equal(t, 1.0, l.Opacity())
}

func writeGeoJSON(t *testing.T, dir, name string, fc *geojson.FeatureCollection) string {
	t.Helper()
	data, err := fc.MarshalJSON()
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestBaseLifecycle(t *testing.T) {
	dir := t.TempDir()
	fc := geojson.NewFeatureCollection()
	a := geojson.NewFeature(orb.Point{1, 1})
	a.Properties["name"] = "a"
	b := geojson.NewFeature(orb.Point{3, 3})
	b.Properties["name"] = "b"
	fc.Append(a)
	fc.Append(b)
	path := writeGeoJSON(t, dir, "pts.geojson", fc)

	base := NewBase(geo.WGS84)
	first, err := base.OpenVector(path)
	require.NoError(t, err)
	require.Len(t, first, 1)
	second, err := base.OpenVector(path)
	require.NoError(t, err)
	assert.True(t, base.IsOpen(path))
	assert.Len(t, base.Vectors(), 2)
	assert.Equal(t, geo.NewEnvelope(1, 1, 3, 3), base.Envelope())

	require.NoError(t, base.Move(first[0].ID(), 1))
	assert.Equal(t, second[0].ID(), base.Vectors()[0].ID())

	n := base.SelectFeatures(geo.NewEnvelope(0, 0, 2, 2), geo.WGS84)
	assert.Equal(t, 2, n)
	fields, err := base.SelectionFields(first[0].ID(), 0)
	require.NoError(t, err)
	assert.Equal(t, []Field{{Name: "name", Value: "a"}, {Name: "geometry", Value: "Point"}}, fields)

	require.NoError(t, base.Remove(first[0].ID()))
	assert.Len(t, base.Selection(), 1)
	assert.True(t, base.IsOpen(path))
	require.NoError(t, base.Remove(second[0].ID()))
	assert.False(t, base.IsOpen(path))
	assert.Empty(t, base.Selection())

	assert.ErrorIs(t, base.Remove(99), ErrNoSuchLayer)
	_, err = base.Vector(99)
	assert.ErrorIs(t, err, ErrNoSuchLayer)
}

func TestBaseOpenErrors(t *testing.T) {
	dir := t.TempDir()
	base := NewBase(geo.WebMercator)
	_, err := base.OpenVector(filepath.Join(dir, "missing.geojson"))
	assert.Error(t, err)
	_, err = base.OpenVector(filepath.Join(dir, "x.shp"))
	assert.ErrorIs(t, err, source.ErrUnsupportedFormat)
	assert.Empty(t, base.Vectors())
	assert.False(t, base.Envelope().IsInit())
}

func TestBaseRastersAndClear(t *testing.T) {
	base := NewBase(geo.WebMercator)
	img, err := source.NewMemRaster("img", 2, 2, geo.GeoTransform{0, 1, 0, 2, 0, -1}, geo.WebMercator, source.Byte, make([]float32, 4))
	require.NoError(t, err)
	dtm, err := source.NewMemRaster("dtm", 2, 2, geo.GeoTransform{2, 1, 0, 2, 0, -1}, geo.WebMercator, source.Float32, make([]float32, 4))
	require.NoError(t, err)

	rl, err := base.AddRasterDatasets(KindRaster, "img", img)
	require.NoError(t, err)
	dl, err := base.AddRasterDatasets(KindDTM, "dtm", dtm)
	require.NoError(t, err)
	assert.Len(t, base.Rasters(), 1)
	assert.Len(t, base.DTMs(), 1)
	got, err := base.Raster(dl.ID())
	require.NoError(t, err)
	assert.Same(t, dl, got)
	assert.Equal(t, geo.NewEnvelope(0, 0, 4, 2), base.Envelope())
	assert.NotEqual(t, rl.ID(), dl.ID())

	base.Clear()
	assert.Empty(t, base.Rasters())
	assert.Empty(t, base.DTMs())
}
