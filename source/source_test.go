package source

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"geoview/geo"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestGeoJSONCollection(t *testing.T) {
	path := writeFile(t, "roads.geojson", `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"name":"a"},"geometry":{"type":"Point","coordinates":[1,2]}},
		{"type":"Feature","properties":{"name":"b"},"geometry":null},
		{"type":"Feature","properties":{"name":"c"},"geometry":{"type":"LineString","coordinates":[[0,0],[4,5]]}}
	]}`)
	src, err := OpenGeoJSON(path)
	require.NoError(t, err)
	assert.Equal(t, "roads", src.Name())
	assert.Equal(t, geo.WGS84, src.SpatialRef())
	assert.EqualValues(t, 2, src.Count())

	f, err := src.Feature(1)
	require.NoError(t, err)
	assert.Equal(t, "c", f.Properties["name"])
	assert.Equal(t, int64(1), f.ID)

	env, err := src.Envelope()
	require.NoError(t, err)
	assert.Equal(t, geo.NewEnvelope(0, 0, 4, 5), env)

	_, err = src.Feature(7)
	assert.ErrorIs(t, err, ErrNoFeature)
}

func TestGeoJSONSingleGeometry(t *testing.T) {
	path := writeFile(t, "poly.json", `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`)
	src, err := OpenGeoJSON(path)
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.Count())
}

func TestGeoJSONWithoutGeometry(t *testing.T) {
	path := writeFile(t, "empty.geojson", `{"type":"FeatureCollection","features":[]}`)
	_, err := OpenGeoJSON(path)
	assert.ErrorIs(t, err, ErrNotGeometric)
}

func TestIndexedMemVectorQuery(t *testing.T) {
	src := WithBoxFilter(NewMemVector("pts", geo.WebMercator, []*Feature{
		{Geometry: orb.Point{1, 1}},
		{Geometry: orb.Point{10, 10}},
		{Geometry: orb.Point{2, 3}},
	}))
	c, err := src.Query(geo.NewEnvelope(0, 0, 5, 5))
	require.NoError(t, err)
	defer c.Close()
	var ids []int64
	for f, ok := c.Next(); ok; f, ok = c.Next() {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []int64{0, 2}, ids)
	assert.NoError(t, c.Err())
}

func TestMemRasterReadWindow(t *testing.T) {
	data := []float32{
		0, 1, 2, 3,
		4, 5, 6, 7,
		8, 9, 10, 11,
		12, 13, 14, 15,
	}
	r, err := NewMemRaster("grid", 4, 4, geo.GeoTransform{0, 1, 0, 4, 0, -1}, geo.Unknown, Float32, data)
	require.NoError(t, err)

	dst := make([]float32, 4)
	require.NoError(t, r.ReadWindow(1, image.Rect(1, 1, 3, 3), 2, 2, Nearest, dst))
	assert.Equal(t, []float32{5, 6, 9, 10}, dst)

	dst = make([]float32, 1)
	require.NoError(t, r.ReadWindow(1, image.Rect(0, 0, 4, 4), 1, 1, Nearest, dst))
	assert.Equal(t, float32(10), dst[0])

	// bilinear at the centre of a 2x2 window averages the four samples
	require.NoError(t, r.ReadWindow(1, image.Rect(0, 0, 2, 2), 1, 1, Bilinear, dst))
	assert.InDelta(t, 2.5, dst[0], 1e-6)

	assert.ErrorIs(t, r.ReadWindow(2, image.Rect(0, 0, 2, 2), 1, 1, Nearest, dst), ErrBand)
	assert.ErrorIs(t, r.ReadWindow(1, image.Rect(2, 2, 6, 6), 1, 1, Nearest, dst), ErrWindow)
}

func TestBilinearSkipsNoData(t *testing.T) {
	r, err := NewMemRaster("dtm", 2, 1, geo.DefaultGeoTransform, geo.Unknown, Float32, []float32{-999, 100})
	require.NoError(t, err)
	r.SetNoData(-999)
	dst := make([]float32, 4)
	require.NoError(t, r.ReadWindow(1, image.Rect(0, 0, 2, 1), 4, 1, Bilinear, dst))
	assert.Equal(t, []float32{-999, -999, 100, 100}, dst)
}

func TestOpenASCIIGrid(t *testing.T) {
	path := writeFile(t, "dem.asc", `ncols 3
nrows 2
xllcorner 100
yllcorner 200
cellsize 10
NODATA_value -9999
1 2 3
4 -9999 6
`)
	r, err := OpenASCIIGrid(path, geo.WebMercator)
	require.NoError(t, err)
	w, h := r.Size()
	assert.Equal(t, 3, w)
	assert.Equal(t, 2, h)
	assert.Equal(t, geo.GeoTransform{100, 10, 0, 220, 0, -10}, r.GeoTransform())
	nd, ok := r.NoData(1)
	assert.True(t, ok)
	assert.Equal(t, -9999.0, nd)

	dst := make([]float32, 6)
	require.NoError(t, r.ReadWindow(1, image.Rect(0, 0, 3, 2), 3, 2, Nearest, dst))
	assert.Equal(t, []float32{1, 2, 3, 4, -9999, 6}, dst)
}

func TestOpenASCIIGridShort(t *testing.T) {
	path := writeFile(t, "dem.asc", "ncols 3\nnrows 2\nxllcorner 0\nyllcorner 0\ncellsize 1\n1 2 3\n")
	_, err := OpenASCIIGrid(path, geo.Unknown)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestOpenImageWithWorldFile(t *testing.T) {
	dir := t.TempDir()
	img := image.NewPaletted(image.Rect(0, 0, 4, 2), color.Palette{color.RGBA{255, 0, 0, 255}, color.RGBA{0, 0, 255, 255}})
	img.SetColorIndex(1, 0, 1)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "map.png"), buf.Bytes(), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "map.pgw"), []byte("2\n0\n0\n-2\n11\n99\n"), 0644))

	r, err := OpenImage(filepath.Join(dir, "map.png"), geo.WebMercator)
	require.NoError(t, err)
	assert.Equal(t, geo.GeoTransform{10, 2, 0, 100, 0, -2}, r.GeoTransform())
	assert.Equal(t, 1, r.BandCount())
	require.Len(t, r.ColorTable(), 2)

	dst := make([]float32, 2)
	require.NoError(t, r.ReadWindow(1, image.Rect(0, 0, 2, 1), 2, 1, Nearest, dst))
	assert.Equal(t, []float32{0, 1}, dst)
}

func TestOpenImageWithoutGeoreference(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	img.Set(2, 2, color.RGBA{10, 20, 30, 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, "plain.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	r, err := OpenImage(path, geo.Unknown)
	require.NoError(t, err)
	assert.Equal(t, geo.DefaultGeoTransform, r.GeoTransform())
	assert.Equal(t, 3, r.BandCount())
	dst := make([]float32, 1)
	for band, want := range []float32{10, 20, 30} {
		require.NoError(t, r.ReadWindow(band+1, image.Rect(2, 2, 3, 3), 1, 1, Nearest, dst))
		assert.Equal(t, want, dst[0])
	}
}

// tiffWithGeoKeys builds the header and first IFD of a little endian TIFF
// holding pixel scale, tie point and a projected CRS key.
func tiffWithGeoKeys(scale [3]float64, tie [6]float64, epsg uint16) []byte {
	const entries = 3
	var b bytes.Buffer
	le := binary.LittleEndian
	b.WriteString("II")
	binary.Write(&b, le, uint16(42))
	binary.Write(&b, le, uint32(8))
	binary.Write(&b, le, uint16(entries))
	dataStart := uint32(8 + 2 + entries*12 + 4)
	scaleOff := dataStart
	tieOff := scaleOff + 3*8
	keysOff := tieOff + 6*8
	writeEntry := func(tag, typ uint16, count, value uint32) {
		binary.Write(&b, le, tag)
		binary.Write(&b, le, typ)
		binary.Write(&b, le, count)
		binary.Write(&b, le, value)
	}
	writeEntry(tagModelPixelScale, tiffTypeDouble, 3, scaleOff)
	writeEntry(tagModelTiepoint, tiffTypeDouble, 6, tieOff)
	writeEntry(tagGeoKeyDirectory, tiffTypeShort, 8, keysOff)
	binary.Write(&b, le, uint32(0))
	binary.Write(&b, le, scale)
	binary.Write(&b, le, tie)
	binary.Write(&b, le, []uint16{1, 1, 0, 1, keyProjectedCSType, 0, 1, epsg})
	return b.Bytes()
}

func TestReadGeoTags(t *testing.T) {
	data := tiffWithGeoKeys([3]float64{30, 30, 0}, [6]float64{0, 0, 0, 500000, 4000000, 0}, 3857)
	tags, err := readGeoTags(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, geo.WebMercator, tags.crs)
	assert.Equal(t, geo.GeoTransform{500000, 30, 0, 4000000, 0, -30}, tags.gt)

	_, err = readGeoTags(bytes.NewReader([]byte("not a tiff at all")))
	assert.Error(t, err)
}

func pngTile(t *testing.T, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	for y := 0; y < TileSize; y++ {
		for x := 0; x < TileSize; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestTileServerCachesTiles(t *testing.T) {
	var calls int32
	body := pngTile(t, color.RGBA{0, 128, 0, 255})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/3/1/2.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	}))
	defer ts.Close()

	s, err := NewTileServer("osm", ts.URL+"/{z}/{x}/{y}.png", 0, 18, 8)
	require.NoError(t, err)
	var hits int
	s.OnCache = func(hit bool) {
		if hit {
			hits++
		}
	}
	tile := maptile.New(1, 2, 3)
	for i := 0; i < 3; i++ {
		img, err := s.FetchTile(tile)
		require.NoError(t, err)
		assert.Equal(t, TileSize, img.Bounds().Dx())
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, 2, hits)

	_, err = s.FetchTile(maptile.New(0, 0, 3))
	assert.Error(t, err)

	_, err = NewTileServer("bad", "http://example.com/tiles", 0, 18, 8)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestTileURL(t *testing.T) {
	s, err := NewTileServer("tms", "http://h/{z}/{x}/{-y}.png", 0, 18, 1)
	require.NoError(t, err)
	assert.Equal(t, "http://h/2/1/3.png", s.TileURL(maptile.New(1, 0, 2)))
}

func TestPyramidTiles(t *testing.T) {
	s, err := NewTileServer("osm", "http://h/{z}/{x}/{y}.png", 0, 18, 1)
	require.NoError(t, err)
	p := NewPyramid(s)
	assert.Equal(t, maptile.Zoom(0), p.ZoomFor(InitialResolution))
	assert.Equal(t, maptile.Zoom(2), p.ZoomFor(InitialResolution/4))
	assert.Equal(t, maptile.Zoom(18), p.ZoomFor(0.0001))

	// the whole world at zoom 1 is four tiles
	tiles := p.Tiles(s.Bounds(), InitialResolution/2)
	require.Len(t, tiles, 4)
	tr := tiles[0].(*TileRaster)
	assert.Equal(t, maptile.New(0, 0, 1), tr.Tile())
	gt := tr.GeoTransform()
	assert.InDelta(t, InitialResolution/2, gt[1], 1e-6)
	assert.InDelta(t, -InitialResolution/2, gt[5], 1e-6)

	p.MaxTiles = 3
	assert.Empty(t, p.Tiles(s.Bounds(), InitialResolution/2))
}

type closer struct{ closed int }

func (c *closer) Close() error {
	c.closed++
	return nil
}

func TestRegistryRefCounts(t *testing.T) {
	reg := NewRegistry()
	ds := &closer{}
	opens := 0
	open := func() (io.Closer, error) {
		opens++
		return ds, nil
	}
	a, err := reg.Acquire("dem.asc", open)
	require.NoError(t, err)
	b, err := reg.Acquire("dem.asc", open)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, opens)
	assert.Equal(t, 2, reg.Refs("dem.asc"))

	reg.Release("dem.asc")
	assert.True(t, reg.IsOpen("dem.asc"))
	assert.Equal(t, 0, ds.closed)

	reg.Release("dem.asc")
	assert.False(t, reg.IsOpen("dem.asc"))
	assert.Equal(t, 1, ds.closed)

	reg.Release("dem.asc")
	assert.Equal(t, 1, ds.closed)
}
