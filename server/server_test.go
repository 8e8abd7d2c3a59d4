package server

import (
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"geoview/geo"
	"geoview/layer"
	"geoview/metrics"
	"geoview/render"
	"geoview/shade"
	"geoview/source"
	"geoview/view"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func newServer(t *testing.T) *Server {
	t.Helper()
	params, err := shade.NewParams(shade.DefaultSettings())
	require.NoError(t, err)
	base := layer.NewBase(geo.WebMercator)
	gt := geo.GeoTransform{0, 1, 0, 10, 0, -1}
	img, err := source.NewMemRaster("img", 10, 10, gt, geo.WebMercator, source.Byte, fill(100, 0), fill(100, 0), fill(100, 250))
	require.NoError(t, err)
	_, err = base.AddRasterDatasets(layer.KindRaster, "img", img)
	require.NoError(t, err)
	dtm, err := source.NewMemRaster("dtm", 10, 10, gt, geo.WebMercator, source.Float32, fill(100, 50))
	require.NoError(t, err)
	_, err = base.AddRasterDatasets(layer.KindDTM, "dtm", dtm)
	require.NoError(t, err)
	_, err = base.AddVectorSource("pts", func() (source.Vector, error) {
		f := &source.Feature{Geometry: orb.Point{3, 3}, Properties: geojson.Properties{"name": "well"}}
		return source.NewMemVector("pts", geo.WebMercator, []*source.Feature{f}), nil
	})
	require.NoError(t, err)
	v := view.New(base, params, render.DefaultOptions(), 10, 10)
	return New(v, metrics.New("test"))
}

func do(t *testing.T, s *Server, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestMap(t *testing.T) {
	s := newServer(t)
	s.view.Base().DTMs()[0].SetVisible(false)
	rr := do(t, s, http.MethodGet, "/map.png?bbox=0,0,10,10&width=20&height=20", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	etag := rr.Header().Get("ETag")
	require.NotEmpty(t, etag)

	img, err := png.Decode(rr.Body)
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
	_, _, b, a := img.At(19, 0).RGBA()
	assert.Equal(t, uint32(0xffff), a)
	assert.Equal(t, uint32(250*0x101), b)

	rr = do(t, s, http.MethodGet, "/map.png?bbox=0,0,10,10&width=20&height=20", "", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, rr.Code)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/map.png?bbox=1,2,3", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/map.png?width=0", "", nil).Code)
}

func TestElevation(t *testing.T) {
	s := newServer(t)
	rr := do(t, s, http.MethodGet, "/elevation?x=5&y=5", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got map[string]float64
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.InDelta(t, 50, got["elevation"], 1e-6)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/elevation?x=500&y=500", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/elevation?x=5", "", nil).Code)
}

func TestFeatures(t *testing.T) {
	s := newServer(t)
	rr := do(t, s, http.MethodGet, "/features?bbox=0,0,5,5", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	fc, err := geojson.UnmarshalFeatureCollection(rr.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "well", fc.Features[0].Properties["name"])
	assert.Equal(t, "pts", fc.Features[0].Properties["layer"])

	id := s.view.Base().Vectors()[0].ID()
	rr = do(t, s, http.MethodGet, "/features/"+strconv.Itoa(id)+"/0", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var fields []layer.Field
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&fields))
	assert.Equal(t, []layer.Field{{Name: "name", Value: "well"}, {Name: "geometry", Value: "Point"}}, fields)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/features/99/0", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/features/"+strconv.Itoa(id)+"/7", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/features?bbox=a,b,c,d", "", nil).Code)
}

func TestShading(t *testing.T) {
	s := newServer(t)
	rr := do(t, s, http.MethodPut, "/shading", `{"mode":"slope","zenith":120,"contour":25}`, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got shading
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, "slope", got.Mode)
	assert.Equal(t, 90.0, got.Zenith)
	assert.Equal(t, 25.0, got.Contour)
	assert.Len(t, got.Colours, len(got.Breaks)+1)

	rr = do(t, s, http.MethodPut, "/shading", `{"breaks":[10,5]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, s, http.MethodPut, "/shading", `{"mode":"sepia"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, http.MethodGet, "/shading", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, "slope", got.Mode)
	s.view.Wait()
}

func TestShadingAltitudes(t *testing.T) {
	s := newServer(t)
	before := s.view.Params().Snapshot()
	rr := do(t, s, http.MethodPut, "/shading", `{"altitudes":[{"index":1,"z":500}]}`, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got shading
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, []float64{0, 400, 500, 600, 5500}, got.Breaks)
	c := before.Colours[1]
	assert.Equal(t, [3]uint8{c.R, c.G, c.B}, got.Colours[2])

	rr = do(t, s, http.MethodPut, "/shading", `{"altitudes":[{"index":0,"z":400}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, s, http.MethodPut, "/shading", `{"altitudes":[{"index":9,"z":1}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, []float64{0, 400, 500, 600, 5500}, s.view.Params().Snapshot().Z)
	s.view.Wait()
}

func TestMetrics(t *testing.T) {
	s := newServer(t)
	rr := do(t, s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "geoview_build_info")
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "", nil).Code)
}
