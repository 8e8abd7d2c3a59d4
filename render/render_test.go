package render

import (
	"image"
	"sync"
	"testing"
	"time"

	"geoview/geo"
	"geoview/layer"
	"geoview/shade"
	"geoview/source"

	"github.com/paulmach/orb"
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

func newJob(t *testing.T, base *layer.Base) *Job {
	t.Helper()
	params, err := shade.NewParams(shade.DefaultSettings())
	require.NoError(t, err)
	return NewJob(base, params, DefaultOptions())
}

func addImagery(t *testing.T, base *layer.Base) {
	t.Helper()
	img, err := source.NewMemRaster("img", 10, 10, geo.GeoTransform{0, 1, 0, 10, 0, -1}, geo.WebMercator, source.Byte,
		fill(100, 200), fill(100, 0), fill(100, 0))
	require.NoError(t, err)
	_, err = base.AddRasterDatasets(layer.KindRaster, "img", img)
	require.NoError(t, err)
	dtm, err := source.NewMemRaster("dtm", 10, 10, geo.GeoTransform{0, 1, 0, 10, 0, -1}, geo.WebMercator, source.Float32, fill(100, 50))
	require.NoError(t, err)
	_, err = base.AddRasterDatasets(layer.KindDTM, "dtm", dtm)
	require.NoError(t, err)
}

func points(n int, step float64) []*source.Feature {
	fs := make([]*source.Feature, n)
	for i := range fs {
		fs[i] = &source.Feature{Geometry: orb.Point{float64(i%20)*step + 3, float64(i/20)*step + 3}}
	}
	return fs
}

func addPoints(t *testing.T, base *layer.Base, n int, step float64) {
	t.Helper()
	_, err := base.AddVectorSource("pts", func() (source.Vector, error) {
		return source.NewMemVector("pts", geo.WebMercator, points(n, step)), nil
	})
	require.NoError(t, err)
}

func copyPix(img *image.RGBA) []byte {
	if img == nil {
		return nil
	}
	return append([]byte(nil), img.Pix...)
}

func maxDiff(a, b []byte) int {
	d := 0
	for i := range a {
		v := int(a[i]) - int(b[i])
		if v < 0 {
			v = -v
		}
		if v > d {
			d = v
		}
	}
	return d
}

func TestVectorOnlyLeavesOtherBuffers(t *testing.T) {
	base := layer.NewBase(geo.WebMercator)
	addImagery(t, base)
	j := newJob(t, base)
	j.SetWorld(0, 10, 1, 10, 10, false)
	j.SetUpdate(true, true, true, true)
	j.Run()
	j.Wait()
	require.Equal(t, Completed, j.State())

	raster := copyPix(j.Surface(RasterBuffer))
	dtm := copyPix(j.Surface(DTMBuffer))
	overlay := copyPix(j.Surface(OverlayBuffer))
	require.NotNil(t, raster)
	require.NotNil(t, dtm)
	require.NotNil(t, overlay)
	assert.Equal(t, []byte{200, 0, 0, 255}, raster[:4])

	j.SetUpdate(false, false, false, true)
	j.Run()
	j.Wait()
	assert.Equal(t, Completed, j.State())
	assert.Zero(t, j.NumObjectsDrawn())
	assert.Equal(t, raster, copyPix(j.Surface(RasterBuffer)))
	assert.Equal(t, dtm, copyPix(j.Surface(DTMBuffer)))
	assert.Equal(t, overlay, copyPix(j.Surface(OverlayBuffer)))
	vector := j.Surface(VectorBuffer)
	require.NotNil(t, vector)
	for i := 3; i < len(vector.Pix); i += 4 {
		require.Zero(t, vector.Pix[i])
	}
}

func TestDrawComposites(t *testing.T) {
	base := layer.NewBase(geo.WebMercator)
	addImagery(t, base)
	base.DTMs()[0].SetVisible(false)
	j := newJob(t, base)
	j.SetWorld(0, 10, 1, 10, 10, false)
	j.SetUpdate(true, true, true, true)
	j.Run()
	j.Wait()

	dst := image.NewRGBA(image.Rect(0, 0, 20, 20))
	j.Draw(dst, 5, 5)
	assert.Equal(t, uint8(200), dst.RGBAAt(6, 6).R)
	assert.Zero(t, dst.RGBAAt(1, 1).A)
}

func TestElevationAt(t *testing.T) {
	base := layer.NewBase(geo.WebMercator)
	addImagery(t, base)
	j := newJob(t, base)
	j.SetWorld(0, 10, 1, 10, 10, false)
	j.SetUpdate(false, false, true, false)
	j.Run()
	j.Wait()

	v, ok := j.ElevationAt(5, 5)
	require.True(t, ok)
	assert.InDelta(t, 50, v, 1e-6)
	_, ok = j.ElevationAt(50, 5)
	assert.False(t, ok)
	assert.NotNil(t, j.Elevation())
}

func TestSupersededRunMatchesLatestWorld(t *testing.T) {
	base := layer.NewBase(geo.WebMercator)
	addPoints(t, base, 4000, 5)
	j := newJob(t, base)
	j.SetWorld(0, 100, 1, 100, 100, false)
	j.SetUpdate(true, true, true, true)
	j.Run()
	j.SetWorld(-20, 150, 2, 100, 100, false)
	j.SetUpdate(true, true, true, true)
	j.Run()
	j.Wait()
	require.Equal(t, Completed, j.State())

	ref := newJob(t, base)
	ref.SetWorld(-20, 150, 2, 100, 100, false)
	ref.SetUpdate(true, true, true, true)
	ref.Run()
	ref.Wait()

	got, want := j.Surface(VectorBuffer), ref.Surface(VectorBuffer)
	require.NotNil(t, got)
	require.NotNil(t, want)
	assert.Equal(t, want.Pix, got.Pix)
}

func TestStaleFramesDropped(t *testing.T) {
	j := newJob(t, layer.NewBase(geo.WebMercator))
	j.SetWorld(0, 10, 1, 10, 10, false)
	j.box.post(&Frame{Kind: RasterBuffer, Image: image.NewRGBA(image.Rect(0, 0, 10, 10)), World: geo.Transform{X0: 1, Y0: 10, Scale: 1}, W: 10, H: 10})
	assert.Nil(t, j.Surface(RasterBuffer))

	j.box.post(&Frame{Kind: RasterBuffer, Image: image.NewRGBA(image.Rect(0, 0, 10, 10)), World: geo.Transform{X0: 0, Y0: 10, Scale: 1}, W: 10, H: 10})
	assert.NotNil(t, j.Surface(RasterBuffer))
}

func TestPanRedrawsExposedStrips(t *testing.T) {
	base := layer.NewBase(geo.WebMercator)
	addPoints(t, base, 400, 11)
	j := newJob(t, base)
	j.SetWorld(0, 120, 1, 120, 120, false)
	j.SetUpdate(false, false, false, true)
	j.Run()
	j.Wait()

	j.SetWorld(13, 111, 1, 120, 120, false)
	j.SetUpdate(false, false, false, true)
	j.Run()
	j.Wait()
	assert.True(t, j.Stats().Incremental)

	ref := newJob(t, base)
	ref.SetWorld(13, 111, 1, 120, 120, false)
	ref.SetUpdate(false, false, false, true)
	ref.Run()
	ref.Wait()
	assert.LessOrEqual(t, maxDiff(ref.Surface(VectorBuffer).Pix, j.Surface(VectorBuffer).Pix), 2)

	j.SetWorld(13, 111, 1, 120, 120, true)
	j.SetUpdate(false, false, false, true)
	j.Run()
	j.Wait()
	assert.False(t, j.Stats().Incremental)
}

func TestStrips(t *testing.T) {
	assert.Equal(t, []image.Rectangle{image.Rect(90, 0, 100, 50)}, strips(image.Pt(-10, 0), 100, 50))
	assert.Equal(t, []image.Rectangle{
		image.Rect(0, 0, 10, 50),
		image.Rect(10, 45, 100, 50),
	}, strips(image.Pt(10, -5), 100, 50))
	assert.Empty(t, strips(image.Point{}, 100, 50))
}

type gated struct {
	*source.MemVector
	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func (g *gated) Feature(id int64) (*source.Feature, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.gate
	return g.MemVector.Feature(id)
}

func TestCancelStopsRun(t *testing.T) {
	base := layer.NewBase(geo.WebMercator)
	src := &gated{
		MemVector: source.NewMemVector("slow", geo.WebMercator, points(300, 1)),
		entered:   make(chan struct{}),
		gate:      make(chan struct{}),
	}
	_, err := base.AddVectorSource("slow", func() (source.Vector, error) { return src, nil })
	require.NoError(t, err)

	j := newJob(t, base)
	j.SetWorld(0, 100, 1, 100, 100, false)
	j.SetUpdate(false, false, false, true)
	j.Run()
	<-src.entered
	assert.Equal(t, Running, j.State())

	cancelled := make(chan struct{})
	go func() {
		j.Cancel()
		close(cancelled)
	}()
	require.Eventually(t, j.stop.Load, time.Second, time.Millisecond)
	close(src.gate)
	<-cancelled

	assert.Equal(t, Cancelled, j.State())
	assert.Nil(t, j.Surface(VectorBuffer))
	assert.Less(t, j.NumObjectsDrawn(), 300)
}

func TestOverlayDrawsSelection(t *testing.T) {
	base := layer.NewBase(geo.WebMercator)
	_, err := base.AddVectorSource("poly", func() (source.Vector, error) {
		return source.NewMemVector("poly", geo.WebMercator, []*source.Feature{
			{Geometry: orb.Polygon{{{10, 10}, {60, 10}, {60, 60}, {10, 60}, {10, 10}}}},
			{Geometry: orb.Point{80, 80}},
		}), nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, base.SelectFeatures(geo.NewEnvelope(0, 0, 100, 100), geo.WebMercator))

	j := newJob(t, base)
	j.SetWorld(0, 100, 1, 100, 100, false)
	j.SetUpdate(true, false, false, false)
	j.Run()
	j.Wait()
	img := j.Surface(OverlayBuffer)
	require.NotNil(t, img)
	assert.NotZero(t, img.RGBAAt(10, 90).A)
	assert.Zero(t, img.RGBAAt(35, 65).A)
}

func TestFullRedrawMatchesPanAtEdges(t *testing.T) {
	base := layer.NewBase(geo.WebMercator)
	_, err := base.AddVectorSource("edge", func() (source.Vector, error) {
		return source.NewMemVector("edge", geo.WebMercator, []*source.Feature{
			{Geometry: orb.Point{-2, 50}},
			{Geometry: orb.Point{50, 102}},
			{Geometry: orb.LineString{{-1.5, 20}, {-1.5, 80}}},
		}), nil
	})
	require.NoError(t, err)

	full := newJob(t, base)
	full.SetWorld(0, 100, 1, 100, 100, false)
	full.SetUpdate(false, false, false, true)
	full.Run()
	full.Wait()
	want := full.Surface(VectorBuffer)
	require.NotNil(t, want)
	assert.NotZero(t, want.RGBAAt(0, 50).A)
	assert.NotZero(t, want.RGBAAt(50, 0).A)
	assert.NotZero(t, want.RGBAAt(0, 30).A)

	panned := newJob(t, base)
	panned.SetWorld(-5, 100, 1, 100, 100, false)
	panned.SetUpdate(false, false, false, true)
	panned.Run()
	panned.Wait()
	panned.SetWorld(0, 100, 1, 100, 100, false)
	panned.SetUpdate(false, false, false, true)
	panned.Run()
	panned.Wait()
	require.True(t, panned.Stats().Incremental)
	assert.LessOrEqual(t, maxDiff(want.Pix, panned.Surface(VectorBuffer).Pix), 2)
}

func TestOverlaySkipsSelectionOutsideView(t *testing.T) {
	base := layer.NewBase(geo.WebMercator)
	_, err := base.AddVectorSource("pt", func() (source.Vector, error) {
		return source.NewMemVector("pt", geo.WebMercator, []*source.Feature{{Geometry: orb.Point{-5, 50}}}), nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, base.SelectFeatures(geo.NewEnvelope(-10, 40, 0, 60), geo.WebMercator))

	j := newJob(t, base)
	j.SetWorld(0, 100, 1, 100, 100, false)
	j.SetUpdate(true, false, false, false)
	j.Run()
	j.Wait()
	img := j.Surface(OverlayBuffer)
	require.NotNil(t, img)
	for i := 3; i < len(img.Pix); i += 4 {
		require.Zero(t, img.Pix[i], "pixel %d", i/4)
	}
}

func TestDTMShadesFineMetricScale(t *testing.T) {
	base := layer.NewBase(geo.WebMercator)
	ramp := make([]float32, 100*100)
	for i := range ramp {
		ramp[i] = float32(i%100) * 0.05
	}
	dtm, err := source.NewMemRaster("ramp", 100, 100, geo.GeoTransform{0, 0.05, 0, 5, 0, -0.05}, geo.WebMercator, source.Float32, ramp)
	require.NoError(t, err)
	_, err = base.AddRasterDatasets(layer.KindDTM, "ramp", dtm)
	require.NoError(t, err)

	j := newJob(t, base)
	require.NoError(t, j.params.SetMode(shade.Slope))
	j.SetWorld(0, 5, 0.05, 100, 100, false)
	j.SetUpdate(false, false, true, false)
	j.Run()
	j.Wait()
	img := j.Surface(DTMBuffer)
	require.NotNil(t, img)
	got := img.RGBAAt(50, 50)
	assert.InDelta(t, 180, int(got.R), 2)
	assert.Equal(t, got.R, got.G)
}
