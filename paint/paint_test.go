package paint

import (
	"image"
	"image/color"
	"testing"

	"geoview/geo"

	"github.com/gogpu/gg"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectPoint(t *testing.T) {
	p := NewProjector(geo.Transform{X0: 0, Y0: 100, Scale: 1})
	path := p.Project(orb.Point{10, 90})
	require.Len(t, path.Subs, 1)
	assert.Equal(t, orb.Point{10, 10}, path.Subs[0].Points[0])
	assert.Equal(t, PointRadius, path.Subs[0].Radius)
	assert.False(t, path.Marker)
	assert.False(t, path.Fill)
}

func TestProjectSmallGeometry(t *testing.T) {
	p := NewProjector(geo.Transform{X0: 0, Y0: 100, Scale: 10})
	line := orb.LineString{{0, 0}, {5, 5}, {10, 0}}
	path := p.Project(line)
	assert.True(t, path.Marker)
	require.Len(t, path.Subs, 1)
	assert.Len(t, path.Subs[0].Points, 2)

	full := p.ProjectFull(line)
	assert.False(t, full.Marker)
	assert.Len(t, full.Subs[0].Points, 3)
}

func TestProjectPolygon(t *testing.T) {
	p := NewProjector(geo.Transform{X0: 0, Y0: 10, Scale: 0.1})
	poly := orb.Polygon{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{2, 2}, {4, 2}, {4, 4}, {2, 2}},
	}
	path := p.Project(poly)
	assert.True(t, path.Fill)
	require.Len(t, path.Subs, 2)
	assert.True(t, path.Subs[0].Closed)
	assert.Len(t, path.Vertices(), 7)
	b := path.Bounds()
	assert.InDelta(t, 0, b.Min[0], 1e-9)
	assert.InDelta(t, 100, b.Max[1], 1e-9)
}

func TestDrawFillsArea(t *testing.T) {
	dc := gg.NewContext(50, 50)
	p := NewProjector(geo.Transform{X0: 0, Y0: 50, Scale: 1})
	path := p.Project(orb.Polygon{{{10, 10}, {40, 10}, {40, 40}, {10, 40}, {10, 10}}})
	pen := Pen{Stroke: color.NRGBA{0, 0, 0, 255}, Fill: color.NRGBA{255, 0, 0, 255}, Width: 1}
	require.NoError(t, Draw(dc, path, pen))
	img := dc.Image()
	_, _, _, a := img.At(25, 25).RGBA()
	assert.NotZero(t, a)
	_, _, _, a = img.At(2, 2).RGBA()
	assert.Zero(t, a)
}

func TestLabel(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	Label(img, []orb.Point{{5, 20}}, color.Black)
	var painted bool
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			painted = true
			break
		}
	}
	assert.True(t, painted)
}
