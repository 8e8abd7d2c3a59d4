package paint

import (
	"image"
	"image/color"
	"image/draw"
	"strconv"

	"github.com/gogpu/gg"
	"github.com/paulmach/orb"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Overlay appearance.
const (
	VertexSize = 4.0
	LabelGap   = 2
)

//Pen stroke and fill of a path
type Pen struct {
	Stroke color.Color
	Fill   color.Color
	Width  float64
}

func trace(dc *gg.Context, s SubPath) {
	if s.Radius > 0 {
		dc.DrawCircle(s.Points[0][0], s.Points[0][1], s.Radius)
		return
	}
	dc.NewSubPath()
	for i, q := range s.Points {
		if i == 0 {
			dc.MoveTo(q[0], q[1])
		} else {
			dc.LineTo(q[0], q[1])
		}
	}
	if s.Closed {
		dc.ClosePath()
	}
}

//Draw strokes the outline of path and fills its areas, points are filled
//circles and markers are plain lines
func Draw(dc *gg.Context, path Path, pen Pen) error {
	if len(path.Subs) == 0 {
		return nil
	}
	if path.Marker {
		s := path.Subs[0]
		dc.SetColor(pen.Stroke)
		dc.SetLineWidth(MarkerWidth)
		dc.DrawLine(s.Points[0][0], s.Points[0][1], s.Points[1][0], s.Points[1][1])
		return dc.Stroke()
	}
	dc.SetLineWidth(pen.Width)
	dc.SetFillRule(gg.FillRuleEvenOdd)
	var areas, lines []SubPath
	for _, s := range path.Subs {
		if s.Closed || s.Radius > 0 {
			areas = append(areas, s)
		} else {
			lines = append(lines, s)
		}
	}
	if len(areas) > 0 {
		dc.ClearPath()
		for _, s := range areas {
			trace(dc, s)
		}
		dc.SetColor(pen.Stroke)
		if err := dc.StrokePreserve(); err != nil {
			return err
		}
		dc.SetColor(pen.Fill)
		if err := dc.Fill(); err != nil {
			return err
		}
	}
	if len(lines) > 0 {
		dc.ClearPath()
		for _, s := range lines {
			trace(dc, s)
		}
		dc.SetColor(pen.Stroke)
		if err := dc.Stroke(); err != nil {
			return err
		}
	}
	return nil
}

//Highlight draws the selection outline of path with a small square on every vertex
func Highlight(dc *gg.Context, path Path, c color.Color) error {
	dc.ClearPath()
	for _, s := range path.Subs {
		trace(dc, s)
	}
	dc.SetColor(c)
	dc.SetLineWidth(1)
	if err := dc.Stroke(); err != nil {
		return err
	}
	for _, v := range path.Vertices() {
		dc.DrawRectangle(v[0]-VertexSize/2, v[1]-VertexSize/2, VertexSize, VertexSize)
	}
	return dc.Fill()
}

//Label writes the index of every vertex next to it
func Label(dst draw.Image, vertices []orb.Point, c color.Color) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
	}
	for i, v := range vertices {
		d.Dot = fixed.P(int(v[0])+LabelGap+int(VertexSize/2), int(v[1])-LabelGap)
		d.DrawString(strconv.Itoa(i))
	}
}
