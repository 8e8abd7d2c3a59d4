// Package window maps a view envelope onto raster datasets and reads the
// matching pixels.
package window

import (
	"image"
	"math"

	"geoview/geo"
)

//Window source pixels [U0,V0)-[U1,V1) of a dataset and the destination
//pixels [R0,S0)-[R1,S1) they cover in the view
type Window struct {
	U0, V0, U1, V1 int
	R0, S0, R1, S1 int
}

func (w Window) Src() image.Rectangle { return image.Rect(w.U0, w.V0, w.U1, w.V1) }
func (w Window) Dst() image.Rectangle { return image.Rect(w.R0, w.S0, w.R1, w.S1) }

func round(v float64) int {
	return int(math.Round(v))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

//Prepare maps view onto a w x h dataset placed by gt, destWidth is the view
//width in pixels. ok is false when nothing of the dataset shows.
func Prepare(gt geo.GeoTransform, w, h int, view geo.Envelope, destWidth int) (Window, bool) {
	var win Window
	if w <= 0 || h <= 0 || destWidth <= 0 || !view.IsInit() || view.Width() <= 0 {
		return win, false
	}
	gt = gt.NorthUp(h)
	inv, err := gt.Invert()
	if err != nil {
		return win, false
	}
	umin, vmin := math.Inf(1), math.Inf(1)
	umax, vmax := math.Inf(-1), math.Inf(-1)
	for _, c := range [4][2]float64{
		{view.MinX, view.MinY}, {view.MaxX, view.MinY},
		{view.MaxX, view.MaxY}, {view.MinX, view.MaxY},
	} {
		u, v := inv.Apply(c[0], c[1])
		umin, umax = math.Min(umin, u), math.Max(umax, u)
		vmin, vmax = math.Min(vmin, v), math.Max(vmax, v)
	}
	win.U0, win.U1 = clamp(round(umin), 0, w), clamp(round(umax), 0, w)
	win.V0, win.V1 = clamp(round(vmin), 0, h), clamp(round(vmax), 0, h)
	if win.U1 <= win.U0 || win.V1 <= win.V0 {
		return win, false
	}

	gsd := view.Width() / float64(destWidth)
	x0, y0 := gt.Apply(float64(win.U0), float64(win.V0))
	x1, y1 := gt.Apply(float64(win.U1), float64(win.V1))
	win.R0 = round((math.Min(x0, x1) - view.MinX) / gsd)
	win.R1 = round((math.Max(x0, x1) - view.MinX) / gsd)
	win.S0 = round((view.MaxY - math.Max(y0, y1)) / gsd)
	win.S1 = round((view.MaxY - math.Min(y0, y1)) / gsd)
	if win.R1 <= win.R0 || win.S1 <= win.S0 {
		return win, false
	}
	return win, true
}
