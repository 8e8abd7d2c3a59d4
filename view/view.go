// Package view holds the viewport of a map: its origin, scale and size,
// navigation, selection and the render job that draws it.
package view

import (
	"errors"
	"image"
	"math"
	"sync"

	"geoview/geo"
	"geoview/layer"
	"geoview/render"
	"geoview/shade"

	log "github.com/sirupsen/logrus"
)

// Navigation constants.
const (
	//ZoomBuffer pixels left around an envelope zoomed to
	ZoomBuffer = 10
	//WheelFactor scale change of one wheel step
	WheelFactor = math.Sqrt2
	//MaxResolution ground size of a pixel at zoom level 0 in web mercator
	MaxResolution = 156543.03392804097
	MaxZoom       = 21
	//SelectTolerance pixels around a click
	SelectTolerance = 1
)

var ErrEmptyEnvelope = errors.New("nothing to zoom to")

//View viewport of a map
type View struct {
	mu     sync.Mutex
	base   *layer.Base
	params *shade.Params
	job    *render.Job
	x0, y0 float64
	scale  float64
	w, h   int
}

//New view of base, w x h pixels at scale 1 with the origin at (0, h)
func New(base *layer.Base, params *shade.Params, opts render.Options, w, h int) *View {
	return &View{
		base:   base,
		params: params,
		job:    render.NewJob(base, params, opts),
		y0:     float64(h),
		scale:  1,
		w:      w,
		h:      h,
	}
}

func (v *View) Base() *layer.Base     { return v.base }
func (v *View) Params() *shade.Params { return v.params }
func (v *View) Job() *render.Job      { return v.job }
func (v *View) CRS() geo.CRS          { return v.base.CRS() }

//Transform current world to pixel mapping
func (v *View) Transform() geo.Transform {
	v.mu.Lock()
	defer v.mu.Unlock()
	return geo.Transform{X0: v.x0, Y0: v.y0, Scale: v.scale}
}

func (v *View) Size() (int, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.w, v.h
}

//Envelope ground extent of the viewport
func (v *View) Envelope() geo.Envelope {
	v.mu.Lock()
	defer v.mu.Unlock()
	return geo.Transform{X0: v.x0, Y0: v.y0, Scale: v.scale}.Envelope(v.w, v.h)
}

func (v *View) PixelToGround(px, py float64) (float64, float64) {
	return v.Transform().ToGround(px, py)
}

func (v *View) GroundToPixel(x, y float64) (float64, float64) {
	return v.Transform().ToPixel(x, y)
}

//CartoScale map scale denominator on a screen of the given dpi
func (v *View) CartoScale(dpi float64) float64 {
	return v.Transform().Scale / (0.0254 / dpi)
}

//SetFrame sets origin and scale and redraws everything
func (v *View) SetFrame(x0, y0, scale float64) {
	if scale <= 0 {
		return
	}
	v.mu.Lock()
	v.x0, v.y0, v.scale = x0, y0, scale
	v.mu.Unlock()
	v.Render(render.All, true)
}

//CenterView moves the view center to (x, y) keeping the scale
func (v *View) CenterView(x, y float64) {
	v.mu.Lock()
	v.x0 = x - float64(v.w)/2*v.scale
	v.y0 = y + float64(v.h)/2*v.scale
	v.mu.Unlock()
	v.Render(render.All, true)
}

//ZoomEnvelope fits env in the view with bufferPx pixels around it
func (v *View) ZoomEnvelope(env geo.Envelope, bufferPx int) error {
	if !env.IsInit() {
		return ErrEmptyEnvelope
	}
	v.mu.Lock()
	w, h := float64(v.w-2*bufferPx), float64(v.h-2*bufferPx)
	if w < 1 {
		w = float64(v.w)
	}
	if h < 1 {
		h = float64(v.h)
	}
	scale := math.Max(env.Width()/w, env.Height()/h)
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		scale = v.scale
	}
	c := env.Center()
	v.scale = scale
	v.x0 = c[0] - float64(v.w)/2*scale
	v.y0 = c[1] + float64(v.h)/2*scale
	v.mu.Unlock()
	v.Render(render.All, true)
	return nil
}

//ZoomWorld fits every layer in the view
func (v *View) ZoomWorld() error {
	return v.ZoomEnvelope(v.base.Envelope(), ZoomBuffer)
}

//ZoomRect zooms on a rectangle given in view pixels
func (v *View) ZoomRect(px0, py0, px1, py1 float64) error {
	t := v.Transform()
	x0, y0 := t.ToGround(px0, py0)
	x1, y1 := t.ToGround(px1, py1)
	return v.ZoomEnvelope(geo.NewEnvelope(x0, y0, x1, y1), 0)
}

//LevelResolution web mercator pixel size at zoom z
func LevelResolution(z int) float64 {
	return MaxResolution / math.Pow(2, float64(z))
}

//ZoomLevel snaps the scale to the nearest web mercator level around the
//view center and returns that level
func (v *View) ZoomLevel() int {
	v.mu.Lock()
	best, diff := 0, math.Inf(1)
	for z := 0; z <= MaxZoom; z++ {
		if d := math.Abs(math.Log2(LevelResolution(z) / v.scale)); d < diff {
			best, diff = z, d
		}
	}
	cx := v.x0 + float64(v.w)/2*v.scale
	cy := v.y0 - float64(v.h)/2*v.scale
	v.scale = LevelResolution(best)
	v.x0 = cx - float64(v.w)/2*v.scale
	v.y0 = cy + float64(v.h)/2*v.scale
	v.mu.Unlock()
	v.Render(render.All, true)
	return best
}

//Resize keeps the top left corner and the scale
func (v *View) Resize(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	v.mu.Lock()
	v.w, v.h = w, h
	v.mu.Unlock()
	v.Render(render.All, true)
}

//Pan moves the map content by (dx, dy) pixels, the vector buffer is
//shifted and only the uncovered strips are drawn
func (v *View) Pan(dx, dy int) {
	v.mu.Lock()
	v.x0 -= float64(dx) * v.scale
	v.y0 += float64(dy) * v.scale
	v.mu.Unlock()
	v.Render(render.All, false)
}

//Wheel zooms in or out by one step keeping the ground under (px, py) in place
func (v *View) Wheel(px, py float64, in bool) {
	v.mu.Lock()
	gx, gy := v.x0+px*v.scale, v.y0-py*v.scale
	if in {
		v.scale /= WheelFactor
	} else {
		v.scale *= WheelFactor
	}
	v.x0 = gx - px*v.scale
	v.y0 = gy + py*v.scale
	v.mu.Unlock()
	v.Render(render.All, true)
}

//Render starts a run on the given buffers, force disables the incremental vector redraw
func (v *View) Render(u render.Update, force bool) {
	v.mu.Lock()
	x0, y0, scale, w, h := v.x0, v.y0, v.scale, v.w, v.h
	v.mu.Unlock()
	v.job.SetWorld(x0, y0, scale, w, h, force)
	v.job.SetUpdate(u.Overlay, u.Raster, u.DTM, u.Vector)
	id := v.job.Run()
	log.WithField("run", id).Debugf("render %+v at %.4f,%.4f scale %.6f", u, x0, y0, scale)
}

//VectorsChanged redraws after a vector layer or style change
func (v *View) VectorsChanged() {
	v.Render(render.Update{Overlay: true, Vector: true}, true)
}

//RastersChanged redraws after a raster layer change
func (v *View) RastersChanged() {
	v.Render(render.Update{Overlay: true, Raster: true}, false)
}

//DTMChanged redraws after an elevation layer or shading change
func (v *View) DTMChanged() {
	v.Render(render.Update{Overlay: true, DTM: true}, false)
}

//SelectionChanged redraws the overlay only
func (v *View) SelectionChanged() {
	v.Render(render.Update{Overlay: true}, false)
}

//SelectAt selects the features under a pixel
func (v *View) SelectAt(px, py float64) int {
	return v.SelectRect(px-SelectTolerance, py-SelectTolerance, px+SelectTolerance, py+SelectTolerance)
}

//SelectRect selects the features meeting a pixel rectangle
func (v *View) SelectRect(px0, py0, px1, py1 float64) int {
	v.job.Cancel()
	t := v.Transform()
	x0, y0 := t.ToGround(px0, py0)
	x1, y1 := t.ToGround(px1, py1)
	n := v.base.SelectFeatures(geo.NewEnvelope(x0, y0, x1, y1), v.base.CRS())
	v.SelectionChanged()
	return n
}

func (v *View) ClearSelection() {
	v.job.Cancel()
	v.base.ClearSelection()
	v.SelectionChanged()
}

//Wait blocks until the running job stops
func (v *View) Wait() {
	v.job.Wait()
}

//Draw composites the finished buffers onto dst at its origin
func (v *View) Draw(dst *image.RGBA) {
	v.job.Draw(dst, dst.Bounds().Min.X, dst.Bounds().Min.Y)
}

//Image waits for the running job and returns the composited view
func (v *View) Image() *image.RGBA {
	v.job.Wait()
	w, h := v.Size()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	v.Draw(img)
	return img
}

//ElevationAt elevation under a view pixel
func (v *View) ElevationAt(px, py int) (float64, bool) {
	return v.job.ElevationAt(px, py)
}
