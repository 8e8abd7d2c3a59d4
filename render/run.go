package render

import (
	"image"
	"math"
	"time"

	"geoview/geo"
	"geoview/layer"
	"geoview/paint"
	"geoview/shade"
	"geoview/window"

	"github.com/gogpu/gg"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	log "github.com/sirupsen/logrus"
	xdraw "golang.org/x/image/draw"
)

//ClipMargin pixels kept around the view when clipping geometries
const ClipMargin = 16

//pass state of one run on the worker goroutine
type pass struct {
	j     *Job
	id    string
	req   request
	crs   geo.CRS
	env   geo.Envelope
	clip  orb.Bound
	count int
	log   *log.Entry
}

func (j *Job) run(id string, req request, done chan struct{}) {
	defer close(done)
	start := time.Now()
	p := &pass{
		j:   j,
		id:  id,
		req: req,
		crs: j.base.CRS(),
		env: req.world.Envelope(req.w, req.h),
		log: log.WithFields(log.Fields{"run": id, "gen": req.gen}),
	}
	p.clip = p.env.Buffer(ClipMargin * req.world.Scale).Bound()

	state := Completed
	if !req.world.Valid() || req.w <= 0 || req.h <= 0 {
		p.log.Warnf("nothing to render, world %+v size %dx%d", req.world, req.w, req.h)
	} else {
		steps := []struct {
			dirty bool
			kind  Buffer
			fn    func() bool
		}{
			{req.update.Raster, RasterBuffer, p.raster},
			{req.update.DTM, DTMBuffer, p.dtm},
			{req.update.Vector, VectorBuffer, p.vector},
			{req.update.Overlay, OverlayBuffer, p.overlay},
		}
		pending := req.update
		for _, s := range steps {
			if !s.dirty {
				continue
			}
			t := time.Now()
			if p.cancelled() || !s.fn() {
				state = Cancelled
				break
			}
			pending.clear(s.kind)
			j.Metrics.Pass(s.kind.String(), time.Since(t))
			p.log.Debugf("%s buffer in %.4fs", s.kind, time.Since(t).Seconds())
		}
		if state == Cancelled {
			j.SetUpdate(pending.Overlay, pending.Raster, pending.DTM, pending.Vector)
			if pending.Vector && req.force {
				j.mu.Lock()
				j.force = true
				j.mu.Unlock()
			}
		}
	}
	j.state.Store(int32(state))
	j.Metrics.RunDone(state.String())
	j.Metrics.FeaturesDrawn(j.NumObjectsDrawn())
	if state == Cancelled {
		p.log.Infof("run %s got canceled.", id)
		return
	}
	p.log.Debugf("run %s finished, %d objects in %.4fs", id, j.NumObjectsDrawn(), time.Since(start).Seconds())
}

func (p *pass) cancelled() bool {
	return p.j.stop.Load()
}

func (p *pass) publish(kind Buffer, img *image.RGBA, elev *window.Elevation) {
	p.j.box.post(&Frame{
		Kind:      kind,
		Image:     img,
		World:     p.req.world,
		W:         p.req.w,
		H:         p.req.h,
		Gen:       p.req.gen,
		RunID:     p.id,
		Elevation: elev,
	})
}

func (p *pass) newImage() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, p.req.w, p.req.h))
}

func snapshot(dc *gg.Context) *image.RGBA {
	_ = dc.FlushGPU()
	if img, ok := dc.Image().(*image.RGBA); ok {
		return img
	}
	img := image.NewRGBA(image.Rect(0, 0, dc.Width(), dc.Height()))
	xdraw.Draw(img, img.Bounds(), dc.Image(), image.Point{}, xdraw.Src)
	return img
}

func (p *pass) warnCRS(l *layer.RasterLayer) {
	if c := l.SpatialRef(); c != geo.Unknown && p.crs != geo.Unknown && c != p.crs {
		p.log.WithField("layer", l.Name()).Warnf("raster in %s drawn as %s", c, p.crs)
	}
}

//raster composites every visible raster layer, tile by tile
func (p *pass) raster() bool {
	img := p.newImage()
	for _, l := range p.j.base.Rasters() {
		if !l.Visible() {
			continue
		}
		p.warnCRS(l)
		opacity := l.Opacity()
		for _, t := range l.Tiles(p.env, p.req.world.Scale) {
			if p.cancelled() {
				return false
			}
			if _, err := window.DrawImagery(img, t.Dataset(), p.env, opacity); err != nil {
				p.log.WithField("layer", l.Name()).Warnf("skip tile %s ~ %s", t.Dataset().Name(), err)
			}
		}
	}
	p.publish(RasterBuffer, img, nil)
	return true
}

//dtm merges every visible elevation layer into one grid and shades it once
func (p *pass) dtm() bool {
	s := p.req.settings
	elev := window.NewElevation(p.req.w, p.req.h, float32(s.NoData))
	for _, l := range p.j.base.DTMs() {
		if !l.Visible() {
			continue
		}
		p.warnCRS(l)
		opacity := l.Opacity()
		for _, t := range l.Tiles(p.env, p.req.world.Scale) {
			if p.cancelled() {
				return false
			}
			if _, err := window.ReadElevation(elev, t.Dataset(), p.env, opacity); err != nil {
				p.log.WithField("layer", l.Name()).Warnf("skip elevation tile %s ~ %s", t.Dataset().Name(), err)
			}
		}
	}
	if p.cancelled() {
		return false
	}
	img := p.newImage()
	shade.Grid(img, elev.Raw, elev.W, elev.H, shade.Distance(p.req.world.Scale, p.crs.Geographic()), s)
	if p.cancelled() {
		return false
	}
	for i, a := range elev.Alpha {
		px := img.Pix[i*4 : i*4+4 : i*4+4]
		switch a {
		case 255:
		case 0:
			px[0], px[1], px[2], px[3] = 0, 0, 0, 0
		default:
			for k := 0; k < 3; k++ {
				px[k] = uint8(uint32(px[k]) * uint32(a) / 255)
			}
			px[3] = a
		}
	}
	p.publish(DTMBuffer, img, elev)
	return true
}

//vector redraws every visible vector layer, or only the exposed strips after a pan
func (p *pass) vector() bool {
	var img *image.RGBA
	if shift, ok := p.panShift(); ok {
		img = p.shifted(shift)
		if img == nil {
			return false
		}
		p.j.mu.Lock()
		p.j.stats.Incremental = true
		p.j.mu.Unlock()
	} else {
		dc := gg.NewContext(p.req.w, p.req.h)
		for _, l := range p.j.base.Vectors() {
			st := l.Style()
			if !st.Visible {
				continue
			}
			if !p.drawLayer(dc, l, p.env.Buffer(p.margin(st)), nil) {
				return false
			}
		}
		img = snapshot(dc)
	}
	p.j.lastVector, p.j.lastWorld = img, p.req.world
	p.publish(VectorBuffer, img, nil)
	return true
}

//panShift pixel offset of the previous vector buffer when the new world is
//a whole pixel translation of it
func (p *pass) panShift() (image.Point, bool) {
	last, prev, cur := p.j.lastVector, p.j.lastWorld, p.req.world
	if p.req.force || last == nil || prev.Scale != cur.Scale {
		return image.Point{}, false
	}
	if last.Bounds().Dx() != p.req.w || last.Bounds().Dy() != p.req.h {
		return image.Point{}, false
	}
	sx := (prev.X0 - cur.X0) / cur.Scale
	sy := (cur.Y0 - prev.Y0) / cur.Scale
	rx, ry := math.Round(sx), math.Round(sy)
	if math.Abs(sx-rx) > 1e-6 || math.Abs(sy-ry) > 1e-6 {
		return image.Point{}, false
	}
	if math.Abs(rx) >= float64(p.req.w) || math.Abs(ry) >= float64(p.req.h) {
		return image.Point{}, false
	}
	return image.Pt(int(rx), int(ry)), true
}

//margin ground distance around a query box within which a feature of
//style st can still paint pixels of the box
func (p *pass) margin(st layer.Style) float64 {
	return (st.Width/2 + paint.PointRadius + 2) * p.req.world.Scale
}

//strips parts of the view left uncovered by a buffer shifted by s
func strips(s image.Point, w, h int) []image.Rectangle {
	full := image.Rect(0, 0, w, h)
	kept := full.Intersect(full.Add(s))
	var out []image.Rectangle
	switch {
	case s.X > 0:
		out = append(out, image.Rect(0, 0, s.X, h))
	case s.X < 0:
		out = append(out, image.Rect(w+s.X, 0, w, h))
	}
	switch {
	case s.Y > 0:
		out = append(out, image.Rect(kept.Min.X, 0, kept.Max.X, s.Y))
	case s.Y < 0:
		out = append(out, image.Rect(kept.Min.X, h+s.Y, kept.Max.X, h))
	}
	return out
}

func (p *pass) shifted(s image.Point) *image.RGBA {
	img := p.newImage()
	last := p.j.lastVector
	xdraw.Draw(img, last.Bounds().Add(s), last, last.Bounds().Min, xdraw.Src)
	exposed := strips(s, p.req.w, p.req.h)
	if len(exposed) == 0 {
		return img
	}
	dc := gg.NewContext(p.req.w, p.req.h)
	for _, l := range p.j.base.Vectors() {
		st := l.Style()
		if !st.Visible {
			continue
		}
		margin := p.margin(st)
		seen := make(map[int64]bool)
		for _, r := range exposed {
			x0, y0 := p.req.world.ToGround(float64(r.Min.X), float64(r.Max.Y))
			x1, y1 := p.req.world.ToGround(float64(r.Max.X), float64(r.Min.Y))
			if !p.drawLayer(dc, l, geo.NewEnvelope(x0, y0, x1, y1).Buffer(margin), seen) {
				return nil
			}
		}
	}
	fresh := snapshot(dc)
	for _, r := range exposed {
		xdraw.Draw(img, r, fresh, r.Min, xdraw.Src)
	}
	return img
}

//drawLayer draws the features of l meeting env; seen skips features already drawn
func (p *pass) drawLayer(dc *gg.Context, l *layer.VectorLayer, env geo.Envelope, seen map[int64]bool) bool {
	entry := p.log.WithField("layer", l.Name())
	tr, err := geo.NewTransformation(l.SpatialRef(), p.crs)
	if err != nil {
		entry.Warnf("skip layer ~ %s", err)
		return true
	}
	if err := l.SetSpatialFilterRect(env, p.crs); err != nil {
		entry.Warnf("skip layer ~ %s", err)
		return true
	}
	st := l.Style()
	pen := paint.Pen{Stroke: layer.ARGB(st.Pen), Fill: layer.ARGB(st.Fill), Width: st.Width}
	proj := paint.NewProjector(p.req.world)
	proj.MarkerThreshold = p.j.opts.MarkerThreshold
	every := p.j.opts.CheckEvery
	if every <= 0 {
		every = 100
	}
	for {
		f, ok := l.NextFeature()
		if !ok {
			return true
		}
		if seen != nil {
			if seen[f.ID] {
				continue
			}
			seen[f.ID] = true
		}
		p.count++
		if p.count%every == 0 && p.cancelled() {
			return false
		}
		g := p.clipped(tr, f.Geometry)
		if g == nil {
			continue
		}
		if err := paint.Draw(dc, proj.Project(g), pen); err != nil {
			entry.Debugf("feature %d not drawn ~ %s", f.ID, err)
			continue
		}
		p.j.drawn.Add(1)
	}
}

//clipped reprojects g and cuts what lies far outside the view
func (p *pass) clipped(tr *geo.Transformation, g orb.Geometry) orb.Geometry {
	if g == nil {
		return nil
	}
	g = tr.Geometry(g)
	b := g.Bound()
	if p.clip.Contains(b.Min) && p.clip.Contains(b.Max) {
		return g
	}
	if !p.clip.Intersects(b) {
		return nil
	}
	if tr.IsIdentity() {
		g = orb.Clone(g)
	}
	return clip.Geometry(p.clip, g)
}

//overlay outlines the selected features with their vertices
func (p *pass) overlay() bool {
	dc := gg.NewContext(p.req.w, p.req.h)
	proj := paint.NewProjector(p.req.world)
	opts := p.j.opts
	var labels [][]orb.Point
	for _, sel := range p.j.base.Selection() {
		if p.cancelled() {
			return false
		}
		l, err := p.j.base.Vector(sel.Layer)
		if err != nil {
			continue
		}
		f, err := l.Feature(sel.ID)
		if err != nil || f.Geometry == nil {
			p.log.WithField("layer", l.Name()).Warnf("selected feature %d unreadable ~ %v", sel.ID, err)
			continue
		}
		tr, err := geo.NewTransformation(l.SpatialRef(), p.crs)
		if err != nil {
			continue
		}
		g := tr.Geometry(f.Geometry)
		if !p.env.Intersects(geo.FromBound(g.Bound())) {
			continue
		}
		w, h := proj.Extent(g)
		extent := math.Max(w, h)
		path := proj.ProjectFull(g)
		if extent < opts.OverlayMarker {
			c := g.Bound().Center()
			x, y := p.req.world.ToPixel(c[0], c[1])
			dc.SetColor(opts.Selection)
			dc.SetLineWidth(2)
			dc.DrawRectangle(x-opts.OverlayMarker/4, y-opts.OverlayMarker/4, opts.OverlayMarker/2, opts.OverlayMarker/2)
			_ = dc.Stroke()
			continue
		}
		if err := paint.Highlight(dc, path, opts.Selection); err != nil {
			continue
		}
		if extent < opts.LabelThreshold && g.Dimensions() > 0 {
			labels = append(labels, path.Vertices())
		}
	}
	img := snapshot(dc)
	for _, v := range labels {
		paint.Label(img, v, opts.Selection)
	}
	p.publish(OverlayBuffer, img, nil)
	return true
}
