// Package render draws the layers of a map into four buffers on a worker
// goroutine and hands finished buffers to the caller.
package render

import (
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"

	"geoview/geo"
	"geoview/layer"
	"geoview/metrics"
	"geoview/paint"
	"geoview/shade"
	"geoview/window"

	log "github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	xdraw "golang.org/x/image/draw"
)

//State of a job
type State int32

// Job states.
const (
	Idle State = iota
	Running
	Completed
	Cancelled
)

func (s State) String() string {
	return [...]string{"idle", "running", "completed", "cancelled"}[s]
}

//Update dirty flags of one run
type Update struct {
	Overlay, Raster, DTM, Vector bool
}

//Any reports whether a buffer needs work
func (u Update) Any() bool {
	return u.Overlay || u.Raster || u.DTM || u.Vector
}

func (u *Update) clear(kind Buffer) {
	switch kind {
	case RasterBuffer:
		u.Raster = false
	case DTMBuffer:
		u.DTM = false
	case VectorBuffer:
		u.Vector = false
	case OverlayBuffer:
		u.Overlay = false
	}
}

//All every buffer dirty
var All = Update{Overlay: true, Raster: true, DTM: true, Vector: true}

//Options thresholds of the renderer, in pixels
type Options struct {
	//MarkerThreshold features smaller than this are drawn as a short line
	MarkerThreshold float64
	//OverlayMarker selected features smaller than this get a fixed marker
	OverlayMarker float64
	//LabelThreshold vertex labels are drawn for selected features smaller than this
	LabelThreshold float64
	//CheckEvery features drawn between two cancellation checks
	CheckEvery int
	Selection  color.Color
}

func DefaultOptions() Options {
	return Options{
		MarkerThreshold: paint.MarkerThreshold,
		OverlayMarker:   25,
		LabelThreshold:  100,
		CheckEvery:      100,
		Selection:       color.Black,
	}
}

//Stats of the last run
type Stats struct {
	ID          string
	State       State
	Drawn       int
	Incremental bool
}

type request struct {
	world    geo.Transform
	w, h     int
	force    bool
	update   Update
	settings shade.Settings
	gen      uint64
}

//Job renders one view. The caller sets the world and dirty flags, starts
//a run and collects finished buffers with Draw.
type Job struct {
	base    *layer.Base
	params  *shade.Params
	opts    Options
	Metrics *metrics.Collector

	mu     sync.Mutex
	world  geo.Transform
	w, h   int
	force  bool
	update Update
	gen    uint64
	done   chan struct{}
	stats  Stats

	state atomic.Int32
	stop  atomic.Bool
	drawn atomic.Int64
	box   *mailbox

	//worker side, only touched by the running worker
	lastVector *image.RGBA
	lastWorld  geo.Transform

	//caller side
	surfMu sync.Mutex
	surf   [numBuffers]*Frame
}

func NewJob(base *layer.Base, params *shade.Params, opts Options) *Job {
	return &Job{base: base, params: params, opts: opts, box: newMailbox()}
}

//SetWorld waits for a running job to stop, then sets the transform.
//forceVector disables the incremental pan redraw of the next run.
func (j *Job) SetWorld(x0, y0, scale float64, w, h int, forceVector bool) {
	j.Cancel()
	j.mu.Lock()
	defer j.mu.Unlock()
	j.world = geo.Transform{X0: x0, Y0: y0, Scale: scale}
	j.w, j.h = w, h
	j.force = j.force || forceVector
}

//World current transform and size
func (j *Job) World() (geo.Transform, int, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.world, j.w, j.h
}

//SetUpdate marks buffers dirty for the next run. Flags accumulate until a
//run takes them, a cancelled run gives back the buffers it did not finish.
func (j *Job) SetUpdate(overlay, raster, dtm, vector bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.update.Overlay = j.update.Overlay || overlay
	j.update.Raster = j.update.Raster || raster
	j.update.DTM = j.update.DTM || dtm
	j.update.Vector = j.update.Vector || vector
}

//Run cancels a running job and starts a new run on the dirty buffers,
//it returns the run id
func (j *Job) Run() string {
	j.Cancel()
	j.mu.Lock()
	j.gen++
	req := request{
		world:    j.world,
		w:        j.w,
		h:        j.h,
		force:    j.force,
		update:   j.update,
		settings: j.params.Snapshot(),
		gen:      j.gen,
	}
	j.update, j.force = Update{}, false
	id, _ := shortid.Generate()
	done := make(chan struct{})
	j.done = done
	j.stats = Stats{ID: id, State: Running}
	j.stop.Store(false)
	j.drawn.Store(0)
	j.state.Store(int32(Running))
	j.mu.Unlock()

	go j.run(id, req, done)
	return id
}

//Wait blocks until the current run stops
func (j *Job) Wait() {
	j.mu.Lock()
	done := j.done
	j.mu.Unlock()
	if done != nil {
		<-done
	}
}

//Cancel asks the running job to stop and waits for it
func (j *Job) Cancel() {
	if State(j.state.Load()) != Running {
		j.Wait()
		return
	}
	j.stop.Store(true)
	j.Wait()
}

func (j *Job) State() State {
	return State(j.state.Load())
}

//Stats of the current or last run
func (j *Job) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := j.stats
	s.State = j.State()
	s.Drawn = int(j.drawn.Load())
	return s
}

//NumObjectsDrawn features drawn by the current or last run
func (j *Job) NumObjectsDrawn() int {
	return int(j.drawn.Load())
}

//Updated signals that finished buffers wait in the mailbox
func (j *Job) Updated() <-chan struct{} {
	return j.box.notify
}

//collect moves mailbox frames of the current world onto the surfaces
func (j *Job) collect() (geo.Transform, int, int) {
	world, w, h := j.World()
	for _, f := range j.box.take() {
		if f.World != world || f.W != w || f.H != h {
			log.WithField("run", f.RunID).Debugf("drop stale %s buffer", f.Kind)
			continue
		}
		j.surf[f.Kind] = f
	}
	return world, w, h
}

//offset position of a surface drawn for another origin at the same scale
func offset(f *Frame, world geo.Transform) (image.Point, bool) {
	if f.World == world {
		return image.Point{}, true
	}
	if f.World.Scale != world.Scale {
		return image.Point{}, false
	}
	dx := (f.World.X0 - world.X0) / world.Scale
	dy := (world.Y0 - f.World.Y0) / world.Scale
	return image.Pt(int(math.Round(dx)), int(math.Round(dy))), true
}

//Draw composites raster, DTM, vector and overlay surfaces onto dst with
//the view's top left corner at (offX, offY)
func (j *Job) Draw(dst *image.RGBA, offX, offY int) {
	j.surfMu.Lock()
	defer j.surfMu.Unlock()
	world, _, _ := j.collect()
	for _, f := range j.surf {
		if f == nil || f.Image == nil {
			continue
		}
		at, ok := offset(f, world)
		if !ok {
			continue
		}
		at = at.Add(image.Pt(offX, offY))
		xdraw.Draw(dst, f.Image.Bounds().Add(at), f.Image, f.Image.Bounds().Min, xdraw.Over)
	}
}

//Surface finished buffer of one kind for the current world, nil when none
func (j *Job) Surface(kind Buffer) *image.RGBA {
	j.surfMu.Lock()
	defer j.surfMu.Unlock()
	world, _, _ := j.collect()
	f := j.surf[kind]
	if f == nil || f.World != world {
		return nil
	}
	return f.Image
}

//ElevationAt elevation under a view pixel, false outside elevation data
func (j *Job) ElevationAt(px, py int) (float64, bool) {
	j.surfMu.Lock()
	defer j.surfMu.Unlock()
	world, _, _ := j.collect()
	f := j.surf[DTMBuffer]
	if f == nil || f.Elevation == nil {
		return 0, false
	}
	at, ok := offset(f, world)
	if !ok {
		return 0, false
	}
	v, ok := f.Elevation.At(px-at.X, py-at.Y)
	return float64(v), ok
}

//Elevation raw elevation of the current DTM surface
func (j *Job) Elevation() *window.Elevation {
	j.surfMu.Lock()
	defer j.surfMu.Unlock()
	world, _, _ := j.collect()
	f := j.surf[DTMBuffer]
	if f == nil || f.World != world {
		return nil
	}
	return f.Elevation
}
