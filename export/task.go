//Package export renders a web mercator tile pyramid of a view into MBTiles or a z/x/y directory.
package export

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"geoview/geo"
	"geoview/metrics"
	"geoview/source"
	"geoview/view"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	log "github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"
)

// Errors.
var (
	ErrAborted = errors.New("export aborted")
	ErrCRS     = errors.New("export needs a web mercator view")
	ErrZoom    = errors.New("invalid zoom range")
	ErrFormat  = errors.New("unknown export format")
)

//Options of an export task
type Options struct {
	Name        string
	Description string
	Attribution string
	Format      string
	Directory   string
	File        string
	Min         int
	Max         int
	Bound       orb.Bound
	Workers     int
	SavePipe    int
	SkipEmpty   bool
	Quiet       bool
}

//Task one pyramid export
type Task struct {
	ID          string
	Name        string
	Description string
	File        string
	Format      string
	Min         int
	Max         int
	Bound       orb.Bound
	Total       int64
	Bar         *pb.ProgressBar
	Metrics     *metrics.Collector
	view        *view.View
	opts        Options
	db          *sql.DB
	workerCount int
	wg          sync.WaitGroup
	abort       chan struct{}
	pause, play chan struct{}
	abortOnce   sync.Once
	workers     chan maptile.Tile
	savingpipe  chan Tile
	errMu       sync.Mutex
	err         error
	saved       int64
}

//NewTask prepares an export of v, the view is resized to one tile
func NewTask(v *view.View, o Options) (*Task, error) {
	if v.CRS() != geo.WebMercator {
		return nil, fmt.Errorf("view crs %s: %w", v.CRS(), ErrCRS)
	}
	if o.Min < ZoomMin || o.Max > ZoomMax || o.Min > o.Max {
		return nil, fmt.Errorf("%d..%d: %w", o.Min, o.Max, ErrZoom)
	}
	if o.Format == "" {
		o.Format = MBTiles
	}
	if o.Format != MBTiles && o.Format != Files {
		return nil, fmt.Errorf("%q: %w", o.Format, ErrFormat)
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.SavePipe < 1 {
		o.SavePipe = 1
	}
	if o.Name == "" {
		o.Name = "geoview"
	}
	id, _ := shortid.Generate()
	task := &Task{
		ID:          id,
		Name:        o.Name,
		Description: o.Description,
		File:        o.File,
		Format:      o.Format,
		Min:         o.Min,
		Max:         o.Max,
		Bound:       clampBound(o.Bound),
		view:        v,
		opts:        o,
		workerCount: o.Workers,
		abort:       make(chan struct{}),
		pause:       make(chan struct{}, 1),
		play:        make(chan struct{}, 1),
		workers:     make(chan maptile.Tile, o.Workers),
		savingpipe:  make(chan Tile, o.SavePipe),
	}
	if task.File == "" {
		name := task.ID + "." + task.Name
		if task.Format == MBTiles {
			name += ".mbtiles"
		}
		task.File = filepath.Join(o.Directory, name)
	}
	for z := task.Min; z <= task.Max; z++ {
		task.Total += Count(task.Bound, maptile.Zoom(z))
	}
	v.Resize(source.TileSize, source.TileSize)
	return task, nil
}

//Center lon/lat center and middle zoom
func (task *Task) Center() (orb.Point, int) {
	return task.Bound.Center(), (task.Min + task.Max) / 2
}

//MetaItems metadata table rows
func (task *Task) MetaItems() map[string]string {
	b := task.Bound
	c, z := task.Center()
	return map[string]string{
		"id":          task.ID,
		"name":        task.Name,
		"description": task.Description,
		"attribution": task.opts.Attribution,
		"format":      "png",
		"type":        "baselayer",
		"pixel_scale": strconv.Itoa(source.TileSize),
		"version":     MBTileVersion,
		"bounds":      fmt.Sprintf(`%f,%f,%f,%f`, b.Left(), b.Bottom(), b.Right(), b.Top()),
		"center":      fmt.Sprintf(`%f,%f,%d`, c.X(), c.Y(), z),
		"minzoom":     strconv.Itoa(task.Min),
		"maxzoom":     strconv.Itoa(task.Max),
	}
}

//Abort stops the task after the tile being rendered
func (task *Task) Abort() {
	task.abortOnce.Do(func() { close(task.abort) })
}

//Pause suspends rendering until Play or Abort
func (task *Task) Pause() {
	select {
	case task.pause <- struct{}{}:
	default:
	}
}

//Play resumes a paused task
func (task *Task) Play() {
	select {
	case task.play <- struct{}{}:
	default:
	}
}

//Saved number of tiles written to the sink
func (task *Task) Saved() int64 {
	task.errMu.Lock()
	defer task.errMu.Unlock()
	return task.saved
}

func (task *Task) fail(err error) {
	task.errMu.Lock()
	if task.err == nil {
		task.err = err
	}
	task.errMu.Unlock()
}

func (task *Task) aborted() bool {
	select {
	case <-task.abort:
		return true
	default:
		return false
	}
}

//savePipe the only writer of the sink
func (task *Task) savePipe() {
	for tile := range task.savingpipe {
		var err error
		if task.Format == MBTiles {
			err = saveToMBTile(tile, task.db)
		} else {
			err = saveToFiles(tile, task.File)
		}
		if err != nil {
			log.Errorf("save %v tile error ~ %s", tile.T, err)
			task.fail(err)
			continue
		}
		task.errMu.Lock()
		task.saved++
		task.errMu.Unlock()
		task.Metrics.TileExported(task.Format)
	}
}

//render draws one tile with the task view
func (task *Task) render(t maptile.Tile) (*image.RGBA, error) {
	if err := task.view.ZoomEnvelope(source.TileBounds(t), 0); err != nil {
		return nil, err
	}
	return task.view.Image(), nil
}

//encoder turns a rendered tile into png bytes for the saving pipe
func (task *Task) encoder(t maptile.Tile, img *image.RGBA) {
	defer task.wg.Done()
	defer func() {
		<-task.workers
	}()
	if task.opts.SkipEmpty && empty(img) {
		log.Debugf("empty tile %v skipped ~", t)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		log.Errorf("encode %v tile error ~ %s", t, err)
		task.fail(err)
		return
	}
	task.savingpipe <- Tile{T: t, C: buf.Bytes()}
}

func empty(img *image.RGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			return false
		}
	}
	return true
}

//renderZoom returns false once the task got canceled
func (task *Task) renderZoom(z int) bool {
	lo, hi := Range(task.Bound, maptile.Zoom(z))
	bar := pb.New64(Count(task.Bound, maptile.Zoom(z))).Prefix(fmt.Sprintf("Zoom %d : ", z))
	bar.NotPrint = task.opts.Quiet
	bar.Start()
	defer bar.Finish()
	for y := lo.Y; y <= hi.Y; y++ {
		for x := lo.X; x <= hi.X; x++ {
			if task.aborted() {
				log.Infof("task %s got canceled.", task.ID)
				return false
			}
			t := maptile.New(x, y, maptile.Zoom(z))
			img, err := task.render(t)
			if err != nil {
				log.Errorf("render %v tile error ~ %s", t, err)
				task.fail(err)
				continue
			}
			select {
			case task.workers <- t:
				bar.Increment()
				task.Bar.Increment()
				task.wg.Add(1)
				go task.encoder(t, img)
			case <-task.abort:
				log.Infof("task %s got canceled.", task.ID)
				return false
			case <-task.pause:
				log.Infof("task %s suspended.", task.ID)
				select {
				case <-task.play:
					log.Infof("task %s go on.", task.ID)
					select {
					case task.workers <- t:
						bar.Increment()
						task.Bar.Increment()
						task.wg.Add(1)
						go task.encoder(t, img)
					case <-task.abort:
						log.Infof("task %s got canceled.", task.ID)
						return false
					}
				case <-task.abort:
					log.Infof("task %s got canceled.", task.ID)
					return false
				}
			}
		}
	}
	return true
}

//Run renders every zoom level and waits for the sink to drain
func (task *Task) Run() error {
	start := time.Now()
	task.Bar = pb.New64(task.Total).Prefix("Task : ")
	task.Bar.NotPrint = task.opts.Quiet
	task.Bar.Start()
	if task.Format == MBTiles {
		db, err := setupMBTiles(task.File, task.MetaItems())
		if err != nil {
			task.Bar.Finish()
			return err
		}
		task.db = db
		defer db.Close()
	}
	saved := make(chan struct{})
	go func() {
		task.savePipe()
		close(saved)
	}()
	complete := true
	for z := task.Min; z <= task.Max && complete; z++ {
		complete = task.renderZoom(z)
	}
	task.wg.Wait()
	close(task.savingpipe)
	<-saved
	if task.db != nil {
		if err := optimizeDatabase(task.db); err != nil {
			log.Warnf("optimize %s error ~ %s", task.File, err)
		}
	}
	task.Bar.FinishPrint(fmt.Sprintf("task %s finished in %.3fs ~", task.ID, time.Since(start).Seconds()))
	if !complete {
		return ErrAborted
	}
	task.errMu.Lock()
	defer task.errMu.Unlock()
	return task.err
}
