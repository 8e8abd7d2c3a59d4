package layer

import (
	"errors"
	"fmt"
	"sync"

	"geoview/geo"
	"geoview/source"
)

// ErrDegenerateTransform the raster cannot be placed on the ground.
var ErrDegenerateTransform = errors.New("degenerate geotransform")

//Raster one dataset of a raster layer with its cached footprint
type Raster struct {
	ds  source.Raster
	env geo.Envelope
	gsd float64
}

//NewRaster rejects datasets whose geotransform cannot be inverted
func NewRaster(ds source.Raster) (*Raster, error) {
	gt := ds.GeoTransform()
	if gt.Degenerate() {
		return nil, fmt.Errorf("%s %v: %w", ds.Name(), gt, ErrDegenerateTransform)
	}
	w, h := ds.Size()
	return &Raster{ds: ds, env: gt.NorthUp(h).Envelope(w, h), gsd: gt.GSD()}, nil
}

func (r *Raster) Dataset() source.Raster { return r.ds }
func (r *Raster) Envelope() geo.Envelope { return r.env }
func (r *Raster) GSD() float64           { return r.gsd }

//TileProvider makes tiles on demand, for sources too large to enumerate
type TileProvider interface {
	Name() string
	Envelope() geo.Envelope
	SpatialRef() geo.CRS
	Tiles(env geo.Envelope, scale float64) []source.Raster
}

//RasterLayer named group of rasters drawn together at one opacity
type RasterLayer struct {
	mu       sync.Mutex
	id       int
	name     string
	keys     []string
	tiles    []*Raster
	provider TileProvider
	crs      geo.CRS
	env      geo.Envelope
	opacity  float64
	visible  bool
}

func newRasterLayer(id int, name string) *RasterLayer {
	return &RasterLayer{id: id, name: name, opacity: 1, visible: true}
}

//NewRasterLayer groups datasets; degenerate ones are skipped, at least one must remain
func NewRasterLayer(id int, name string, datasets ...source.Raster) (*RasterLayer, error) {
	l := newRasterLayer(id, name)
	var lastErr error
	for _, ds := range datasets {
		if err := l.add(ds); err != nil {
			lastErr = err
		}
	}
	if len(l.tiles) == 0 {
		if lastErr == nil {
			lastErr = source.ErrUnsupportedFormat
		}
		return nil, fmt.Errorf("layer %s: %w", name, lastErr)
	}
	return l, nil
}

//NewTiledLayer layer backed by a tile provider
func NewTiledLayer(id int, p TileProvider) *RasterLayer {
	l := newRasterLayer(id, p.Name())
	l.provider = p
	l.crs = p.SpatialRef()
	l.env = p.Envelope()
	return l
}

func (l *RasterLayer) add(ds source.Raster) error {
	r, err := NewRaster(ds)
	if err != nil {
		return err
	}
	if len(l.tiles) == 0 {
		l.crs = ds.SpatialRef()
	}
	l.tiles = append(l.tiles, r)
	l.env = l.env.Merge(r.env)
	return nil
}

func (l *RasterLayer) ID() int                { return l.id }
func (l *RasterLayer) Name() string           { return l.name }
func (l *RasterLayer) SpatialRef() geo.CRS    { return l.crs }
func (l *RasterLayer) Envelope() geo.Envelope { return l.env }
func (l *RasterLayer) Len() int               { return len(l.tiles) }

func (l *RasterLayer) Opacity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opacity
}

//SetOpacity clamps to [0,1]
func (l *RasterLayer) SetOpacity(o float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case o < 0:
		o = 0
	case o > 1:
		o = 1
	}
	l.opacity = o
}

func (l *RasterLayer) Visible() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visible
}

func (l *RasterLayer) SetVisible(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visible = v
}

//Tiles rasters whose footprint meets env, in layer order. scale picks the
//level of tile providers.
func (l *RasterLayer) Tiles(env geo.Envelope, scale float64) []*Raster {
	if l.provider != nil {
		var out []*Raster
		for _, ds := range l.provider.Tiles(env, scale) {
			if r, err := NewRaster(ds); err == nil && r.env.Intersects(env) {
				out = append(out, r)
			}
		}
		return out
	}
	var out []*Raster
	for _, r := range l.tiles {
		if r.env.Intersects(env) {
			out = append(out, r)
		}
	}
	return out
}
