package layer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"geoview/geo"
	"geoview/source"

	log "github.com/sirupsen/logrus"
)

// ErrNoSuchLayer no layer carries the requested id.
var ErrNoSuchLayer = errors.New("no such layer")

//Kind of layer list
type Kind int

// Layer lists.
const (
	KindVector Kind = iota
	KindRaster
	KindDTM
)

func (k Kind) String() string {
	switch k {
	case KindVector:
		return "vector"
	case KindRaster:
		return "raster"
	}
	return "dtm"
}

//Field one attribute of a feature
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

//Base the layers of a map, the current selection and the datasets behind them
type Base struct {
	mu        sync.RWMutex
	crs       geo.CRS
	reg       *source.Registry
	nextID    int
	vectors   []*VectorLayer
	rasters   []*RasterLayer
	dtms      []*RasterLayer
	keys      map[int][]string
	selection []Feature

	//TileCache decoded tiles kept per tile server
	TileCache int
	//OnTileCache observes tile cache lookups of tile servers
	OnTileCache func(hit bool)
}

//NewBase crs is the display system envelopes are merged in
func NewBase(crs geo.CRS) *Base {
	return &Base{crs: crs, reg: source.NewRegistry(), keys: make(map[int][]string), TileCache: 512}
}

func (b *Base) CRS() geo.CRS {
	return b.crs
}

//IsOpen reports whether a dataset path is used by a layer
func (b *Base) IsOpen(path string) bool {
	return b.reg.IsOpen(path)
}

func (b *Base) acquireVector(key string, open func() (source.Vector, error)) (source.Vector, error) {
	ds, err := b.reg.Acquire(key, func() (io.Closer, error) { return open() })
	if err != nil {
		return nil, err
	}
	v, ok := ds.(source.Vector)
	if !ok {
		b.reg.Release(key)
		return nil, fmt.Errorf("%s: %w", key, source.ErrNotGeometric)
	}
	return v, nil
}

func (b *Base) acquireRaster(key string, open func() (source.Raster, error)) (source.Raster, error) {
	ds, err := b.reg.Acquire(key, func() (io.Closer, error) { return open() })
	if err != nil {
		return nil, err
	}
	r, ok := ds.(source.Raster)
	if !ok {
		b.reg.Release(key)
		return nil, fmt.Errorf("%s: %w", key, source.ErrUnsupportedFormat)
	}
	return r, nil
}

func (b *Base) release(keys []string) {
	for _, k := range keys {
		b.reg.Release(k)
	}
}

func (b *Base) newID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

//AddVectorSource registers src under key and adds it as a layer on top
func (b *Base) AddVectorSource(key string, open func() (source.Vector, error)) (*VectorLayer, error) {
	src, err := b.acquireVector(key, open)
	if err != nil {
		return nil, err
	}
	l, err := NewVectorLayer(b.newID(), src)
	if err != nil {
		b.reg.Release(key)
		return nil, err
	}
	b.mu.Lock()
	b.vectors = append(b.vectors, l)
	b.keys[l.id] = []string{key}
	b.mu.Unlock()
	log.WithField("layer", l.Name()).Infof("vector layer %d opened, %s", l.id, l.env)
	return l, nil
}

//OpenVector GeoJSON files give one layer, SpatiaLite databases one per geometry table
func (b *Base) OpenVector(path string) ([]*VectorLayer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		l, err := b.AddVectorSource(path, func() (source.Vector, error) { return source.OpenGeoJSON(path) })
		if err != nil {
			return nil, err
		}
		return []*VectorLayer{l}, nil
	case ".sqlite", ".db", ".spatialite":
		tables, err := source.SpatiaLiteTables(path)
		if err != nil {
			return nil, err
		}
		var out []*VectorLayer
		for _, t := range tables {
			table := t
			l, err := b.AddVectorSource(path+"#"+table, func() (source.Vector, error) { return source.OpenSpatiaLite(path, table) })
			if err != nil {
				log.Warnf("skip table %s of %s ~ %s", table, path, err)
				continue
			}
			out = append(out, l)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%s: %w", path, source.ErrNotGeometric)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s: %w", path, source.ErrUnsupportedFormat)
}

func openRasterFile(path string, crs geo.CRS) (source.Raster, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".asc":
		return source.OpenASCIIGrid(path, crs)
	case ".tif", ".tiff", ".png", ".jpg", ".jpeg":
		return source.OpenImage(path, crs)
	}
	return nil, fmt.Errorf("%s: %w", path, source.ErrUnsupportedFormat)
}

func (b *Base) addRasterLayer(kind Kind, name string, keys []string, opens []func() (source.Raster, error)) (*RasterLayer, error) {
	var (
		datasets []source.Raster
		held     []string
	)
	for i, key := range keys {
		ds, err := b.acquireRaster(key, opens[i])
		if err != nil {
			log.Warnf("skip raster %s ~ %s", key, err)
			continue
		}
		datasets = append(datasets, ds)
		held = append(held, key)
	}
	if len(datasets) == 0 {
		return nil, fmt.Errorf("layer %s: %w", name, source.ErrUnsupportedFormat)
	}
	l, err := NewRasterLayer(b.newID(), name, datasets...)
	if err != nil {
		b.release(held)
		return nil, err
	}
	b.push(kind, l, held)
	return l, nil
}

func (b *Base) push(kind Kind, l *RasterLayer, keys []string) {
	b.mu.Lock()
	if kind == KindDTM {
		b.dtms = append(b.dtms, l)
	} else {
		b.rasters = append(b.rasters, l)
	}
	b.keys[l.id] = keys
	b.mu.Unlock()
	log.WithField("layer", l.Name()).Infof("%s layer %d opened, %d rasters, %s", kind, l.id, len(keys), l.env)
}

//OpenRaster imagery file, MBTiles archive or ASCII grid
func (b *Base) OpenRaster(path string, crs geo.CRS) (*RasterLayer, error) {
	if strings.EqualFold(filepath.Ext(path), ".mbtiles") {
		return b.OpenMBTiles(path)
	}
	return b.addRasterLayer(KindRaster, layerName(path), []string{path}, []func() (source.Raster, error){
		func() (source.Raster, error) { return openRasterFile(path, crs) },
	})
}

//OpenDTM elevation grid, one band read as altitude
func (b *Base) OpenDTM(path string, crs geo.CRS) (*RasterLayer, error) {
	return b.addRasterLayer(KindDTM, layerName(path), []string{path}, []func() (source.Raster, error){
		func() (source.Raster, error) { return openRasterFile(path, crs) },
	})
}

//OpenFolder every raster file of dir becomes a tile of one layer
func (b *Base) OpenFolder(dir string, kind Kind, crs geo.CRS) (*RasterLayer, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("open folder %s: %w", dir, err)
	}
	var (
		keys  []string
		opens []func() (source.Raster, error)
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".asc", ".tif", ".tiff", ".png", ".jpg", ".jpeg":
		default:
			continue
		}
		path := filepath.Join(dir, e.Name())
		keys = append(keys, path)
		opens = append(opens, func() (source.Raster, error) { return openRasterFile(path, crs) })
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("folder %s: %w", dir, source.ErrUnsupportedFormat)
	}
	return b.addRasterLayer(kind, filepath.Base(dir), keys, opens)
}

//AddRasterDatasets adds in-memory or already opened datasets as one layer
func (b *Base) AddRasterDatasets(kind Kind, name string, datasets ...source.Raster) (*RasterLayer, error) {
	keys := make([]string, len(datasets))
	opens := make([]func() (source.Raster, error), len(datasets))
	for i, ds := range datasets {
		ds := ds
		keys[i] = fmt.Sprintf("%s:%p", ds.Name(), ds)
		opens[i] = func() (source.Raster, error) { return ds, nil }
	}
	return b.addRasterLayer(kind, name, keys, opens)
}

func (b *Base) addTiled(key string, open func() (*source.Pyramid, error)) (*RasterLayer, error) {
	ds, err := b.reg.Acquire(key, func() (io.Closer, error) { return open() })
	if err != nil {
		return nil, err
	}
	l := NewTiledLayer(b.newID(), ds.(*source.Pyramid))
	b.push(KindRaster, l, []string{key})
	return l, nil
}

//OpenMBTiles raster tile archive as a tiled layer
func (b *Base) OpenMBTiles(path string) (*RasterLayer, error) {
	return b.addTiled(path, func() (*source.Pyramid, error) {
		m, err := source.OpenMBTiles(path)
		if err != nil {
			return nil, err
		}
		return source.NewPyramid(m), nil
	})
}

//OpenTileServer XYZ url template as a tiled layer
func (b *Base) OpenTileServer(name, url string, minZoom, maxZoom int) (*RasterLayer, error) {
	return b.addTiled(url, func() (*source.Pyramid, error) {
		s, err := source.NewTileServer(name, url, minZoom, maxZoom, b.TileCache)
		if err != nil {
			return nil, err
		}
		s.OnCache = b.OnTileCache
		return source.NewPyramid(s), nil
	})
}

func layerName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

//Vectors layers in drawing order, bottom first
func (b *Base) Vectors() []*VectorLayer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*VectorLayer(nil), b.vectors...)
}

func (b *Base) Rasters() []*RasterLayer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*RasterLayer(nil), b.rasters...)
}

func (b *Base) DTMs() []*RasterLayer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*RasterLayer(nil), b.dtms...)
}

//Vector layer by id
func (b *Base) Vector(id int) (*VectorLayer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.vectors {
		if l.id == id {
			return l, nil
		}
	}
	return nil, fmt.Errorf("vector layer %d: %w", id, ErrNoSuchLayer)
}

//Raster raster or elevation layer by id
func (b *Base) Raster(id int) (*RasterLayer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, list := range [][]*RasterLayer{b.rasters, b.dtms} {
		for _, l := range list {
			if l.id == id {
				return l, nil
			}
		}
	}
	return nil, fmt.Errorf("raster layer %d: %w", id, ErrNoSuchLayer)
}

//Remove drops a layer, its datasets are closed with their last layer
func (b *Base) Remove(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	found := false
	for i, l := range b.vectors {
		if l.id == id {
			b.vectors = append(b.vectors[:i], b.vectors[i+1:]...)
			found = true
			break
		}
	}
	for _, list := range []*[]*RasterLayer{&b.rasters, &b.dtms} {
		for i, l := range *list {
			if l.id == id {
				*list = append((*list)[:i], (*list)[i+1:]...)
				found = true
				break
			}
		}
	}
	if !found {
		return fmt.Errorf("layer %d: %w", id, ErrNoSuchLayer)
	}
	b.release(b.keys[id])
	delete(b.keys, id)
	kept := b.selection[:0]
	for _, f := range b.selection {
		if f.Layer != id {
			kept = append(kept, f)
		}
	}
	b.selection = kept
	return nil
}

//Move shifts a layer by delta places in its list, positive toward the top
func (b *Base) Move(id, delta int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	move := func(n int, idx int, swap func(i, j int)) {
		to := idx + delta
		if to < 0 {
			to = 0
		}
		if to > n-1 {
			to = n - 1
		}
		for i := idx; i < to; i++ {
			swap(i, i+1)
		}
		for i := idx; i > to; i-- {
			swap(i, i-1)
		}
	}
	for i, l := range b.vectors {
		if l.id == id {
			move(len(b.vectors), i, func(i, j int) { b.vectors[i], b.vectors[j] = b.vectors[j], b.vectors[i] })
			return nil
		}
	}
	for _, list := range [][]*RasterLayer{b.rasters, b.dtms} {
		for i, l := range list {
			if l.id == id {
				move(len(list), i, func(i, j int) { list[i], list[j] = list[j], list[i] })
				return nil
			}
		}
	}
	return fmt.Errorf("layer %d: %w", id, ErrNoSuchLayer)
}

//Envelope every layer merged in the display system
func (b *Base) Envelope() geo.Envelope {
	b.mu.RLock()
	defer b.mu.RUnlock()
	env := geo.Envelope{}
	merge := func(e geo.Envelope, crs geo.CRS) {
		r, err := geo.Reproject(e, crs, b.crs)
		if err != nil {
			return
		}
		env = env.Merge(r)
	}
	for _, l := range b.vectors {
		merge(l.env, l.SpatialRef())
	}
	for _, list := range [][]*RasterLayer{b.rasters, b.dtms} {
		for _, l := range list {
			merge(l.env, l.crs)
		}
	}
	return env
}

//SelectFeatures replaces the selection by the features of visible vector
//layers meeting env, given in crs. It returns the selection size.
func (b *Base) SelectFeatures(env geo.Envelope, crs geo.CRS) int {
	var sel []Feature
	for _, l := range b.Vectors() {
		if !l.Style().Visible {
			continue
		}
		if err := l.SetSpatialFilterRect(env, crs); err != nil {
			log.Warnf("select in %s ~ %s", l.Name(), err)
			continue
		}
		for f, ok := l.NextFeatureID(); ok; f, ok = l.NextFeatureID() {
			sel = append(sel, f)
		}
	}
	b.mu.Lock()
	b.selection = sel
	b.mu.Unlock()
	return len(sel)
}

func (b *Base) Selection() []Feature {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Feature(nil), b.selection...)
}

func (b *Base) ClearSelection() {
	b.mu.Lock()
	b.selection = nil
	b.mu.Unlock()
}

//SelectionFields attributes of one feature sorted by name
func (b *Base) SelectionFields(layerID int, featureID int64) ([]Field, error) {
	l, err := b.Vector(layerID)
	if err != nil {
		return nil, err
	}
	f, err := l.Feature(featureID)
	if err != nil {
		return nil, err
	}
	fields := make([]Field, 0, len(f.Properties)+1)
	for k, v := range f.Properties {
		fields = append(fields, Field{Name: k, Value: fmt.Sprint(v)})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	if f.Geometry != nil {
		fields = append(fields, Field{Name: "geometry", Value: f.Geometry.GeoJSONType()})
	}
	return fields, nil
}

//Clear drops every layer and closes every dataset
func (b *Base) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vectors, b.rasters, b.dtms, b.selection = nil, nil, nil, nil
	b.keys = make(map[int][]string)
	b.reg.CloseAll()
}
