package source

import (
	"fmt"
	"image"
	"image/color"

	"geoview/geo"
)

//MemVector features held in memory, ids are positions
type MemVector struct {
	name     string
	crs      geo.CRS
	features []*Feature
}

//NewMemVector feature ids are rewritten to their index
func NewMemVector(name string, crs geo.CRS, features []*Feature) *MemVector {
	for i, f := range features {
		f.ID = int64(i)
	}
	return &MemVector{name: name, crs: crs, features: features}
}

func (m *MemVector) Name() string        { return m.name }
func (m *MemVector) SpatialRef() geo.CRS { return m.crs }
func (m *MemVector) Count() int64        { return int64(len(m.features)) }
func (m *MemVector) Close() error        { return nil }

func (m *MemVector) Envelope() (geo.Envelope, error) {
	env := geo.Envelope{}
	for _, f := range m.features {
		env = env.Merge(f.Envelope())
	}
	return env, nil
}

func (m *MemVector) Feature(id int64) (*Feature, error) {
	if id < 0 || id >= int64(len(m.features)) {
		return nil, fmt.Errorf("%s feature %d: %w", m.name, id, ErrNoFeature)
	}
	return m.features[id], nil
}

func (m *MemVector) Scan(fn func(*Feature) bool) error {
	for _, f := range m.features {
		if !fn(f) {
			break
		}
	}
	return nil
}

//IndexedMemVector memory source answering box queries itself
type IndexedMemVector struct {
	*MemVector
}

//WithBoxFilter wraps m so it advertises a native box filter
func WithBoxFilter(m *MemVector) *IndexedMemVector {
	return &IndexedMemVector{MemVector: m}
}

func (m *IndexedMemVector) Query(env geo.Envelope) (Cursor, error) {
	var hits []*Feature
	for _, f := range m.features {
		if f.Envelope().Intersects(env) {
			hits = append(hits, f)
		}
	}
	return &sliceCursor{features: hits}, nil
}

type sliceCursor struct {
	features []*Feature
	pos      int
}

func (c *sliceCursor) Next() (*Feature, bool) {
	if c.pos >= len(c.features) {
		return nil, false
	}
	f := c.features[c.pos]
	c.pos++
	return f, true
}

func (c *sliceCursor) Err() error   { return nil }
func (c *sliceCursor) Close() error { return nil }

//MemRaster bands held as float32 grids
type MemRaster struct {
	name    string
	w, h    int
	gt      geo.GeoTransform
	crs     geo.CRS
	bands   [][]float32
	types   []BandType
	palette color.Palette
	nodata  float64
	hasND   bool
}

//NewMemRaster every band must hold w*h values
func NewMemRaster(name string, w, h int, gt geo.GeoTransform, crs geo.CRS, typ BandType, bands ...[]float32) (*MemRaster, error) {
	if w <= 0 || h <= 0 || len(bands) == 0 {
		return nil, fmt.Errorf("%s: empty raster: %w", name, ErrUnsupportedFormat)
	}
	types := make([]BandType, len(bands))
	for i, b := range bands {
		if len(b) != w*h {
			return nil, fmt.Errorf("%s band %d holds %d values, want %d: %w", name, i+1, len(b), w*h, ErrBand)
		}
		types[i] = typ
	}
	return &MemRaster{name: name, w: w, h: h, gt: gt, crs: crs, bands: bands, types: types}, nil
}

//SetNoData marks the no-data value of every band
func (m *MemRaster) SetNoData(v float64) *MemRaster {
	m.nodata, m.hasND = v, true
	return m
}

//SetColorTable turns band 1 into palette indices
func (m *MemRaster) SetColorTable(p color.Palette) *MemRaster {
	m.palette = p
	return m
}

func (m *MemRaster) Name() string                   { return m.name }
func (m *MemRaster) Size() (int, int)               { return m.w, m.h }
func (m *MemRaster) GeoTransform() geo.GeoTransform { return m.gt }
func (m *MemRaster) SpatialRef() geo.CRS            { return m.crs }
func (m *MemRaster) BandCount() int                 { return len(m.bands) }
func (m *MemRaster) ColorTable() color.Palette      { return m.palette }
func (m *MemRaster) Close() error                   { return nil }

func (m *MemRaster) BandType(band int) BandType {
	if band < 1 || band > len(m.types) {
		return Float32
	}
	return m.types[band-1]
}

func (m *MemRaster) NoData(int) (float64, bool) {
	return m.nodata, m.hasND
}

func (m *MemRaster) ReadWindow(band int, src image.Rectangle, dw, dh int, alg Resampling, dst []float32) error {
	if band < 1 || band > len(m.bands) {
		return fmt.Errorf("%s band %d: %w", m.name, band, ErrBand)
	}
	if err := checkWindow(m.w, m.h, src, dw, dh, dst); err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}
	data := m.bands[band-1]
	resample(func(x, y int) float32 { return data[y*m.w+x] }, src, dw, dh, alg, m.nodata, m.hasND, dst)
	return nil
}
