// Package source opens the vector and raster datasets the map draws from.
//
// A vector source hands out features by id and, when the underlying store has
// a spatial index, by bounding box. A raster source exposes a GDAL like band
// model: size, geotransform, typed bands read window by window into float32
// buffers, and an optional colour table.
package source

import (
	"errors"
	"image"
	"image/color"

	"geoview/geo"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Errors returned while opening datasets.
var (
	ErrNotGeometric      = errors.New("source has no geometry")
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	ErrNoFeature         = errors.New("no such feature")
	ErrBand              = errors.New("band out of range")
	ErrWindow            = errors.New("window outside raster")
)

//Feature one record of a vector source
type Feature struct {
	ID         int64
	Geometry   orb.Geometry
	Properties geojson.Properties
}

//Envelope of the feature geometry
func (f *Feature) Envelope() geo.Envelope {
	if f.Geometry == nil {
		return geo.Envelope{}
	}
	return geo.FromBound(f.Geometry.Bound())
}

//Vector feature source
type Vector interface {
	Name() string
	SpatialRef() geo.CRS
	Envelope() (geo.Envelope, error)
	Count() int64
	//Feature fetches one feature with its geometry by id
	Feature(id int64) (*Feature, error)
	//Scan walks every feature in source order until fn returns false
	Scan(fn func(*Feature) bool) error
	Close() error
}

//BoxFilter is implemented by sources with a native spatial index
type BoxFilter interface {
	Query(env geo.Envelope) (Cursor, error)
}

//Cursor feature stream returned by a box query
type Cursor interface {
	Next() (*Feature, bool)
	Err() error
	Close() error
}

//BandType storage type of a raster band
type BandType int

// Band types.
const (
	Byte BandType = iota
	UInt16
	Int16
	Float32
)

func (t BandType) String() string {
	switch t {
	case Byte:
		return "Byte"
	case UInt16:
		return "UInt16"
	case Int16:
		return "Int16"
	default:
		return "Float32"
	}
}

//Resampling used when a window is read at another size
type Resampling int

// Resampling algorithms.
const (
	Nearest Resampling = iota
	Bilinear
)

//Raster dataset, bands are numbered from 1
type Raster interface {
	Name() string
	Size() (w, h int)
	GeoTransform() geo.GeoTransform
	SpatialRef() geo.CRS
	BandCount() int
	BandType(band int) BandType
	//ColorTable palette of band 1, nil when the band holds values
	ColorTable() color.Palette
	NoData(band int) (float64, bool)
	//ReadWindow reads src of a band resampled into dst, a dw x dh row major buffer
	ReadWindow(band int, src image.Rectangle, dw, dh int, alg Resampling, dst []float32) error
	Close() error
}

//ImageReader is implemented by rasters that decode straight to RGBA imagery
type ImageReader interface {
	ReadImage(src image.Rectangle) (image.Image, error)
}
