package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// ErrUnsupportedTransform no point transform is known between two CRS.
var ErrUnsupportedTransform = errors.New("unsupported crs transformation")

//CRS coordinate reference system identified by its EPSG code
type CRS int

// Known systems.
const (
	Unknown     CRS = 0
	WGS84       CRS = 4326
	WebMercator CRS = 3857
)

// MaxLatitude web mercator latitude limit.
const MaxLatitude = 85.05112877980659

var aliases = map[int]CRS{
	3857:   WebMercator,
	3785:   WebMercator,
	900913: WebMercator,
	102100: WebMercator,
	102113: WebMercator,
	4326:   WGS84,
	4979:   WGS84,
}

//ParseCRS accepts "EPSG:3857", "epsg:4326" or a bare code
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.TrimPrefix(s, "EPSG:")
	if s == "" {
		return Unknown, nil
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return Unknown, fmt.Errorf("parse crs %q: %w", s, err)
	}
	return Canonical(code), nil
}

//Canonical maps well known aliases onto one code
func Canonical(code int) CRS {
	if c, ok := aliases[code]; ok {
		return c
	}
	return CRS(code)
}

func (c CRS) String() string {
	if c == Unknown {
		return "EPSG:unknown"
	}
	return fmt.Sprintf("EPSG:%d", int(c))
}

//Geographic reports whether coordinates are in degrees
func (c CRS) Geographic() bool {
	return c == WGS84
}

//Transformation point transform between two CRS
type Transformation struct {
	Src, Dst CRS
	proj     orb.Projection
}

//NewTransformation unknown systems are treated as identical to anything
func NewTransformation(src, dst CRS) (*Transformation, error) {
	t := &Transformation{Src: src, Dst: dst}
	switch {
	case src == dst || src == Unknown || dst == Unknown:
	case src == WGS84 && dst == WebMercator:
		t.proj = func(p orb.Point) orb.Point {
			p[1] = math.Max(-MaxLatitude, math.Min(MaxLatitude, p[1]))
			return project.WGS84.ToMercator(p)
		}
	case src == WebMercator && dst == WGS84:
		t.proj = project.Mercator.ToWGS84
	default:
		return nil, fmt.Errorf("%s to %s: %w", src, dst, ErrUnsupportedTransform)
	}
	return t, nil
}

func (t *Transformation) IsIdentity() bool {
	return t.proj == nil
}

func (t *Transformation) Point(p orb.Point) orb.Point {
	if t.proj == nil {
		return p
	}
	return t.proj(p)
}

//Geometry returns a transformed copy, g is left untouched
func (t *Transformation) Geometry(g orb.Geometry) orb.Geometry {
	if t.proj == nil || g == nil {
		return g
	}
	return project.Geometry(orb.Clone(g), t.proj)
}

//Envelope reprojects the four corners and envelopes the result.
//For projections that do not keep axes straight this under or over
//estimates the true extent.
func (t *Transformation) Envelope(e Envelope) Envelope {
	if t.proj == nil || !e.init {
		return e
	}
	out := Envelope{}
	for _, c := range [4]orb.Point{{e.MinX, e.MinY}, {e.MinX, e.MaxY}, {e.MaxX, e.MaxY}, {e.MaxX, e.MinY}} {
		p := t.proj(c)
		out = out.MergePoint(p[0], p[1])
	}
	return out
}

//Reproject envelope helper
func Reproject(e Envelope, src, dst CRS) (Envelope, error) {
	t, err := NewTransformation(src, dst)
	if err != nil {
		return Envelope{}, err
	}
	return t.Envelope(e), nil
}
