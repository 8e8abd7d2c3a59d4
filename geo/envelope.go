package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

//Envelope axis aligned bounding box, the zero value is empty
type Envelope struct {
	MinX, MinY, MaxX, MaxY float64
	init                   bool
}

//NewEnvelope builds an initialized envelope from two opposite corners
func NewEnvelope(x0, y0, x1, y1 float64) Envelope {
	return Envelope{
		MinX: math.Min(x0, x1),
		MinY: math.Min(y0, y1),
		MaxX: math.Max(x0, x1),
		MaxY: math.Max(y0, y1),
		init: true,
	}
}

//FromBound converts an orb bound
func FromBound(b orb.Bound) Envelope {
	return NewEnvelope(b.Min[0], b.Min[1], b.Max[0], b.Max[1])
}

//IsInit reports whether the envelope holds at least one point
func (e Envelope) IsInit() bool {
	return e.init
}

//Bound converts to an orb bound
func (e Envelope) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{e.MinX, e.MinY}, Max: orb.Point{e.MaxX, e.MaxY}}
}

func (e Envelope) Width() float64 {
	return e.MaxX - e.MinX
}

func (e Envelope) Height() float64 {
	return e.MaxY - e.MinY
}

func (e Envelope) Center() orb.Point {
	return orb.Point{(e.MinX + e.MaxX) / 2, (e.MinY + e.MaxY) / 2}
}

//Merge returns the smallest envelope holding e and o
func (e Envelope) Merge(o Envelope) Envelope {
	if !o.init {
		return e
	}
	if !e.init {
		return o
	}
	return Envelope{
		MinX: math.Min(e.MinX, o.MinX),
		MinY: math.Min(e.MinY, o.MinY),
		MaxX: math.Max(e.MaxX, o.MaxX),
		MaxY: math.Max(e.MaxY, o.MaxY),
		init: true,
	}
}

//MergePoint grows the envelope to hold (x, y)
func (e Envelope) MergePoint(x, y float64) Envelope {
	return e.Merge(Envelope{MinX: x, MinY: y, MaxX: x, MaxY: y, init: true})
}

//Intersects axis aligned overlap test, touching edges count
func (e Envelope) Intersects(o Envelope) bool {
	if !e.init || !o.init {
		return false
	}
	return e.MinX <= o.MaxX && o.MinX <= e.MaxX && e.MinY <= o.MaxY && o.MinY <= e.MaxY
}

//Intersection returns the overlap, empty when there is none
func (e Envelope) Intersection(o Envelope) Envelope {
	if !e.Intersects(o) {
		return Envelope{}
	}
	return Envelope{
		MinX: math.Max(e.MinX, o.MinX),
		MinY: math.Max(e.MinY, o.MinY),
		MaxX: math.Min(e.MaxX, o.MaxX),
		MaxY: math.Min(e.MaxY, o.MaxY),
		init: true,
	}
}

func (e Envelope) Contains(x, y float64) bool {
	return e.init && x >= e.MinX && x <= e.MaxX && y >= e.MinY && y <= e.MaxY
}

//Buffer grows every side by d
func (e Envelope) Buffer(d float64) Envelope {
	if !e.init {
		return e
	}
	return NewEnvelope(e.MinX-d, e.MinY-d, e.MaxX+d, e.MaxY+d)
}

func (e Envelope) String() string {
	if !e.init {
		return "EMPTY"
	}
	return fmt.Sprintf("%f,%f,%f,%f", e.MinX, e.MinY, e.MaxX, e.MaxY)
}
