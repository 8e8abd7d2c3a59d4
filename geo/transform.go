package geo

import (
	"github.com/paulmach/orb"
)

//Transform world to pixel mapping of a view.
//X0, Y0 is the ground position of the top left pixel corner and
//Scale the ground size of one pixel.
type Transform struct {
	X0, Y0, Scale float64
}

//ToPixel pixel rows grow downward while ground Y grows upward
func (t Transform) ToPixel(x, y float64) (float64, float64) {
	return (x - t.X0) / t.Scale, (t.Y0 - y) / t.Scale
}

//ToGround inverse of ToPixel
func (t Transform) ToGround(px, py float64) (float64, float64) {
	return t.X0 + px*t.Scale, t.Y0 - py*t.Scale
}

//Projection world to pixel as an orb projection
func (t Transform) Projection() orb.Projection {
	return func(p orb.Point) orb.Point {
		x, y := t.ToPixel(p[0], p[1])
		return orb.Point{x, y}
	}
}

//Envelope ground extent of a w x h pixel viewport
func (t Transform) Envelope(w, h int) Envelope {
	return NewEnvelope(t.X0, t.Y0-float64(h)*t.Scale, t.X0+float64(w)*t.Scale, t.Y0)
}

//Valid scale must be strictly positive
func (t Transform) Valid() bool {
	return t.Scale > 0
}
