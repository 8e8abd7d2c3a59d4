package shade

import (
	"image/color"
	"math"
)

// Ground distance constants.
const (
	FallbackDistance = 25.0
	MetersPerDegree  = 111319.49
)

//Distance ground spacing in meters between samples of a grid with pixel
//size gsd; geographic grids are in degrees and get converted
func Distance(gsd float64, geographic bool) float64 {
	switch {
	case gsd <= 0 || math.IsNaN(gsd):
		return FallbackDistance
	case geographic:
		return gsd * MetersPerDegree
	}
	return gsd
}

type vec3 [3]float64

func (v vec3) dot(w vec3) float64 { return v[0]*w[0] + v[1]*w[1] + v[2]*w[2] }
func (v vec3) norm() float64      { return math.Sqrt(v.dot(v)) }

func (v vec3) cross(w vec3) vec3 {
	return vec3{
		v[1]*w[2] - v[2]*w[1],
		v[2]*w[0] - v[0]*w[2],
		v[0]*w[1] - v[1]*w[0],
	}
}

//Light unit light vector, zenith is negated so the light points into the surface
func Light(azimuth, zenith float64) [3]float64 {
	a := azimuth * math.Pi / 180
	z := -zenith * math.Pi / 180
	return [3]float64{math.Cos(z) * math.Sin(a), math.Cos(z) * math.Cos(a), math.Sin(z)}
}

//Hillshade brightness in [0, 1] of the sample c with its upper neighbour a
//and right neighbour r, d is the sample spacing
func Hillshade(c, a, r, d float64, light [3]float64) float64 {
	dy := vec3{0, d, a - c}
	dx := vec3{d, 0, r - c}
	n := dy.cross(dx)
	l := vec3(light)
	nn, ln := n.norm(), l.norm()
	if nn == 0 || ln == 0 {
		return 0
	}
	k := -n.dot(l) / (nn * ln)
	if k < 0 || math.IsNaN(k) {
		return 0
	}
	if k > 1 {
		return 1
	}
	return k
}

//SlopeCoef 1 on flat ground, tends to 0 on vertical faces
func SlopeCoef(c, a, r, d float64) float64 {
	den := math.Sqrt((r-c)*(r-c) + (a-c)*(a-c) + d*d)
	if den == 0 {
		return 0
	}
	return d / den
}

func lerp(c0, c1 color.RGBA, w float64) color.RGBA {
	mix := func(a, b uint8) uint8 {
		return uint8(math.Round(w*float64(a) + (1-w)*float64(b)))
	}
	return color.RGBA{mix(c0.R, c1.R), mix(c0.G, c1.G), mix(c0.B, c1.B), 255}
}

//Band interpolated ramp colour of altitude v
func (s Settings) Band(v float64) color.RGBA {
	n := len(s.Z)
	if v < s.Z[0] {
		return s.Colours[0]
	}
	if v >= s.Z[n-1] {
		return s.Colours[n]
	}
	for i := 0; i < n-1; i++ {
		if v < s.Z[i+1] {
			w := (s.Z[i+1] - v) / (s.Z[i+1] - s.Z[i])
			return lerp(s.Colours[i], s.Colours[i+1], w)
		}
	}
	return s.Colours[n]
}

//Flat band colour of altitude v without interpolation
func (s Settings) Flat(v float64) color.RGBA {
	n := len(s.Z)
	for i := 0; i < n; i++ {
		if v < s.Z[i] {
			return s.Colours[i]
		}
	}
	return s.Colours[n]
}

//ContourAt reports whether c crosses an interval boundary towards a or r,
//and the colour of the crossed level
func (s Settings) ContourAt(c, a, r float64) (color.RGBA, bool) {
	step := s.ContourInterval
	if step <= 0 {
		step = DefaultContourInterval
	}
	lc := math.Ceil(c / step)
	if lc == math.Ceil(a/step) && lc == math.Ceil(r/step) {
		return color.RGBA{255, 255, 255, 255}, false
	}
	cote := math.Round(c/step) * step
	for k, z := range s.Z {
		if cote <= z {
			return s.Colours[k], true
		}
	}
	return s.Colours[len(s.Z)], true
}

func scale(c color.RGBA, k float64) color.RGBA {
	f := func(v uint8) uint8 { return uint8(math.Round(float64(v) * k)) }
	return color.RGBA{f(c.R), f(c.G), f(c.B), 255}
}

func grey(k float64) color.RGBA {
	v := uint8(math.Round(255 * k))
	return color.RGBA{v, v, v, 255}
}

//Pixel colour of one sample for the current mode
func (s Settings) Pixel(c, a, r, d float64) color.RGBA {
	return s.PixelAt(c, c, a, r, d)
}

//PixelAt colour of the sample val; the gradient is taken from c with its
//upper neighbour a and right neighbour r, which differ from val on edges
func (s Settings) PixelAt(val, c, a, r, d float64) color.RGBA {
	if val <= s.NoData || math.IsNaN(val) {
		return s.OutOfArea
	}
	if c <= s.NoData || math.IsNaN(c) {
		c = val
	}
	if a <= s.NoData || math.IsNaN(a) {
		a = c
	}
	if r <= s.NoData || math.IsNaN(r) {
		r = c
	}
	switch s.Mode {
	case Altitude:
		return s.Band(val)
	case Colour:
		return s.Flat(val)
	case Shading:
		return grey(Hillshade(c, a, r, d, Light(DefaultAzimuth, DefaultZenith)))
	case LightShading:
		return grey(Hillshade(c, a, r, d, Light(LightAzimuth, LightZenith)))
	case FreeShading:
		return grey(Hillshade(c, a, r, d, Light(s.Azimuth, s.Zenith)))
	case Slope:
		return grey(SlopeCoef(c, a, r, d))
	case ShadingColour:
		return scale(s.Flat(val), Hillshade(c, a, r, d, Light(s.Azimuth, s.Zenith)))
	case Contour:
		col, _ := s.ContourAt(c, a, r)
		return col
	}
	return s.OutOfArea
}
