package window

import (
	"math"

	"geoview/geo"
	"geoview/source"
)

//Elevation raw elevation buffer of a view, Alpha holds the opacity of the
//layer that supplied each sample and is zero where no layer did
type Elevation struct {
	W, H   int
	Raw    []float32
	Alpha  []uint8
	NoData float32
}

func NewElevation(w, h int, nodata float32) *Elevation {
	e := &Elevation{W: w, H: h, Raw: make([]float32, w*h), Alpha: make([]uint8, w*h)}
	e.Reset(nodata)
	return e
}

//Reset fills the buffer with nodata
func (e *Elevation) Reset(nodata float32) {
	e.NoData = nodata
	for i := range e.Raw {
		e.Raw[i] = nodata
		e.Alpha[i] = 0
	}
}

//At elevation of the pixel, false outside data
func (e *Elevation) At(x, y int) (float32, bool) {
	if x < 0 || y < 0 || x >= e.W || y >= e.H {
		return 0, false
	}
	i := y*e.W + x
	if e.Alpha[i] == 0 || e.Raw[i] <= e.NoData {
		return 0, false
	}
	return e.Raw[i], true
}

//ReadElevation writes the first band of ds seen through view into e with
//bilinear resampling, samples matching the dataset nodata are left alone
func ReadElevation(e *Elevation, ds source.Raster, view geo.Envelope, opacity float64) (bool, error) {
	w, h := ds.Size()
	win, ok := Prepare(ds.GeoTransform(), w, h, view, e.W)
	if !ok {
		return false, nil
	}
	dw, dh := win.R1-win.R0, win.S1-win.S0
	buf := make([]float32, dw*dh)
	if err := ds.ReadWindow(1, win.Src(), dw, dh, source.Bilinear, buf); err != nil {
		return false, err
	}
	nodata, hasNoData := ds.NoData(1)
	a := uint8(math.Round(clampUnit(opacity) * 255))
	if a == 0 {
		return true, nil
	}
	for y := 0; y < dh; y++ {
		ty := win.S0 + y
		if ty < 0 || ty >= e.H {
			continue
		}
		for x := 0; x < dw; x++ {
			tx := win.R0 + x
			if tx < 0 || tx >= e.W {
				continue
			}
			v := buf[y*dw+x]
			if math.IsNaN(float64(v)) || (hasNoData && float64(v) == nodata) || v <= e.NoData {
				continue
			}
			i := ty*e.W + tx
			e.Raw[i] = v
			e.Alpha[i] = a
		}
	}
	return true, nil
}
