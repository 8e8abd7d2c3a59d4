package window

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"geoview/geo"
	"geoview/source"

	xdraw "golang.org/x/image/draw"
)

//MaxBands bands read from an imagery dataset, as red, green and blue
const MaxBands = 3

func toByte(v float32) uint8 {
	switch {
	case v <= 0 || math.IsNaN(float64(v)):
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}

//Imagery reads the src window of ds resampled to dw x dh colours
func Imagery(ds source.Raster, src image.Rectangle, dw, dh int) (*image.NRGBA, error) {
	out := image.NewNRGBA(image.Rect(0, 0, dw, dh))
	if ir, ok := ds.(source.ImageReader); ok {
		img, err := ir.ReadImage(src)
		if err != nil {
			return nil, err
		}
		xdraw.NearestNeighbor.Scale(out, out.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		return out, nil
	}

	n := ds.BandCount()
	if n > MaxBands {
		n = MaxBands
	}
	if n == 0 {
		return nil, fmt.Errorf("%s: %w", ds.Name(), source.ErrBand)
	}
	bands := make([][]float32, n)
	for b := range bands {
		bands[b] = make([]float32, dw*dh)
		if err := ds.ReadWindow(b+1, src, dw, dh, source.Nearest, bands[b]); err != nil {
			return nil, err
		}
	}
	nodata, hasNoData := ds.NoData(1)
	palette := ds.ColorTable()
	for i := 0; i < dw*dh; i++ {
		if hasNoData && float64(bands[0][i]) == nodata {
			continue
		}
		var c color.NRGBA
		switch {
		case n == 1 && palette != nil:
			idx := int(bands[0][i])
			if idx < 0 || idx >= len(palette) {
				continue
			}
			c = color.NRGBAModel.Convert(palette[idx]).(color.NRGBA)
		case n == 1:
			g := toByte(bands[0][i])
			c = color.NRGBA{g, g, g, 255}
		default:
			var rgb [3]uint8
			for b := 0; b < n; b++ {
				rgb[b] = toByte(bands[b][i])
			}
			c = color.NRGBA{rgb[0], rgb[1], rgb[2], 255}
		}
		out.Pix[i*4], out.Pix[i*4+1], out.Pix[i*4+2], out.Pix[i*4+3] = c.R, c.G, c.B, c.A
	}
	return out, nil
}

//DrawImagery composites the part of ds seen through view onto dst at the
//given opacity; false means the dataset is out of view
func DrawImagery(dst *image.RGBA, ds source.Raster, view geo.Envelope, opacity float64) (bool, error) {
	w, h := ds.Size()
	win, ok := Prepare(ds.GeoTransform(), w, h, view, dst.Bounds().Dx())
	if !ok {
		return false, nil
	}
	r := win.Dst().Intersect(dst.Bounds())
	if r.Empty() {
		return false, nil
	}
	img, err := Imagery(ds, win.Src(), win.R1-win.R0, win.S1-win.S0)
	if err != nil {
		return false, err
	}
	mask := image.NewUniform(color.Alpha{uint8(math.Round(clampUnit(opacity) * 255))})
	xdraw.DrawMask(dst, r, img, r.Min.Sub(win.Dst().Min), mask, image.Point{}, xdraw.Over)
	return true, nil
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
