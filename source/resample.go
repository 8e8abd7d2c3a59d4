package source

import (
	"fmt"
	"image"
	"math"
)

//sampler reads one band value, x and y are inside the raster
type sampler func(x, y int) float32

func checkWindow(w, h int, src image.Rectangle, dw, dh int, dst []float32) error {
	if src.Empty() || !src.In(image.Rect(0, 0, w, h)) {
		return fmt.Errorf("%v in %dx%d: %w", src, w, h, ErrWindow)
	}
	if dw <= 0 || dh <= 0 || len(dst) < dw*dh {
		return fmt.Errorf("destination %dx%d (buffer %d): %w", dw, dh, len(dst), ErrWindow)
	}
	return nil
}

//resample fills dst with src read through at. Bilinear falls back to the
//nearest sample when one of the four neighbours is no-data.
func resample(at sampler, src image.Rectangle, dw, dh int, alg Resampling, nodata float64, hasNoData bool, dst []float32) {
	sx := float64(src.Dx()) / float64(dw)
	sy := float64(src.Dy()) / float64(dh)
	maxX, maxY := src.Max.X-1, src.Max.Y-1
	isND := func(v float32) bool {
		return hasNoData && float64(v) == nodata
	}
	for y := 0; y < dh; y++ {
		fy := float64(src.Min.Y) + (float64(y)+0.5)*sy
		for x := 0; x < dw; x++ {
			fx := float64(src.Min.X) + (float64(x)+0.5)*sx
			nx, ny := clampInt(int(fx), src.Min.X, maxX), clampInt(int(fy), src.Min.Y, maxY)
			if alg == Nearest {
				dst[y*dw+x] = at(nx, ny)
				continue
			}
			gx, gy := fx-0.5, fy-0.5
			x0 := clampInt(int(math.Floor(gx)), src.Min.X, maxX)
			y0 := clampInt(int(math.Floor(gy)), src.Min.Y, maxY)
			x1, y1 := clampInt(x0+1, src.Min.X, maxX), clampInt(y0+1, src.Min.Y, maxY)
			tx := clampFloat(gx-float64(x0), 0, 1)
			ty := clampFloat(gy-float64(y0), 0, 1)
			v00, v10, v01, v11 := at(x0, y0), at(x1, y0), at(x0, y1), at(x1, y1)
			if isND(v00) || isND(v10) || isND(v01) || isND(v11) {
				dst[y*dw+x] = at(nx, ny)
				continue
			}
			top := float64(v00)*(1-tx) + float64(v10)*tx
			bottom := float64(v01)*(1-tx) + float64(v11)*tx
			dst[y*dw+x] = float32(top*(1-ty) + bottom*ty)
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
