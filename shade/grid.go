package shade

import (
	"image"
)

//Grid shades a w x h elevation grid stored row by row into dst, which must
//cover the same size. d is the sample spacing in meters, see Distance.
//Edge rows and columns borrow the gradient of their inner neighbours and
//keep their own colour.
func Grid(dst *image.RGBA, raw []float32, w, h int, d float64, s Settings) {
	if w <= 0 || h <= 0 || len(raw) < w*h {
		return
	}
	row := func(i int) []float32 { return raw[i*w : (i+1)*w] }
	for i := 0; i < h; i++ {
		lineR, lineS, lineT := row(i), row(i), row(i)
		switch {
		case h == 1:
		case i == 0:
			lineT = row(1)
		case i == h-1:
			lineR = row(h - 2)
		default:
			lineR, lineT = row(i-1), row(i+1)
		}
		off := dst.PixOffset(dst.Rect.Min.X, dst.Rect.Min.Y+i)
		for x := 0; x < w; x++ {
			val := float64(lineS[x])
			c, a, r := val, val, val
			switch {
			case w == 1:
			case x == w-1:
				c, a, r = float64(lineS[x-1]), float64(lineR[x-1]), val
			case i == 0:
				c, a, r = float64(lineT[x]), val, float64(lineT[x+1])
			default:
				a, r = float64(lineR[x]), float64(lineS[x+1])
			}
			col := s.PixelAt(val, c, a, r, d)
			p := dst.Pix[off+4*x : off+4*x+4 : off+4*x+4]
			p[0], p[1], p[2], p[3] = col.R, col.G, col.B, 255
		}
	}
}
