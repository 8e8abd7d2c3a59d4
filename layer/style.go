package layer

import "image/color"

// Default vector style.
const (
	DefaultPen   uint32 = 0xCC008800
	DefaultFill  uint32 = 0x55770000
	DefaultWidth        = 4.0
)

//Style vector layer drawing style, colours are ARGB
type Style struct {
	Pen     uint32
	Fill    uint32
	Width   float64
	Visible bool
}

func DefaultStyle() Style {
	return Style{Pen: DefaultPen, Fill: DefaultFill, Width: DefaultWidth, Visible: true}
}

//ARGB converts a packed 0xAARRGGBB colour
func ARGB(c uint32) color.NRGBA {
	return color.NRGBA{R: uint8(c >> 16), G: uint8(c >> 8), B: uint8(c), A: uint8(c >> 24)}
}

//PackARGB inverse of ARGB
func PackARGB(c color.Color) uint32 {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return uint32(n.A)<<24 | uint32(n.R)<<16 | uint32(n.G)<<8 | uint32(n.B)
}
