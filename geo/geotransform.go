package geo

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MinDeterminant below this a geotransform is considered degenerate.
const MinDeterminant = 1e-6

// ErrDegenerate the affine transform cannot be inverted.
var ErrDegenerate = errors.New("degenerate geotransform")

//GeoTransform affine pixel to ground transform, GDAL ordering:
//x = gt[0] + px*gt[1] + py*gt[2]
//y = gt[3] + px*gt[4] + py*gt[5]
type GeoTransform [6]float64

//DefaultGeoTransform pixel space of an image without georeference
var DefaultGeoTransform = GeoTransform{0, 1, 0, 0, 0, 1}

func (gt GeoTransform) Apply(px, py float64) (float64, float64) {
	return gt[0] + px*gt[1] + py*gt[2], gt[3] + px*gt[4] + py*gt[5]
}

func (gt GeoTransform) Det() float64 {
	return gt[1]*gt[5] - gt[2]*gt[4]
}

func (gt GeoTransform) Degenerate() bool {
	return math.Abs(gt.Det()) < MinDeterminant
}

//GSD ground size of one pixel along x
func (gt GeoTransform) GSD() float64 {
	return gt[1]
}

//Invert returns the ground to pixel transform
func (gt GeoTransform) Invert() (GeoTransform, error) {
	if gt.Degenerate() {
		return GeoTransform{}, ErrDegenerate
	}
	m := mat.NewDense(3, 3, []float64{
		gt[1], gt[2], gt[0],
		gt[4], gt[5], gt[3],
		0, 0, 1,
	})
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return GeoTransform{}, fmt.Errorf("invert geotransform: %w", err)
		}
	}
	return GeoTransform{
		inv.At(0, 2), inv.At(0, 0), inv.At(0, 1),
		inv.At(1, 2), inv.At(1, 0), inv.At(1, 1),
	}, nil
}

//Envelope ground extent of a w x h raster
func (gt GeoTransform) Envelope(w, h int) Envelope {
	e := Envelope{}
	for _, c := range [4][2]float64{{0, 0}, {float64(w), 0}, {float64(w), float64(h)}, {0, float64(h)}} {
		x, y := gt.Apply(c[0], c[1])
		e = e.MergePoint(x, y)
	}
	return e
}

//NorthUp normalizes a transform the way the window mapper reads it.
//Images without georeference carry a positive row step and an origin
//near zero, they are flipped so the image spans [0,h] upward.
func (gt GeoTransform) NorthUp(h int) GeoTransform {
	out := gt
	if out[3] < 1 && out[5] > 0 {
		out[3] = float64(h)
	}
	if out[5] >= 0 {
		out[5] = -out[1]
	}
	return out
}
