package export

import (
	"math"

	"geoview/geo"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Zoom limits.
const (
	ZoomMin = 0
	ZoomMax = 21
)

// Sinks.
const (
	MBTiles = "mbtiles"
	Files   = "files"
)

//Tile encoded tile on its way to a sink
type Tile struct {
	T maptile.Tile
	C []byte
}

//Range tiles of zoom z meeting the lon/lat bound b, inclusive
func Range(b orb.Bound, z maptile.Zoom) (lo, hi maptile.Tile) {
	b = clampBound(b)
	lo = maptile.At(orb.Point{b.Min[0], b.Max[1]}, z)
	hi = maptile.At(orb.Point{b.Max[0], b.Min[1]}, z)
	last := uint32(1)<<uint32(z) - 1
	if hi.X > last {
		hi.X = last
	}
	if hi.Y > last {
		hi.Y = last
	}
	return lo, hi
}

//Count number of tiles of zoom z meeting b
func Count(b orb.Bound, z maptile.Zoom) int64 {
	lo, hi := Range(b, z)
	return int64(hi.X-lo.X+1) * int64(hi.Y-lo.Y+1)
}

func clampBound(b orb.Bound) orb.Bound {
	clamp := func(v, lim float64) float64 { return math.Max(-lim, math.Min(lim, v)) }
	return orb.Bound{
		Min: orb.Point{clamp(b.Min[0], 180), clamp(b.Min[1], geo.MaxLatitude)},
		Max: orb.Point{clamp(b.Max[0], 180), clamp(b.Max[1], geo.MaxLatitude)},
	}
}
