package source

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"geoview/geo"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
	log "github.com/sirupsen/logrus"
)

//TileSize edge of a map tile in pixels
const TileSize = 256

//InitialResolution web mercator ground size of a pixel at zoom 0
const InitialResolution = 2 * math.Pi * 6378137 / TileSize

//DefaultMaxTiles cap of tiles handed out for one view
const DefaultMaxTiles = 1024

//TileFetcher returns decoded web mercator map tiles
type TileFetcher interface {
	Name() string
	FetchTile(t maptile.Tile) (image.Image, error)
	ZoomRange() (min, max maptile.Zoom)
	//Bounds coverage in web mercator
	Bounds() geo.Envelope
	Close() error
}

//FlipY row number of a tile in the TMS scheme used by mbtiles
func FlipY(t maptile.Tile) uint32 {
	return (uint32(1) << uint32(t.Z)) - 1 - t.Y
}

//TileBounds web mercator extent of a tile
func TileBounds(t maptile.Tile) geo.Envelope {
	b := t.Bound()
	min := project.WGS84.ToMercator(b.Min)
	max := project.WGS84.ToMercator(b.Max)
	return geo.NewEnvelope(min[0], min[1], max[0], max[1])
}

//Resolution web mercator pixel size at zoom z
func Resolution(z maptile.Zoom) float64 {
	return InitialResolution / math.Exp2(float64(z))
}

//TileRaster one map tile seen as a three band raster dataset
type TileRaster struct {
	fetcher TileFetcher
	tile    maptile.Tile
	gt      geo.GeoTransform
}

func NewTileRaster(f TileFetcher, t maptile.Tile) *TileRaster {
	env := TileBounds(t)
	return &TileRaster{
		fetcher: f,
		tile:    t,
		gt:      geo.GeoTransform{env.MinX, env.Width() / TileSize, 0, env.MaxY, 0, -env.Height() / TileSize},
	}
}

func (r *TileRaster) Name() string {
	return fmt.Sprintf("%s/%d/%d/%d", r.fetcher.Name(), r.tile.Z, r.tile.X, r.tile.Y)
}

func (r *TileRaster) Tile() maptile.Tile             { return r.tile }
func (r *TileRaster) Size() (int, int)               { return TileSize, TileSize }
func (r *TileRaster) GeoTransform() geo.GeoTransform { return r.gt }
func (r *TileRaster) SpatialRef() geo.CRS            { return geo.WebMercator }
func (r *TileRaster) BandCount() int                 { return 3 }
func (r *TileRaster) BandType(int) BandType          { return Byte }
func (r *TileRaster) ColorTable() color.Palette      { return nil }
func (r *TileRaster) NoData(int) (float64, bool)     { return 0, false }
func (r *TileRaster) Close() error                   { return nil }

//ReadImage returns the src part of the tile, resized to TileSize when the
//server answers with another size
func (r *TileRaster) ReadImage(src image.Rectangle) (image.Image, error) {
	img, err := r.fetcher.FetchTile(r.tile)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() != TileSize || b.Dy() != TileSize {
		src = image.Rect(src.Min.X*b.Dx()/TileSize, src.Min.Y*b.Dy()/TileSize, src.Max.X*b.Dx()/TileSize, src.Max.Y*b.Dy()/TileSize)
	}
	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(src.Add(b.Min)), nil
	}
	return img, nil
}

func (r *TileRaster) ReadWindow(band int, src image.Rectangle, dw, dh int, alg Resampling, dst []float32) error {
	if band < 1 || band > 3 {
		return fmt.Errorf("%s band %d: %w", r.Name(), band, ErrBand)
	}
	if err := checkWindow(TileSize, TileSize, src, dw, dh, dst); err != nil {
		return err
	}
	img, err := r.fetcher.FetchTile(r.tile)
	if err != nil {
		return err
	}
	b := img.Bounds()
	at := func(x, y int) float32 {
		c := color.NRGBAModel.Convert(img.At(b.Min.X+x*b.Dx()/TileSize, b.Min.Y+y*b.Dy()/TileSize)).(color.NRGBA)
		return float32([3]uint8{c.R, c.G, c.B}[band-1])
	}
	resample(at, src, dw, dh, alg, 0, false, dst)
	return nil
}

//Pyramid hands out the tiles of a fetcher that cover a view
type Pyramid struct {
	fetcher  TileFetcher
	MaxTiles int
}

func NewPyramid(f TileFetcher) *Pyramid {
	return &Pyramid{fetcher: f, MaxTiles: DefaultMaxTiles}
}

func (p *Pyramid) Name() string           { return p.fetcher.Name() }
func (p *Pyramid) Envelope() geo.Envelope { return p.fetcher.Bounds() }
func (p *Pyramid) SpatialRef() geo.CRS    { return geo.WebMercator }
func (p *Pyramid) Close() error           { return p.fetcher.Close() }

//ZoomFor level whose resolution is closest to scale
func (p *Pyramid) ZoomFor(scale float64) maptile.Zoom {
	min, max := p.fetcher.ZoomRange()
	if scale <= 0 {
		return max
	}
	z := math.Round(math.Log2(InitialResolution / scale))
	z = math.Max(float64(min), math.Min(float64(max), z))
	return maptile.Zoom(z)
}

//Tiles covering env (web mercator) at the zoom matching scale
func (p *Pyramid) Tiles(env geo.Envelope, scale float64) []Raster {
	env = env.Intersection(p.fetcher.Bounds())
	if !env.IsInit() || env.Width() <= 0 || env.Height() <= 0 {
		return nil
	}
	z := p.ZoomFor(scale)
	nw := project.Mercator.ToWGS84(orb.Point{env.MinX, env.MaxY})
	se := project.Mercator.ToWGS84(orb.Point{env.MaxX, env.MinY})
	nw[0], se[0] = clampFloat(nw[0], -180, 180), clampFloat(se[0], -180, 180)
	nw[1], se[1] = clampFloat(nw[1], -geo.MaxLatitude, geo.MaxLatitude), clampFloat(se[1], -geo.MaxLatitude, geo.MaxLatitude)
	t0, t1 := maptile.At(nw, z), maptile.At(se, z)
	last := uint32(1)<<uint32(z) - 1
	if t1.X > last {
		t1.X = last
	}
	if t1.Y > last {
		t1.Y = last
	}
	count := int(t1.X-t0.X+1) * int(t1.Y-t0.Y+1)
	if p.MaxTiles > 0 && count > p.MaxTiles {
		log.Warnf("%s: %d tiles at zoom %d for %s, over the %d cap", p.Name(), count, z, env, p.MaxTiles)
		return nil
	}
	out := make([]Raster, 0, count)
	for y := t0.Y; y <= t1.Y; y++ {
		for x := t0.X; x <= t1.X; x++ {
			out = append(out, NewTileRaster(p.fetcher, maptile.New(x, y, z)))
		}
	}
	return out
}
