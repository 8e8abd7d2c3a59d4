package source

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // decoders
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"geoview/geo"

	_ "golang.org/x/image/tiff"
	log "github.com/sirupsen/logrus"
)

//ImageRaster decoded TIFF, PNG or JPEG picture with its georeference
type ImageRaster struct {
	name   string
	img    image.Image
	gt     geo.GeoTransform
	crs    geo.CRS
	nodata float64
	hasND  bool
}

var worldFileExt = map[string][]string{
	".tif":  {".tfw", ".tifw"},
	".tiff": {".tfw", ".tiffw"},
	".png":  {".pgw", ".pngw"},
	".jpg":  {".jgw", ".jpgw"},
	".jpeg": {".jgw", ".jpegw"},
}

//OpenImage decodes path; the georeference comes from GeoTIFF tags, then a
//world file, else the image is left in pixel space. crs is used when the
//file does not carry its own.
func OpenImage(path string, crs geo.CRS) (*ImageRaster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, ErrUnsupportedFormat)
	}
	r := &ImageRaster{
		name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		img:  img,
		gt:   geo.DefaultGeoTransform,
		crs:  crs,
	}
	georef := false
	if format == "tiff" {
		if _, err := f.Seek(0, 0); err == nil {
			if tags, err := readGeoTags(f); err == nil {
				r.gt = tags.gt
				r.nodata, r.hasND = tags.nodata, tags.hasND
				if tags.crs != geo.Unknown {
					r.crs = tags.crs
				}
				georef = true
			}
		}
	}
	if !georef {
		if gt, ok := readWorldFile(path); ok {
			r.gt = gt
			georef = true
		}
	}
	if !georef {
		log.Infof("%s has no georeference, using pixel space", path)
	}
	return r, nil
}

//NewImageRaster wraps an already decoded image
func NewImageRaster(name string, img image.Image, gt geo.GeoTransform, crs geo.CRS) *ImageRaster {
	return &ImageRaster{name: name, img: img, gt: gt, crs: crs}
}

func readWorldFile(path string) (geo.GeoTransform, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, wext := range append(worldFileExt[ext], ".wld") {
		gt, err := parseWorldFile(base + wext)
		if err == nil {
			return gt, true
		}
	}
	return geo.GeoTransform{}, false
}

//parseWorldFile six lines: A D B E C F, C and F locate the centre of the top left pixel
func parseWorldFile(path string) (geo.GeoTransform, error) {
	f, err := os.Open(path)
	if err != nil {
		return geo.GeoTransform{}, err
	}
	defer f.Close()
	var v []float64
	sc := bufio.NewScanner(f)
	for sc.Scan() && len(v) < 6 {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		x, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return geo.GeoTransform{}, fmt.Errorf("world file %s: %w", path, err)
		}
		v = append(v, x)
	}
	if len(v) < 6 {
		return geo.GeoTransform{}, fmt.Errorf("world file %s: %d values: %w", path, len(v), ErrUnsupportedFormat)
	}
	a, d, b, e, c, fy := v[0], v[1], v[2], v[3], v[4], v[5]
	return geo.GeoTransform{c - a/2 - b/2, a, b, fy - d/2 - e/2, d, e}, nil
}

func (r *ImageRaster) Name() string                   { return r.name }
func (r *ImageRaster) GeoTransform() geo.GeoTransform { return r.gt }
func (r *ImageRaster) SpatialRef() geo.CRS            { return r.crs }
func (r *ImageRaster) Close() error                   { return nil }

func (r *ImageRaster) Size() (int, int) {
	b := r.img.Bounds()
	return b.Dx(), b.Dy()
}

func (r *ImageRaster) BandCount() int {
	switch r.img.(type) {
	case *image.Paletted, *image.Gray, *image.Gray16:
		return 1
	}
	return 3
}

func (r *ImageRaster) BandType(int) BandType {
	if _, ok := r.img.(*image.Gray16); ok {
		return UInt16
	}
	return Byte
}

func (r *ImageRaster) ColorTable() color.Palette {
	if p, ok := r.img.(*image.Paletted); ok {
		return p.Palette
	}
	return nil
}

func (r *ImageRaster) NoData(int) (float64, bool) {
	return r.nodata, r.hasND
}

func (r *ImageRaster) ReadWindow(band int, src image.Rectangle, dw, dh int, alg Resampling, dst []float32) error {
	if band < 1 || band > r.BandCount() {
		return fmt.Errorf("%s band %d: %w", r.name, band, ErrBand)
	}
	w, h := r.Size()
	if err := checkWindow(w, h, src, dw, dh, dst); err != nil {
		return fmt.Errorf("%s: %w", r.name, err)
	}
	resample(r.sampler(band), src, dw, dh, alg, r.nodata, r.hasND, dst)
	return nil
}

func (r *ImageRaster) sampler(band int) sampler {
	min := r.img.Bounds().Min
	switch img := r.img.(type) {
	case *image.Paletted:
		return func(x, y int) float32 { return float32(img.ColorIndexAt(min.X+x, min.Y+y)) }
	case *image.Gray:
		return func(x, y int) float32 { return float32(img.GrayAt(min.X+x, min.Y+y).Y) }
	case *image.Gray16:
		return func(x, y int) float32 { return float32(img.Gray16At(min.X+x, min.Y+y).Y) }
	}
	return func(x, y int) float32 {
		c := color.NRGBAModel.Convert(r.img.At(min.X+x, min.Y+y)).(color.NRGBA)
		switch band {
		case 1:
			return float32(c.R)
		case 2:
			return float32(c.G)
		}
		return float32(c.B)
	}
}
