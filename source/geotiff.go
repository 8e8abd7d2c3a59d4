package source

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"geoview/geo"
)

// GeoTIFF tags
const (
	tagModelPixelScale    = 33550
	tagModelTiepoint      = 33922
	tagModelTransform     = 34264
	tagGeoKeyDirectory    = 34735
	tagGDALNoData         = 42113
	keyGeographicType     = 2048
	keyProjectedCSType    = 3072
	keyRasterType         = 1025
	rasterPixelIsPoint    = 2
	tiffTypeShort         = 3
	tiffTypeLong          = 4
	tiffTypeDouble        = 12
	tiffTypeASCII         = 2
	maxGeoTIFFTagEntries  = 4096
	maxGeoTIFFTagElements = 1 << 20
)

var errNotGeoTIFF = errors.New("no geotiff tags")

//geoTags georeference read from the first IFD of a TIFF
type geoTags struct {
	gt     geo.GeoTransform
	crs    geo.CRS
	nodata float64
	hasND  bool
}

//readGeoTags x/image/tiff drops private tags, so the IFD is walked here
func readGeoTags(r io.ReadSeeker) (*geoTags, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	var bo binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, errNotGeoTIFF
	}
	if bo.Uint16(hdr[2:4]) != 42 {
		return nil, errNotGeoTIFF
	}
	if _, err := r.Seek(int64(bo.Uint32(hdr[4:8])), io.SeekStart); err != nil {
		return nil, err
	}
	var n uint16
	if err := binary.Read(r, bo, &n); err != nil {
		return nil, err
	}
	if int(n) > maxGeoTIFFTagEntries {
		return nil, errNotGeoTIFF
	}
	type entry struct {
		Tag, Type uint16
		Count     uint32
		Value     [4]byte
	}
	entries := make([]entry, n)
	if err := binary.Read(r, bo, entries); err != nil {
		return nil, err
	}
	readDoubles := func(e entry) ([]float64, error) {
		if e.Type != tiffTypeDouble || e.Count > maxGeoTIFFTagElements {
			return nil, errNotGeoTIFF
		}
		if _, err := r.Seek(int64(bo.Uint32(e.Value[:])), io.SeekStart); err != nil {
			return nil, err
		}
		out := make([]float64, e.Count)
		return out, binary.Read(r, bo, out)
	}
	var (
		scale, tie, matrix []float64
		keys               []uint16
		tags               = &geoTags{}
	)
	for _, e := range entries {
		var err error
		switch e.Tag {
		case tagModelPixelScale:
			scale, err = readDoubles(e)
		case tagModelTiepoint:
			tie, err = readDoubles(e)
		case tagModelTransform:
			matrix, err = readDoubles(e)
		case tagGeoKeyDirectory:
			if e.Type != tiffTypeShort || e.Count > maxGeoTIFFTagElements {
				continue
			}
			keys = make([]uint16, e.Count)
			if e.Count <= 2 {
				for i := range keys {
					keys[i] = bo.Uint16(e.Value[2*i:])
				}
				continue
			}
			if _, err = r.Seek(int64(bo.Uint32(e.Value[:])), io.SeekStart); err == nil {
				err = binary.Read(r, bo, keys)
			}
		case tagGDALNoData:
			if e.Type != tiffTypeASCII || e.Count > 64 {
				continue
			}
			buf := make([]byte, e.Count)
			if e.Count <= 4 {
				copy(buf, e.Value[:])
			} else if _, err = r.Seek(int64(bo.Uint32(e.Value[:])), io.SeekStart); err == nil {
				_, err = io.ReadFull(r, buf)
			}
			if v, perr := strconv.ParseFloat(strings.Trim(string(buf), "\x00 "), 64); perr == nil {
				tags.nodata, tags.hasND = v, true
			}
		}
		if err != nil {
			return nil, err
		}
	}

	pointIsPixel := false
	for i := 4; i+3 < len(keys); i += 4 {
		id, loc, val := keys[i], keys[i+1], keys[i+3]
		if loc != 0 {
			continue
		}
		switch id {
		case keyProjectedCSType:
			tags.crs = geo.Canonical(int(val))
		case keyGeographicType:
			if tags.crs == geo.Unknown {
				tags.crs = geo.Canonical(int(val))
			}
		case keyRasterType:
			pointIsPixel = val == rasterPixelIsPoint
		}
	}

	switch {
	case len(matrix) >= 8:
		tags.gt = geo.GeoTransform{matrix[3], matrix[0], matrix[1], matrix[7], matrix[4], matrix[5]}
	case len(scale) >= 2 && len(tie) >= 6:
		tags.gt = geo.GeoTransform{tie[3] - tie[0]*scale[0], scale[0], 0, tie[4] + tie[1]*scale[1], 0, -scale[1]}
	default:
		return nil, errNotGeoTIFF
	}
	if pointIsPixel {
		tags.gt[0] -= tags.gt[1] / 2
		tags.gt[3] -= tags.gt[5] / 2
	}
	if math.IsNaN(tags.gt.Det()) {
		return nil, errNotGeoTIFF
	}
	return tags, nil
}
