package source

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"geoview/geo"
)

//OpenASCIIGrid reads an ESRI ASCII grid (.asc) as a single Float32 band
func OpenASCIIGrid(path string, crs geo.CRS) (*MemRaster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1<<16), 1<<26)
	sc.Split(bufio.ScanWords)

	hdr := map[string]float64{"nodata_value": -9999}
	var first string
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			first = key
			break
		}
		if !sc.Scan() {
			break
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("%s header %s: %w", path, key, err)
		}
		hdr[key] = v
	}
	cols, rows, cell := int(hdr["ncols"]), int(hdr["nrows"]), hdr["cellsize"]
	if cols <= 0 || rows <= 0 || cell <= 0 {
		return nil, fmt.Errorf("%s: bad header: %w", path, ErrUnsupportedFormat)
	}
	x0, okX := hdr["xllcorner"]
	y0, okY := hdr["yllcorner"]
	if !okX {
		x0 = hdr["xllcenter"] - cell/2
	}
	if !okY {
		y0 = hdr["yllcenter"] - cell/2
	}

	data := make([]float32, 0, cols*rows)
	token := first
	for token != "" && len(data) < cols*rows {
		v, err := strconv.ParseFloat(token, 32)
		if err != nil {
			return nil, fmt.Errorf("%s value %d: %w", path, len(data), err)
		}
		data = append(data, float32(v))
		token = ""
		if sc.Scan() {
			token = sc.Text()
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) != cols*rows {
		return nil, fmt.Errorf("%s: %d values, want %d: %w", path, len(data), cols*rows, ErrUnsupportedFormat)
	}

	gt := geo.GeoTransform{x0, cell, 0, y0 + float64(rows)*cell, 0, -cell}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	r, err := NewMemRaster(name, cols, rows, gt, crs, Float32, data)
	if err != nil {
		return nil, err
	}
	return r.SetNoData(hdr["nodata_value"]), nil
}
