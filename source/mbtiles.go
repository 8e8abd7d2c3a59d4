package source

import (
	"database/sql"
	"fmt"
	"image"
	"path/filepath"
	"strconv"
	"strings"

	"geoview/geo"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
)

//MBTiles raster tile archive
type MBTiles struct {
	db       *sql.DB
	name     string
	format   string
	min, max maptile.Zoom
	bounds   geo.Envelope
	meta     map[string]string
}

//OpenMBTiles reads the metadata table; bounds and zooms fall back to the tiles table
func OpenMBTiles(path string) (*MBTiles, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	m := &MBTiles{db: db, meta: map[string]string{}}
	if err := m.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if m.name == "" {
		m.name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return m, nil
}

func (m *MBTiles) load() error {
	rows, err := m.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return fmt.Errorf("metadata: %w", ErrUnsupportedFormat)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return err
		}
		m.meta[k] = v
	}
	rows.Close()
	m.name = m.meta["name"]
	m.format = m.meta["format"]
	if m.format == "pbf" {
		return fmt.Errorf("vector tiles: %w", ErrUnsupportedFormat)
	}

	var zmin, zmax sql.NullInt64
	if err := m.db.QueryRow("SELECT MIN(zoom_level), MAX(zoom_level) FROM tiles").Scan(&zmin, &zmax); err != nil {
		return fmt.Errorf("tiles: %w", err)
	}
	m.min, m.max = maptile.Zoom(zmin.Int64), maptile.Zoom(zmax.Int64)
	if v, err := strconv.Atoi(m.meta["minzoom"]); err == nil {
		m.min = maptile.Zoom(v)
	}
	if v, err := strconv.Atoi(m.meta["maxzoom"]); err == nil {
		m.max = maptile.Zoom(v)
	}

	ll := orb.Bound{Min: orb.Point{-180, -geo.MaxLatitude}, Max: orb.Point{180, geo.MaxLatitude}}
	if parts := strings.Split(m.meta["bounds"], ","); len(parts) == 4 {
		var v [4]float64
		ok := true
		for i, p := range parts {
			if v[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64); err != nil {
				ok = false
			}
		}
		if ok {
			ll = orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}
		}
	}
	ll.Min[1] = clampFloat(ll.Min[1], -geo.MaxLatitude, geo.MaxLatitude)
	ll.Max[1] = clampFloat(ll.Max[1], -geo.MaxLatitude, geo.MaxLatitude)
	min, max := project.WGS84.ToMercator(ll.Min), project.WGS84.ToMercator(ll.Max)
	m.bounds = geo.NewEnvelope(min[0], min[1], max[0], max[1])
	return nil
}

func (m *MBTiles) Name() string                            { return m.name }
func (m *MBTiles) Format() string                          { return m.format }
func (m *MBTiles) Metadata() map[string]string             { return m.meta }
func (m *MBTiles) Bounds() geo.Envelope                    { return m.bounds }
func (m *MBTiles) ZoomRange() (maptile.Zoom, maptile.Zoom) { return m.min, m.max }
func (m *MBTiles) Close() error                            { return m.db.Close() }

//FetchTile rows are stored bottom up (TMS)
func (m *MBTiles) FetchTile(t maptile.Tile) (image.Image, error) {
	var data []byte
	err := m.db.QueryRow("SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?", t.Z, t.X, FlipY(t)).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s tile %v: %w", m.name, t, ErrEmptyTile)
	}
	if err != nil {
		return nil, fmt.Errorf("%s tile %v: %w", m.name, t, err)
	}
	return decodeTile(data)
}
