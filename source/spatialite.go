package source

import (
	"database/sql"
	"fmt"
	"strings"

	"geoview/geo"

	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	_ "github.com/shaxbee/go-spatialite" // registers the "spatialite" driver
	log "github.com/sirupsen/logrus"
)

//SpatiaLite geometry table, queried through the database's own R*Tree
type SpatiaLite struct {
	db      *sql.DB
	ownDB   bool
	table   string
	column  string
	srid    int
	indexed bool
	count   int64
}

//OpenSpatiaLite opens one geometry table, the first one when table is empty
func OpenSpatiaLite(path, table string) (*SpatiaLite, error) {
	db, err := sql.Open("spatialite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s, err := NewSpatiaLite(db, table)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s.ownDB = true
	return s, nil
}

//SpatiaLiteTables lists the geometry tables of a database
func SpatiaLiteTables(path string) ([]string, error) {
	db, err := sql.Open("spatialite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	defer db.Close()
	rows, err := db.Query("SELECT f_table_name FROM geometry_columns ORDER BY f_table_name")
	if err != nil {
		return nil, fmt.Errorf("%s geometry_columns: %w", path, ErrNotGeometric)
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

//NewSpatiaLite uses an already open connection, the caller keeps ownership of db
func NewSpatiaLite(db *sql.DB, table string) (*SpatiaLite, error) {
	s := &SpatiaLite{db: db}
	q := "SELECT f_table_name, f_geometry_column, srid, spatial_index_enabled FROM geometry_columns"
	args := []interface{}{}
	if table != "" {
		q += " WHERE lower(f_table_name) = lower(?)"
		args = append(args, table)
	}
	var indexed int
	err := db.QueryRow(q+" LIMIT 1", args...).Scan(&s.table, &s.column, &s.srid, &indexed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("table %q: %w", table, ErrNotGeometric)
	}
	if err != nil {
		return nil, fmt.Errorf("geometry_columns: %w", err)
	}
	s.indexed = indexed == 1
	if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %q", s.table)).Scan(&s.count); err != nil {
		return nil, fmt.Errorf("count %s: %w", s.table, err)
	}
	log.WithFields(log.Fields{"table": s.table, "srid": s.srid, "rtree": s.indexed}).Debugf("spatialite layer opened, %d features", s.count)
	return s, nil
}

func (s *SpatiaLite) Name() string        { return s.table }
func (s *SpatiaLite) SpatialRef() geo.CRS { return geo.Canonical(s.srid) }
func (s *SpatiaLite) Count() int64        { return s.count }

func (s *SpatiaLite) Close() error {
	if s.ownDB {
		return s.db.Close()
	}
	return nil
}

func (s *SpatiaLite) Envelope() (geo.Envelope, error) {
	q := fmt.Sprintf(`SELECT MIN(MbrMinX(%[1]q)), MIN(MbrMinY(%[1]q)), MAX(MbrMaxX(%[1]q)), MAX(MbrMaxY(%[1]q)) FROM %[2]q`, s.column, s.table)
	var x0, y0, x1, y1 sql.NullFloat64
	if err := s.db.QueryRow(q).Scan(&x0, &y0, &x1, &y1); err != nil {
		return geo.Envelope{}, fmt.Errorf("%s extent: %w", s.table, err)
	}
	if !x0.Valid {
		return geo.Envelope{}, nil
	}
	return geo.NewEnvelope(x0.Float64, y0.Float64, x1.Float64, y1.Float64), nil
}

func (s *SpatiaLite) selectSQL() string {
	return fmt.Sprintf(`SELECT ROWID AS __fid, ST_AsBinary(%q) AS __wkb, * FROM %q`, s.column, s.table)
}

func (s *SpatiaLite) Feature(id int64) (*Feature, error) {
	rows, err := s.db.Query(s.selectSQL()+" WHERE ROWID = ?", id)
	if err != nil {
		return nil, fmt.Errorf("%s feature %d: %w", s.table, id, err)
	}
	c := &sqlCursor{rows: rows, column: s.column}
	defer c.Close()
	f, ok := c.Next()
	if !ok {
		if c.err != nil {
			return nil, c.err
		}
		return nil, fmt.Errorf("%s feature %d: %w", s.table, id, ErrNoFeature)
	}
	return f, nil
}

func (s *SpatiaLite) Scan(fn func(*Feature) bool) error {
	rows, err := s.db.Query(s.selectSQL() + " ORDER BY ROWID")
	if err != nil {
		return fmt.Errorf("%s scan: %w", s.table, err)
	}
	c := &sqlCursor{rows: rows, column: s.column}
	defer c.Close()
	for {
		f, ok := c.Next()
		if !ok || !fn(f) {
			break
		}
	}
	return c.Err()
}

//Query box filter, uses the SpatialIndex virtual table when the column has one
func (s *SpatiaLite) Query(env geo.Envelope) (Cursor, error) {
	var (
		q    string
		args = []interface{}{env.MinX, env.MinY, env.MaxX, env.MaxY}
	)
	if s.indexed {
		q = s.selectSQL() + ` WHERE ROWID IN (SELECT ROWID FROM SpatialIndex WHERE f_table_name = ? AND f_geometry_column = ? AND search_frame = BuildMbr(?, ?, ?, ?))`
		args = append([]interface{}{s.table, s.column}, args...)
	} else {
		q = s.selectSQL() + fmt.Sprintf(` WHERE MbrIntersects(%q, BuildMbr(?, ?, ?, ?))`, s.column)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query %s: %w", s.table, env, err)
	}
	return &sqlCursor{rows: rows, column: s.column}, nil
}

type sqlCursor struct {
	rows   *sql.Rows
	column string
	cols   []string
	err    error
}

func (c *sqlCursor) Next() (*Feature, bool) {
	if c.err != nil || !c.rows.Next() {
		return nil, false
	}
	if c.cols == nil {
		if c.cols, c.err = c.rows.Columns(); c.err != nil {
			return nil, false
		}
	}
	vals := make([]interface{}, len(c.cols))
	ptrs := make([]interface{}, len(c.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if c.err = c.rows.Scan(ptrs...); c.err != nil {
		return nil, false
	}
	f := &Feature{Properties: geojson.Properties{}}
	for i, name := range c.cols {
		switch {
		case name == "__fid":
			f.ID, _ = vals[i].(int64)
		case name == "__wkb":
			blob, _ := vals[i].([]byte)
			if len(blob) == 0 {
				continue
			}
			g, err := wkb.Unmarshal(blob)
			if err != nil {
				log.Warnf("feature %d: bad geometry ~ %s", f.ID, err)
				continue
			}
			f.Geometry = g
		case strings.EqualFold(name, c.column):
		default:
			if b, ok := vals[i].([]byte); ok {
				f.Properties[name] = string(b)
			} else {
				f.Properties[name] = vals[i]
			}
		}
	}
	return f, true
}

func (c *sqlCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *sqlCursor) Close() error {
	return c.rows.Close()
}
