package source

import (
	"database/sql"
	"testing"

	"geoview/geo"

	"github.com/paulmach/orb"
	"github.com/shaxbee/go-spatialite/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeDB(t *testing.T) *sql.DB {
	db, err := sql.Open("spatialite", "file:"+t.Name()+".db?mode=memory&cache=shared")
	require.NoError(t, err)
	if _, err = db.Exec("SELECT InitSpatialMetadata(1)"); err != nil {
		db.Close()
		t.Skipf("spatialite extension unavailable: %s", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func makePOI(t *testing.T, indexed bool) *sql.DB {
	db := makeDB(t)
	_, err := db.Exec("CREATE TABLE poi(title TEXT)")
	require.NoError(t, err)
	_, err = db.Exec("SELECT AddGeometryColumn('poi', 'loc', 4326, 'POINT', 'XY')")
	require.NoError(t, err)
	if indexed {
		_, err = db.Exec("SELECT CreateSpatialIndex('poi', 'loc')")
		require.NoError(t, err)
	}
	for _, p := range []struct {
		title string
		pt    wkb.Point
	}{
		{"foo", wkb.Point{X: 10, Y: 10}},
		{"bar", wkb.Point{X: 50, Y: 50}},
		{"baz", wkb.Point{X: 12, Y: 8}},
	} {
		_, err = db.Exec("INSERT INTO poi(title, loc) VALUES (?, ST_PointFromWKB(?, 4326))", p.title, p.pt)
		require.NoError(t, err)
	}
	return db
}

func queryTitles(t *testing.T, s *SpatiaLite, env geo.Envelope) []string {
	c, err := s.Query(env)
	require.NoError(t, err)
	defer c.Close()
	var titles []string
	for f, ok := c.Next(); ok; f, ok = c.Next() {
		titles = append(titles, f.Properties["title"].(string))
	}
	require.NoError(t, c.Err())
	return titles
}

func TestSpatiaLiteQuery(t *testing.T) {
	for name, indexed := range map[string]bool{"mbr": false, "rtree": true} {
		t.Run(name, func(t *testing.T) {
			db := makePOI(t, indexed)
			s, err := NewSpatiaLite(db, "POI")
			require.NoError(t, err)
			assert.Equal(t, "poi", s.Name())
			assert.Equal(t, geo.WGS84, s.SpatialRef())
			assert.EqualValues(t, 3, s.Count())

			env, err := s.Envelope()
			require.NoError(t, err)
			assert.Equal(t, geo.NewEnvelope(10, 8, 50, 50), env)

			assert.ElementsMatch(t, []string{"foo", "baz"}, queryTitles(t, s, geo.NewEnvelope(0, 0, 20, 20)))
			assert.Empty(t, queryTitles(t, s, geo.NewEnvelope(100, 100, 120, 120)))

			f, err := s.Feature(2)
			require.NoError(t, err)
			assert.Equal(t, orb.Point{50, 50}, f.Geometry)
			assert.Equal(t, "bar", f.Properties["title"])
			assert.NotContains(t, f.Properties, "loc")

			_, err = s.Feature(99)
			assert.ErrorIs(t, err, ErrNoFeature)
		})
	}
}

func TestSpatiaLiteRejectsPlainTable(t *testing.T) {
	db := makeDB(t)
	_, err := db.Exec("CREATE TABLE notes(body TEXT)")
	require.NoError(t, err)
	_, err = NewSpatiaLite(db, "notes")
	assert.ErrorIs(t, err, ErrNotGeometric)
}
