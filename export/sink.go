package export

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"geoview/source"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
	log "github.com/sirupsen/logrus"
)

//MBTileVersion mbtiles format version written to metadata
const MBTileVersion = "1.2"

func saveToMBTile(tile Tile, db *sql.DB) error {
	_, err := db.Exec("insert or replace into tiles (zoom_level, tile_column, tile_row, tile_data) values (?, ?, ?, ?);", tile.T.Z, tile.T.X, source.FlipY(tile.T), tile.C)
	return err
}

func saveToFiles(tile Tile, rootdir string) error {
	dir := filepath.Join(rootdir, fmt.Sprintf(`%d`, tile.T.Z), fmt.Sprintf(`%d`, tile.T.X))
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	fileName := filepath.Join(dir, fmt.Sprintf(`%d.png`, tile.T.Y))
	if err := os.WriteFile(fileName, tile.C, 0644); err != nil {
		return err
	}
	log.Debug(fileName)
	return nil
}

func optimizeConnection(db *sql.DB) error {
	for _, pragma := range []string{"PRAGMA synchronous=0", "PRAGMA locking_mode=EXCLUSIVE", "PRAGMA journal_mode=DELETE"} {
		if _, err := db.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}

func optimizeDatabase(db *sql.DB) error {
	_, err := db.Exec("ANALYZE;")
	if err != nil {
		return err
	}
	_, err = db.Exec("VACUUM;")
	return err
}

//setupMBTiles creates a fresh archive at path holding meta
func setupMBTiles(path string, meta map[string]string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, err
	}
	os.Remove(path)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	stmts := []string{
		"create table if not exists tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data blob);",
		"create table if not exists metadata (name text, value text);",
		"create unique index name on metadata (name);",
		"create unique index tile_index on tiles(zoom_level, tile_column, tile_row);",
	}
	err = optimizeConnection(db)
	for i := 0; err == nil && i < len(stmts); i++ {
		_, err = db.Exec(stmts[i])
	}
	for name, value := range meta {
		if err != nil {
			break
		}
		_, err = db.Exec("insert into metadata (name, value) values (?, ?)", name, value)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("setup %s: %w", path, err)
	}
	return db, nil
}
