package source

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"geoview/geo"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb/maptile"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrEmptyTile the server answered without content.
var ErrEmptyTile = errors.New("empty tile")

//TileServer XYZ tile server such as http://tile.openstreetmap.org/{z}/{x}/{y}.png
type TileServer struct {
	name     string
	url      string
	min, max maptile.Zoom
	client   *http.Client
	cache    *lru.Cache[string, image.Image]
	group    singleflight.Group
	//OnCache is told about every cache lookup
	OnCache func(hit bool)
}

//NewTileServer cacheSize decoded tiles are kept in memory
func NewTileServer(name, url string, min, max, cacheSize int) (*TileServer, error) {
	if !strings.Contains(url, "{x}") || !(strings.Contains(url, "{y}") || strings.Contains(url, "{-y}")) || !strings.Contains(url, "{z}") {
		return nil, fmt.Errorf("tile url %q needs {x} {y} {z}: %w", url, ErrUnsupportedFormat)
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, image.Image](cacheSize)
	if err != nil {
		return nil, err
	}
	if max <= 0 || max > 22 {
		max = 19
	}
	if min < 0 || min > max {
		min = 0
	}
	return &TileServer{
		name:   name,
		url:    url,
		min:    maptile.Zoom(min),
		max:    maptile.Zoom(max),
		client: &http.Client{Timeout: 30 * time.Second},
		cache:  cache,
	}, nil
}

func (s *TileServer) Name() string                            { return s.name }
func (s *TileServer) ZoomRange() (maptile.Zoom, maptile.Zoom) { return s.min, s.max }

func (s *TileServer) Close() error {
	s.cache.Purge()
	return nil
}

//Bounds the whole web mercator square
func (s *TileServer) Bounds() geo.Envelope {
	h := InitialResolution * TileSize / 2
	return geo.NewEnvelope(-h, -h, h, h)
}

//TileURL fills the url template, {-y} is the TMS row
func (s *TileServer) TileURL(t maptile.Tile) string {
	url := strings.Replace(s.url, "{x}", strconv.Itoa(int(t.X)), -1)
	url = strings.Replace(url, "{y}", strconv.Itoa(int(t.Y)), -1)
	url = strings.Replace(url, "{-y}", strconv.Itoa(int(FlipY(t))), -1)
	url = strings.Replace(url, "{z}", strconv.Itoa(int(t.Z)), -1)
	return url
}

//FetchTile concurrent requests for one tile share a single download
func (s *TileServer) FetchTile(t maptile.Tile) (image.Image, error) {
	url := s.TileURL(t)
	if img, ok := s.cache.Get(url); ok {
		s.observe(true)
		return img, nil
	}
	s.observe(false)
	v, err, _ := s.group.Do(url, func() (interface{}, error) {
		start := time.Now()
		resp, err := s.client.Get(url)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: status code %d", url, resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read %v tile: %w", t, err)
		}
		img, err := decodeTile(body)
		if err != nil {
			return nil, fmt.Errorf("tile %v: %w", t, err)
		}
		s.cache.Add(url, img)
		log.Debugf("tile %v, %.3fs, %.2f kb, %s", t, time.Since(start).Seconds(), float32(len(body))/1024.0, url)
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(image.Image), nil
}

func (s *TileServer) observe(hit bool) {
	if s.OnCache != nil {
		s.OnCache(hit)
	}
}

//decodeTile accepts gzip wrapped tiles as written by tile downloaders
func decodeTile(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyTile
	}
	if len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, err
		}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return img, nil
}
