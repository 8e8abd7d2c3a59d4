package main

import (
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"

	"geoview/export"
	"geoview/geo"
	"geoview/layer"
	"geoview/render"
	"geoview/shade"

	"github.com/paulmach/orb"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

//initConf reads cfgFile over the defaults
func initConf(cfgFile string) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		log.Warnf("config file(%s) not exist", cfgFile)
	}
	viper.SetConfigType("toml")
	viper.SetConfigFile(cfgFile)
	viper.AutomaticEnv()
	err := viper.ReadInConfig()
	if err != nil {
		log.Warnf("read config file(%s) error, details: %s", viper.ConfigFileUsed(), err)
	}
	viper.SetDefault("app.version", "v0.1.0")
	viper.SetDefault("app.title", "geoview")
	viper.SetDefault("app.loglevel", "info")
	viper.SetDefault("view.width", 1024)
	viper.SetDefault("view.height", 768)
	viper.SetDefault("view.crs", "EPSG:3857")
	viper.SetDefault("shading.mode", shade.LightShading.String())
	viper.SetDefault("shading.nodata", shade.DefaultNoData)
	viper.SetDefault("shading.contour", shade.DefaultContourInterval)
	viper.SetDefault("shading.azimuth", shade.DefaultAzimuth)
	viper.SetDefault("shading.zenith", shade.DefaultZenith)
	viper.SetDefault("render.marker", render.DefaultOptions().MarkerThreshold)
	viper.SetDefault("render.overlay_marker", render.DefaultOptions().OverlayMarker)
	viper.SetDefault("render.labels", render.DefaultOptions().LabelThreshold)
	viper.SetDefault("render.check_every", render.DefaultOptions().CheckEvery)
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("cache.tiles", 512)
	viper.SetDefault("export.format", export.MBTiles)
	viper.SetDefault("export.directory", "output")
	viper.SetDefault("export.minzoom", 0)
	viper.SetDefault("export.maxzoom", 6)
	viper.SetDefault("export.workers", 4)
	viper.SetDefault("export.savepipe", 1)
	if lvl, err := log.ParseLevel(viper.GetString("app.loglevel")); err == nil {
		log.SetLevel(lvl)
	}
}

type vectorConf struct {
	Path   string
	Pen    string
	Fill   string
	Width  float64
	Hidden bool
}

type rasterConf struct {
	Path    string
	CRS     string
	Folder  bool
	Opacity float64
	Hidden  bool
}

type tileConf struct {
	Name    string
	URL     string
	MBTiles string
	Min     int
	Max     int
	Opacity float64
}

func parseARGB(s string, def uint32) uint32 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 0, 32)
	if err != nil {
		log.Warnf("colour %q error ~ %s", s, err)
		return def
	}
	return uint32(v)
}

func parseRGB(s string) (color.RGBA, error) {
	var c color.RGBA
	_, err := fmt.Sscanf(strings.TrimPrefix(s, "#"), "%02x%02x%02x", &c.R, &c.G, &c.B)
	c.A = 255
	return c, err
}

func parseBBox(vals []float64) (geo.Envelope, bool) {
	if len(vals) != 4 {
		return geo.Envelope{}, false
	}
	return geo.NewEnvelope(vals[0], vals[1], vals[2], vals[3]), true
}

func rasterCRS(s string) geo.CRS {
	if s == "" {
		return geo.Unknown
	}
	crs, err := geo.ParseCRS(s)
	if err != nil {
		log.Warnf("crs %q error ~ %s", s, err)
	}
	return crs
}

//loadLayers opens every configured layer, failures are logged and skipped
func loadLayers(base *layer.Base) {
	var vectors []vectorConf
	if err := viper.UnmarshalKey("vectors", &vectors); err != nil {
		log.Errorf("vectors config error ~ %s", err)
	}
	for _, c := range vectors {
		ls, err := base.OpenVector(c.Path)
		if err != nil {
			log.Errorf("open vector %s error ~ %s", c.Path, err)
			continue
		}
		for _, l := range ls {
			st := l.Style()
			st.Pen = parseARGB(c.Pen, st.Pen)
			st.Fill = parseARGB(c.Fill, st.Fill)
			if c.Width > 0 {
				st.Width = c.Width
			}
			st.Visible = !c.Hidden
			l.SetStyle(st)
		}
	}
	for _, kind := range []layer.Kind{layer.KindRaster, layer.KindDTM} {
		key := "rasters"
		if kind == layer.KindDTM {
			key = "dtms"
		}
		var rasters []rasterConf
		if err := viper.UnmarshalKey(key, &rasters); err != nil {
			log.Errorf("%s config error ~ %s", key, err)
		}
		for _, c := range rasters {
			var l *layer.RasterLayer
			var err error
			switch {
			case c.Folder:
				l, err = base.OpenFolder(c.Path, kind, rasterCRS(c.CRS))
			case kind == layer.KindDTM:
				l, err = base.OpenDTM(c.Path, rasterCRS(c.CRS))
			default:
				l, err = base.OpenRaster(c.Path, rasterCRS(c.CRS))
			}
			if err != nil {
				log.Errorf("open %s %s error ~ %s", kind, c.Path, err)
				continue
			}
			if c.Opacity > 0 {
				l.SetOpacity(c.Opacity)
			}
			l.SetVisible(!c.Hidden)
		}
	}
	var tiles []tileConf
	if err := viper.UnmarshalKey("tiles", &tiles); err != nil {
		log.Errorf("tiles config error ~ %s", err)
	}
	for _, c := range tiles {
		var l *layer.RasterLayer
		var err error
		if c.MBTiles != "" {
			l, err = base.OpenMBTiles(c.MBTiles)
		} else {
			l, err = base.OpenTileServer(c.Name, c.URL, c.Min, c.Max)
		}
		if err != nil {
			log.Errorf("open tiles %s%s error ~ %s", c.MBTiles, c.URL, err)
			continue
		}
		if c.Opacity > 0 {
			l.SetOpacity(c.Opacity)
		}
	}
}

//shadingSettings defaults overridden by the shading table
func shadingSettings() (shade.Settings, error) {
	st := shade.DefaultSettings()
	mode, err := shade.ParseMode(viper.GetString("shading.mode"))
	if err != nil {
		return st, err
	}
	st.Mode = mode
	st.NoData = viper.GetFloat64("shading.nodata")
	st.ContourInterval = viper.GetFloat64("shading.contour")
	st.Azimuth = viper.GetFloat64("shading.azimuth")
	st.Zenith = viper.GetFloat64("shading.zenith")
	if viper.IsSet("shading.breaks") {
		var breaks []float64
		if err := viper.UnmarshalKey("shading.breaks", &breaks); err != nil {
			return st, err
		}
		st.Z = breaks
	}
	if viper.IsSet("shading.colours") {
		st.Colours = st.Colours[:0]
		for _, s := range viper.GetStringSlice("shading.colours") {
			c, err := parseRGB(s)
			if err != nil {
				return st, fmt.Errorf("shading colour %q: %w", s, err)
			}
			st.Colours = append(st.Colours, c)
		}
	}
	return st, st.Validate()
}

func renderOptions() render.Options {
	opts := render.DefaultOptions()
	opts.MarkerThreshold = viper.GetFloat64("render.marker")
	opts.OverlayMarker = viper.GetFloat64("render.overlay_marker")
	opts.LabelThreshold = viper.GetFloat64("render.labels")
	opts.CheckEvery = viper.GetInt("render.check_every")
	return opts
}

func exportOptions(base *layer.Base) export.Options {
	o := export.Options{
		Name:        viper.GetString("export.name"),
		Description: viper.GetString("export.description"),
		Attribution: viper.GetString("export.attribution"),
		Format:      viper.GetString("export.format"),
		Directory:   viper.GetString("export.directory"),
		File:        viper.GetString("export.file"),
		Min:         viper.GetInt("export.minzoom"),
		Max:         viper.GetInt("export.maxzoom"),
		Workers:     viper.GetInt("export.workers"),
		SavePipe:    viper.GetInt("export.savepipe"),
		SkipEmpty:   viper.GetBool("export.skipempty"),
	}
	var bbox []float64
	if err := viper.UnmarshalKey("export.bbox", &bbox); err != nil {
		log.Warnf("export bbox error ~ %s", err)
	}
	if env, ok := parseBBox(bbox); ok {
		o.Bound = env.Bound()
		return o
	}
	env, err := geo.Reproject(base.Envelope(), base.CRS(), geo.WGS84)
	if err != nil || !env.IsInit() {
		o.Bound = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
		return o
	}
	o.Bound = env.Bound()
	return o
}
