package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geoview/export"
	"geoview/geo"
	"geoview/layer"
	"geoview/metrics"
	"geoview/server"
	"geoview/shade"
	"geoview/view"

	"github.com/shiena/ansicolor"
	log "github.com/sirupsen/logrus"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/spf13/viper"
)

// flag
var (
	hf bool
	cf string
	of string
)

func init() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&cf, "c", "conf.toml", "set config `file`")
	flag.StringVar(&of, "o", "map.png", "render output `file`")
	flag.Usage = usage
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	log.SetOutput(ansicolor.NewAnsiColorWriter(os.Stdout))
	log.SetLevel(log.DebugLevel)
}

func usage() {
	fmt.Fprintf(os.Stderr, `geoview version: geoview/v0.1.0
Usage: geoview [-h] [-c filename] [-o filename] render|serve|export
`)
	flag.PrintDefaults()
}

//app everything a command needs
type app struct {
	base    *layer.Base
	view    *view.View
	metrics *metrics.Collector
}

func newApp() (*app, error) {
	crs, err := geo.ParseCRS(viper.GetString("view.crs"))
	if err != nil {
		return nil, err
	}
	st, err := shadingSettings()
	if err != nil {
		return nil, fmt.Errorf("shading config: %w", err)
	}
	params, err := shade.NewParams(st)
	if err != nil {
		return nil, err
	}
	m := metrics.New(viper.GetString("app.version"))
	base := layer.NewBase(crs)
	base.TileCache = viper.GetInt("cache.tiles")
	base.OnTileCache = m.TileCache
	loadLayers(base)
	v := view.New(base, params, renderOptions(), viper.GetInt("view.width"), viper.GetInt("view.height"))
	v.Job().Metrics = m

	var bbox []float64
	if err := viper.UnmarshalKey("view.bbox", &bbox); err != nil {
		log.Warnf("view bbox error ~ %s", err)
	}
	if env, ok := parseBBox(bbox); ok {
		err = v.ZoomEnvelope(env, 0)
	} else {
		err = v.ZoomWorld()
	}
	if err != nil {
		log.Warnf("initial zoom error ~ %s", err)
	}
	return &app{base: base, view: v, metrics: m}, nil
}

func (a *app) close() {
	a.view.Job().Cancel()
	a.view.Wait()
	a.base.Clear()
}

func (a *app) render(path string) error {
	start := time.Now()
	img := a.view.Image()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return err
	}
	st := a.view.Job().Stats()
	log.Infof("render %s finished, %d objects, %.3fs ~", st.ID, st.Drawn, time.Since(start).Seconds())
	return nil
}

func (a *app) serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.New(a.view, a.metrics).Run(ctx, viper.GetString("server.addr"))
}

func (a *app) export() error {
	task, err := export.NewTask(a.view, exportOptions(a.base))
	if err != nil {
		return err
	}
	task.Metrics = a.metrics
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		if _, ok := <-sig; ok {
			task.Abort()
		}
	}()
	log.Infof("task %s: %d tiles, zoom %d-%d -> %s", task.ID, task.Total, task.Min, task.Max, task.File)
	return task.Run()
}

func main() {
	flag.Parse()
	if hf {
		flag.Usage()
		return
	}
	if cf == "" {
		cf = "conf.toml"
	}
	initConf(cf)
	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "render"
	}
	a, err := newApp()
	if err != nil {
		log.Fatal(err)
	}
	defer a.close()
	switch cmd {
	case "render":
		err = a.render(of)
	case "serve":
		err = a.serve()
	case "export":
		err = a.export()
		if errors.Is(err, export.ErrAborted) {
			log.Warn(err)
			err = nil
		}
	default:
		flag.Usage()
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		log.Error(err)
		a.close()
		os.Exit(1)
	}
}
