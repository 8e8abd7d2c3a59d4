// Package metrics exposes Prometheus metrics of renders, tile caches and exports.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//Collector every metric of the process. A nil collector ignores observations.
type Collector struct {
	reg       *prometheus.Registry
	runs      *prometheus.CounterVec
	passes    *prometheus.HistogramVec
	features  prometheus.Counter
	tileCache *prometheus.CounterVec
	exported  *prometheus.CounterVec
}

//New registers the collectors on a fresh registry, version labels the build info
func New(version string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	build := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "geoview_build_info",
		Help: "Build info for this binary (value is always 1).",
	}, []string{"version"})
	if version == "" {
		version = "dev"
	}
	build.WithLabelValues(version).Set(1)

	c := &Collector{
		reg: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoview_render_runs_total",
			Help: "Render runs by outcome.",
		}, []string{"outcome"}),
		passes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geoview_render_pass_seconds",
			Help:    "Duration of render passes by buffer.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"buffer"}),
		features: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoview_render_features_total",
			Help: "Features drawn into vector buffers.",
		}),
		tileCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoview_tile_cache_lookups_total",
			Help: "Tile cache lookups by result.",
		}, []string{"result"}),
		exported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoview_export_tiles_total",
			Help: "Exported tiles by sink.",
		}, []string{"sink"}),
	}
	reg.MustRegister(build, c.runs, c.passes, c.features, c.tileCache, c.exported)
	return c
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.reg
}

//RunDone counts a finished render run, outcome is completed or cancelled
func (c *Collector) RunDone(outcome string) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(outcome).Inc()
}

func (c *Collector) Pass(buffer string, d time.Duration) {
	if c == nil {
		return
	}
	c.passes.WithLabelValues(buffer).Observe(d.Seconds())
}

func (c *Collector) FeaturesDrawn(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.features.Add(float64(n))
}

//TileCache observer for tile server caches
func (c *Collector) TileCache(hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.tileCache.WithLabelValues("hit").Inc()
	} else {
		c.tileCache.WithLabelValues("miss").Inc()
	}
}

func (c *Collector) TileExported(sink string) {
	if c == nil {
		return
	}
	c.exported.WithLabelValues(sink).Inc()
}
