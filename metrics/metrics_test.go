package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := New("test")
	c.RunDone("completed")
	c.RunDone("cancelled")
	c.RunDone("completed")
	c.Pass("vector", 5*time.Millisecond)
	c.FeaturesDrawn(12)
	c.TileCache(true)
	c.TileCache(false)
	c.TileExported("mbtiles")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.runs.WithLabelValues("completed")))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.features))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tileCache.WithLabelValues("miss")))

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "geoview_render_runs_total")
	assert.Contains(t, body, `geoview_build_info{version="test"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RunDone("completed")
		c.Pass("raster", time.Second)
		c.FeaturesDrawn(3)
		c.TileCache(true)
		c.TileExported("files")
	})
	assert.Nil(t, c.Registry())
}
