// Package server exposes a view over HTTP: rendered maps, elevations,
// feature queries and shading settings.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"geoview/metrics"
	"geoview/view"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

//MaxSize largest map edge served, in pixels
const MaxSize = 4096

//Server serializes every request on one view
type Server struct {
	mu      sync.Mutex
	view    *view.View
	metrics *metrics.Collector
	router  chi.Router
}

func New(v *view.View, m *metrics.Collector) *Server {
	s := &Server{view: v, metrics: m}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logging)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/metrics", m.Handler().ServeHTTP)
	r.Get("/map.png", s.handleMap)
	r.Get("/elevation", s.handleElevation)
	r.Get("/features", s.handleFeatures)
	r.Get("/features/{layer}/{id}", s.handleFields)
	r.Get("/shading", s.handleGetShading)
	r.Put("/shading", s.handlePutShading)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

//Run serves on addr until ctx is done
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("http listen on %s", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"req":    middleware.GetReqID(r.Context()),
			"status": ww.Status(),
			"bytes":  ww.BytesWritten(),
		}).Debugf("%s %s in %.4fs", r.Method, r.URL.RequestURI(), time.Since(start).Seconds())
	})
}
