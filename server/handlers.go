package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"geoview/geo"
	"geoview/layer"
	"geoview/shade"
	"geoview/source"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/geojson"
	log "github.com/sirupsen/logrus"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("write json ~ %s", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

//parseBBox reads "minx,miny,maxx,maxy"
func parseBBox(s string) (geo.Envelope, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geo.Envelope{}, fmt.Errorf("bbox %q: want minx,miny,maxx,maxy", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geo.Envelope{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		v[i] = f
	}
	env := geo.NewEnvelope(v[0], v[1], v[2], v[3])
	if env.Width() <= 0 || env.Height() <= 0 {
		return geo.Envelope{}, fmt.Errorf("bbox %q is empty", s)
	}
	return env, nil
}

func intParam(q url.Values, key string, def int) (int, error) {
	s := q.Get(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func floatParam(q url.Values, key string) (float64, error) {
	s := q.Get(key)
	if s == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

//handleMap renders the view, optionally resized and zoomed on bbox
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	defer s.mu.Unlock()
	cw, ch := s.view.Size()
	width, err := intParam(q, "width", cw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	height, err := intParam(q, "height", ch)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if width <= 0 || height <= 0 || width > MaxSize || height > MaxSize {
		writeError(w, http.StatusBadRequest, fmt.Errorf("size %dx%d out of range", width, height))
		return
	}
	if width != cw || height != ch {
		s.view.Resize(width, height)
	}
	if bbox := q.Get("bbox"); bbox != "" {
		env, err := parseBBox(bbox)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.view.ZoomEnvelope(env, 0); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	img := s.view.Image()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(buf.Bytes()))
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}

//handleElevation elevation at a ground position of the view system
func (s *Server) handleElevation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, err := floatParam(q, "x")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	y, err := floatParam(q, "y")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.view.Envelope().Contains(x, y) {
		s.view.CenterView(x, y)
	}
	s.view.Wait()
	if s.view.Job().Elevation() == nil {
		s.view.DTMChanged()
		s.view.Wait()
	}
	px, py := s.view.GroundToPixel(x, y)
	v, ok := s.view.ElevationAt(int(px), int(py))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no elevation at %f,%f", x, y))
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"x": x, "y": y, "elevation": v})
}

//handleFeatures selects the features meeting bbox and returns them as GeoJSON in WGS84
func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	env, err := parseBBox(r.URL.Query().Get("bbox"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.view.Base()
	s.view.Job().Cancel()
	base.SelectFeatures(env, base.CRS())
	s.view.SelectionChanged()

	fc := geojson.NewFeatureCollection()
	for _, sel := range base.Selection() {
		l, err := base.Vector(sel.Layer)
		if err != nil {
			continue
		}
		f, err := l.Feature(sel.ID)
		if err != nil || f.Geometry == nil {
			continue
		}
		g := f.Geometry
		if tr, err := geo.NewTransformation(l.SpatialRef(), geo.WGS84); err == nil {
			g = tr.Geometry(g)
		}
		gf := geojson.NewFeature(g)
		gf.ID = fmt.Sprintf("%d/%d", sel.Layer, sel.ID)
		for k, v := range f.Properties {
			gf.Properties[k] = v
		}
		gf.Properties["layer"] = l.Name()
		fc.Append(gf)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(data)
}

//handleFields attributes of one feature
func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	lid, err := strconv.Atoi(chi.URLParam(r, "layer"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fid, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.mu.Lock()
	fields, err := s.view.Base().SelectionFields(lid, fid)
	s.mu.Unlock()
	switch {
	case errors.Is(err, layer.ErrNoSuchLayer), errors.Is(err, source.ErrNoFeature):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, fields)
	}
}

type shading struct {
	Mode     string     `json:"mode"`
	NoData   float64    `json:"nodata"`
	Breaks   []float64  `json:"breaks"`
	Colours  [][3]uint8 `json:"colours"`
	Contour  float64    `json:"contour"`
	Azimuth  float64    `json:"azimuth"`
	Zenith   float64    `json:"zenith"`
	Fallback [3]uint8   `json:"out_of_area"`
}

//shadingUpdate absent fields keep their value
type shadingUpdate struct {
	Mode    *string    `json:"mode"`
	NoData  *float64   `json:"nodata"`
	Breaks  []float64  `json:"breaks"`
	Colours [][3]uint8 `json:"colours"`
	Contour *float64   `json:"contour"`
	Azimuth *float64   `json:"azimuth"`
	Zenith  *float64   `json:"zenith"`

	//moves of single breaks, applied in order after breaks and colours
	Altitudes []altitudeEdit `json:"altitudes"`
}

type altitudeEdit struct {
	Index int     `json:"index"`
	Z     float64 `json:"z"`
}

func toShading(st shade.Settings) shading {
	out := shading{
		Mode:     st.Mode.String(),
		NoData:   st.NoData,
		Breaks:   st.Z,
		Contour:  st.ContourInterval,
		Azimuth:  st.Azimuth,
		Zenith:   st.Zenith,
		Fallback: [3]uint8{st.OutOfArea.R, st.OutOfArea.G, st.OutOfArea.B},
	}
	for _, c := range st.Colours {
		out.Colours = append(out.Colours, [3]uint8{c.R, c.G, c.B})
	}
	return out
}

func (s *Server) handleGetShading(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toShading(s.view.Params().Snapshot()))
}

//handlePutShading edits the shading settings and redraws elevations
func (s *Server) handlePutShading(w http.ResponseWriter, r *http.Request) {
	var u shadingUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	params := s.view.Params()
	st := params.Snapshot()
	if u.Mode != nil {
		m, err := shade.ParseMode(*u.Mode)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		st.Mode = m
	}
	if u.NoData != nil {
		st.NoData = *u.NoData
	}
	if u.Breaks != nil {
		st.Z = u.Breaks
	}
	if u.Colours != nil {
		st.Colours = st.Colours[:0]
		for _, c := range u.Colours {
			st.Colours = append(st.Colours, color.RGBA{c[0], c[1], c[2], 255})
		}
	}
	if u.Contour != nil {
		st.ContourInterval = *u.Contour
	}
	if len(u.Altitudes) > 0 {
		edit, err := shade.NewParams(st)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		for _, a := range u.Altitudes {
			if _, err := edit.SetAltitude(a.Index, a.Z); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
		st = edit.Snapshot()
	}
	if err := params.Replace(st); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if u.Azimuth != nil || u.Zenith != nil {
		az, zen := st.Azimuth, st.Zenith
		if u.Azimuth != nil {
			az = *u.Azimuth
		}
		if u.Zenith != nil {
			zen = *u.Zenith
		}
		params.SetLight(az, zen)
	}
	s.mu.Lock()
	s.view.DTMChanged()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, toShading(params.Snapshot()))
}
