package layer

import (
	"fmt"
	"sync"

	"geoview/geo"
	"geoview/source"

	log "github.com/sirupsen/logrus"
)

//Feature lightweight handle to one feature of a layer
type Feature struct {
	ID    int64
	Env   geo.Envelope
	Layer int
}

//VectorLayer queries a feature source by rectangle. Sources with a native
//box filter are asked directly; others are scanned once at open time into
//an ordered index of envelopes walked linearly.
type VectorLayer struct {
	mu     sync.Mutex
	id     int
	key    string
	src    source.Vector
	native source.BoxFilter
	index  []Feature
	env    geo.Envelope
	style  Style

	filter geo.Envelope
	cursor int
	rows   source.Cursor
}

//NewVectorLayer picks the query strategy once and keeps it
func NewVectorLayer(id int, src source.Vector) (*VectorLayer, error) {
	l := &VectorLayer{id: id, src: src, style: DefaultStyle()}
	if bf, ok := src.(source.BoxFilter); ok {
		l.native = bf
		env, err := src.Envelope()
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", src.Name(), err)
		}
		l.env = env
		return l, nil
	}
	err := src.Scan(func(f *source.Feature) bool {
		if f.Geometry == nil {
			return true
		}
		e := f.Envelope()
		l.index = append(l.index, Feature{ID: f.ID, Env: e, Layer: id})
		l.env = l.env.Merge(e)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", src.Name(), err)
	}
	if len(l.index) == 0 && src.Count() > 0 {
		return nil, fmt.Errorf("layer %s: %w", src.Name(), source.ErrNotGeometric)
	}
	log.WithField("layer", src.Name()).Debugf("indexed %d features", len(l.index))
	return l, nil
}

func (l *VectorLayer) ID() int                { return l.id }
func (l *VectorLayer) Name() string           { return l.src.Name() }
func (l *VectorLayer) Source() source.Vector  { return l.src }
func (l *VectorLayer) SpatialRef() geo.CRS    { return l.src.SpatialRef() }
func (l *VectorLayer) Envelope() geo.Envelope { return l.env }
func (l *VectorLayer) Native() bool           { return l.native != nil }

//Index copy of the local index, nil for native layers
func (l *VectorLayer) Index() []Feature {
	return append([]Feature(nil), l.index...)
}

func (l *VectorLayer) Style() Style {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.style
}

func (l *VectorLayer) SetStyle(s Style) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.style = s
}

//SetSpatialFilterRect env is given in crs and reprojected corner-wise into
//the layer's own system, then iteration restarts from the beginning.
func (l *VectorLayer) SetSpatialFilterRect(env geo.Envelope, crs geo.CRS) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	tr, err := geo.NewTransformation(crs, l.src.SpatialRef())
	if err != nil {
		return fmt.Errorf("layer %s: %w", l.src.Name(), err)
	}
	l.filter = tr.Envelope(env)
	l.cursor = 0
	if l.rows != nil {
		l.rows.Close()
		l.rows = nil
	}
	if l.native != nil {
		rows, err := l.native.Query(l.filter)
		if err != nil {
			return fmt.Errorf("layer %s: %w", l.src.Name(), err)
		}
		l.rows = rows
	}
	return nil
}

//ResetReading restarts iteration under the current filter
func (l *VectorLayer) ResetReading() error {
	l.mu.Lock()
	filter := l.filter
	l.mu.Unlock()
	return l.SetSpatialFilterRect(filter, l.src.SpatialRef())
}

//NextFeatureID next handle whose envelope meets the filter
func (l *VectorLayer) NextFeatureID() (Feature, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.native != nil {
		f, ok := l.nextRow()
		if !ok {
			return Feature{}, false
		}
		return Feature{ID: f.ID, Env: f.Envelope(), Layer: l.id}, true
	}
	for l.cursor < len(l.index) {
		f := l.index[l.cursor]
		l.cursor++
		if f.Env.Intersects(l.filter) {
			return f, true
		}
	}
	return Feature{}, false
}

//NextFeature next full feature meeting the filter
func (l *VectorLayer) NextFeature() (*source.Feature, bool) {
	if l.Native() {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.nextRow()
	}
	for {
		h, ok := l.NextFeatureID()
		if !ok {
			return nil, false
		}
		f, err := l.src.Feature(h.ID)
		if err != nil {
			log.WithField("layer", l.src.Name()).Warnf("feature %d unreadable ~ %s", h.ID, err)
			continue
		}
		return f, true
	}
}

func (l *VectorLayer) nextRow() (*source.Feature, bool) {
	if l.rows == nil {
		return nil, false
	}
	for {
		f, ok := l.rows.Next()
		if !ok {
			if err := l.rows.Err(); err != nil {
				log.WithField("layer", l.src.Name()).Warnf("query error ~ %s", err)
			}
			l.rows.Close()
			l.rows = nil
			return nil, false
		}
		if f.Geometry != nil {
			return f, true
		}
	}
}

//Feature fetches one feature by id
func (l *VectorLayer) Feature(id int64) (*source.Feature, error) {
	return l.src.Feature(id)
}
