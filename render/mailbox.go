package render

import (
	"image"
	"sync"

	"geoview/geo"
	"geoview/window"
)

//Buffer kinds in composite order
type Buffer int

// Buffers.
const (
	RasterBuffer Buffer = iota
	DTMBuffer
	VectorBuffer
	OverlayBuffer
	numBuffers
)

func (b Buffer) String() string {
	return [...]string{"raster", "dtm", "vector", "overlay"}[b]
}

//Frame one finished buffer handed from the worker to the caller
type Frame struct {
	Kind  Buffer
	Image *image.RGBA
	World geo.Transform
	W, H  int
	Gen   uint64
	RunID string
	//Elevation set on DTM frames
	Elevation *window.Elevation
}

//mailbox one slot per buffer kind, a newer frame replaces an unread one
type mailbox struct {
	mu     sync.Mutex
	slots  [numBuffers]*Frame
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

//post never blocks
func (m *mailbox) post(f *Frame) {
	m.mu.Lock()
	m.slots[f.Kind] = f
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() []*Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Frame
	for i, f := range m.slots {
		if f != nil {
			out = append(out, f)
			m.slots[i] = nil
		}
	}
	return out
}
