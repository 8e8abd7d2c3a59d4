package source

import (
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
)

//Registry shares opened datasets between layers. Every Acquire of a key
//must be paired with a Release; the dataset is closed by the last Release.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	ds   io.Closer
	refs int
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

//Acquire returns the dataset registered under key, opening it on first use
func (r *Registry) Acquire(key string, open func() (io.Closer, error)) (io.Closer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		e.refs++
		return e.ds, nil
	}
	ds, err := open()
	if err != nil {
		return nil, err
	}
	r.entries[key] = &entry{ds: ds, refs: 1}
	return ds, nil
}

//Release drops one reference, closing the dataset with the last one
func (r *Registry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	delete(r.entries, key)
	if err := e.ds.Close(); err != nil {
		log.Warnf("close dataset %s error ~ %s", key, err)
	}
}

//IsOpen reports whether key is held by at least one layer
func (r *Registry) IsOpen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

//Refs reference count of key
func (r *Registry) Refs(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e.refs
	}
	return 0
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

//CloseAll closes every dataset whatever its count
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.entries {
		if err := e.ds.Close(); err != nil {
			log.Warnf("close dataset %s error ~ %s", key, err)
		}
	}
	r.entries = make(map[string]*entry)
}
