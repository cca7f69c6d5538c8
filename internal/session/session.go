// Package session ties one uploaded spreadsheet to its extracted records and
// its price-search coordinator. Every session is independent: jobs, edits,
// and patches on one session never touch another.
package session

import (
	"sync"
	"time"

	"github.com/example/storesheet/internal/dataset"
	"github.com/example/storesheet/internal/grid"
	"github.com/example/storesheet/internal/pricejob"
)

// Session is the in-memory state of one upload.
type Session struct {
	ID        string
	Filename  string
	CreatedAt time.Time
	BlobKey   string

	Grid        *grid.Grid
	Records     *dataset.Dataset
	Coordinator *pricejob.Coordinator
}

// Registry holds the live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops a session and returns it for teardown. ok is false when the
// id was never registered or already removed.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
