// Package snapshot holds the single live keyed collection of quakes.
package snapshot

import (
	"sync/atomic"

	"github.com/rewired-gh/quakewatch/internal/models"
)

// Store holds exactly one live Snapshot. Replace swaps the whole map at once,
// so readers see either the previous or the next snapshot, never a mix.
type Store struct {
	current atomic.Pointer[models.Snapshot]
}

// New creates a store holding an empty snapshot.
func New() *Store {
	s := &Store{}
	empty := models.Snapshot{}
	s.current.Store(&empty)
	return s
}

// Get returns the live snapshot. Callers must not modify it.
func (s *Store) Get() models.Snapshot {
	return *s.current.Load()
}

// Replace installs snap as the live snapshot.
func (s *Store) Replace(snap models.Snapshot) {
	if snap == nil {
		snap = models.Snapshot{}
	}
	s.current.Store(&snap)
}

// Len returns the number of quakes in the live snapshot.
func (s *Store) Len() int {
	return len(s.Get())
}

// Lookup returns the quake with id from the live snapshot.
func (s *Store) Lookup(id string) (models.Quake, bool) {
	q, ok := s.Get()[id]
	return q, ok
}

// List returns the live snapshot contents ordered by ID.
func (s *Store) List() []models.Quake {
	return s.Get().Quakes()
}
