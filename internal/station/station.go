// Package station holds the read-only station catalogue consulted by the
// camera orchestrator. Data is swapped in whole snapshots so readers never
// observe a partial update.
package station

import (
	"sort"
	"sync/atomic"

	"github.com/paulmach/orb"
)

// Station is a pickup or drop-off point. Coordinates are [lng, lat].
type Station struct {
	ID          int       `json:"id" doc:"Station ID" example:"5"`
	Name        string    `json:"name" doc:"Display name" example:"Taipei Main Station"`
	Coordinates orb.Point `json:"coordinates" doc:"Position as [lng, lat]"`
}

// Snapshot is an immutable set of stations keyed by id.
type Snapshot struct {
	byID  map[int]Station
	order []int
}

// NewSnapshot indexes stations. A later duplicate id replaces an earlier one.
func NewSnapshot(stations []Station) *Snapshot {
	s := &Snapshot{byID: make(map[int]Station, len(stations))}
	for _, st := range stations {
		if _, dup := s.byID[st.ID]; !dup {
			s.order = append(s.order, st.ID)
		}
		s.byID[st.ID] = st
	}
	sort.Ints(s.order)
	return s
}

// Lookup returns the station with id.
func (s *Snapshot) Lookup(id int) (Station, bool) {
	st, ok := s.byID[id]
	return st, ok
}

// All returns the stations ordered by id.
func (s *Snapshot) All() []Station {
	out := make([]Station, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

func (s *Snapshot) Len() int { return len(s.order) }

// Store publishes the current Snapshot.
type Store struct {
	cur atomic.Pointer[Snapshot]
}

// NewStore returns a store holding stations.
func NewStore(stations ...Station) *Store {
	s := &Store{}
	s.cur.Store(NewSnapshot(stations))
	return s
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.cur.Load()
}

// Replace publishes a new snapshot built from stations.
func (s *Store) Replace(stations []Station) *Snapshot {
	snap := NewSnapshot(stations)
	s.cur.Store(snap)
	return snap
}

// Lookup reads id from the current snapshot.
func (s *Store) Lookup(id int) (Station, bool) {
	return s.Snapshot().Lookup(id)
}
