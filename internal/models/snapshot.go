package models

import "sort"

// Snapshot maps quake ID to quake, representing the world as of the last
// successful poll. Treat a Snapshot handed out by a store as read-only.
type Snapshot map[string]Quake

// Index builds a Snapshot from a slice of quakes. Later duplicates win.
func Index(quakes []Quake) Snapshot {
	s := make(Snapshot, len(quakes))
	for _, q := range quakes {
		s[q.ID] = q
	}
	return s
}

// Quakes returns the snapshot contents ordered by ID.
func (s Snapshot) Quakes() []Quake {
	out := make([]Quake, 0, len(s))
	for _, q := range s {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
