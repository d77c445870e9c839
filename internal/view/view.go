// Package view projects the live snapshot into the filtered, sorted and
// distance-annotated lists served to the renderer. Projection never mutates
// the snapshot; every Item is a copy.
package view

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/rewired-gh/quakewatch/internal/geo"
	"github.com/rewired-gh/quakewatch/internal/models"
)

// SortKey selects the list order.
type SortKey string

const (
	SortTime      SortKey = "time"
	SortMagnitude SortKey = "magnitude"
	SortDepth     SortKey = "depth"
	SortDistance  SortKey = "distance"
	SortUpdates   SortKey = "updates"
)

// Default filter bounds.
const (
	DefaultMinMagnitude = 0
	DefaultMaxMagnitude = 10
	DefaultMinDepth     = 0
	DefaultMaxDepth     = 700
)

// ErrInvalidQuery is returned by ParseQuery and ParseSort.
var ErrInvalidQuery = errors.New("invalid query")

// Range is an inclusive bound.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within r. NaN is never contained.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Query describes one projection.
type Query struct {
	Magnitude Range   `json:"magnitude"`
	Depth     Range   `json:"depth"`
	Sort      SortKey `json:"sort"`
}

// DefaultQuery returns the unfiltered, time-sorted query.
func DefaultQuery() Query {
	return Query{
		Magnitude: Range{Min: DefaultMinMagnitude, Max: DefaultMaxMagnitude},
		Depth:     Range{Min: DefaultMinDepth, Max: DefaultMaxDepth},
		Sort:      SortTime,
	}
}

// Item is a projected quake.
type Item struct {
	models.Quake
	DistanceKm  *float64 `json:"distance_km,omitempty"`
	UpdateCount int      `json:"update_count"`
	IsNew       bool     `json:"is_new"`
}

// Project filters snap by q, annotates distances from ref and sorts the
// result. counts holds history lengths per quake ID and isNew the IDs with
// an active alert marker; both may be nil.
func Project(snap models.Snapshot, q Query, ref *models.Location, counts map[string]int, isNew map[string]bool) []Item {
	items := make([]Item, 0, len(snap))
	for _, quake := range snap {
		if !q.Magnitude.Contains(quake.Magnitude) || !q.Depth.Contains(quake.Depth) {
			continue
		}
		items = append(items, Item{
			Quake:       quake,
			DistanceKm:  geo.DistancePtr(ref, quake.Location),
			UpdateCount: counts[quake.ID],
			IsNew:       isNew[quake.ID],
		})
	}

	sort.Slice(items, less(items, q.Sort))
	return items
}

// Filter returns the quakes of snap within q's ranges, ordered by ID.
func Filter(snap models.Snapshot, q Query) []models.Quake {
	var out []models.Quake
	for _, quake := range snap.Quakes() {
		if q.Magnitude.Contains(quake.Magnitude) && q.Depth.Contains(quake.Depth) {
			out = append(out, quake)
		}
	}
	return out
}

func less(items []Item, key SortKey) func(i, j int) bool {
	byTime := func(a, b Item) int {
		switch {
		case a.Time.After(b.Time):
			return -1
		case a.Time.Before(b.Time):
			return 1
		}
		return 0
	}

	return func(i, j int) bool {
		a, b := items[i], items[j]
		c := 0
		switch key {
		case SortMagnitude:
			c = compareDesc(a.Magnitude, b.Magnitude)
		case SortDepth:
			c = compareDesc(a.Depth, b.Depth)
		case SortUpdates:
			c = compareDesc(float64(a.UpdateCount), float64(b.UpdateCount))
		case SortDistance:
			switch {
			case a.DistanceKm != nil && b.DistanceKm != nil:
				c = -compareDesc(*a.DistanceKm, *b.DistanceKm)
			case a.DistanceKm != nil:
				c = -1
			case b.DistanceKm != nil:
				c = 1
			default:
				c = byTime(a, b)
			}
		default:
			// Active markers first.
			if a.IsNew != b.IsNew {
				return a.IsNew
			}
			c = byTime(a, b)
		}
		if c != 0 {
			return c < 0
		}
		return a.ID < b.ID
	}
}

// compareDesc orders larger values first.
func compareDesc(a, b float64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}

// ParseSort parses a sort key; empty means SortTime.
func ParseSort(s string) (SortKey, error) {
	switch k := SortKey(s); k {
	case "":
		return SortTime, nil
	case SortTime, SortMagnitude, SortDepth, SortDistance, SortUpdates:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown sort %q", ErrInvalidQuery, s)
	}
}

// ParseQuery reads min_mag, max_mag, min_depth, max_depth and sort from v.
// Missing parameters keep their defaults.
func ParseQuery(v url.Values) (Query, error) {
	q := DefaultQuery()

	fields := []struct {
		name string
		dst  *float64
	}{
		{"min_mag", &q.Magnitude.Min},
		{"max_mag", &q.Magnitude.Max},
		{"min_depth", &q.Depth.Min},
		{"max_depth", &q.Depth.Max},
	}
	for _, f := range fields {
		raw := v.Get(f.name)
		if raw == "" {
			continue
		}
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Query{}, fmt.Errorf("%w: %s must be a number", ErrInvalidQuery, f.name)
		}
		*f.dst = val
	}
	if q.Magnitude.Min > q.Magnitude.Max {
		return Query{}, fmt.Errorf("%w: min_mag exceeds max_mag", ErrInvalidQuery)
	}
	if q.Depth.Min > q.Depth.Max {
		return Query{}, fmt.Errorf("%w: min_depth exceeds max_depth", ErrInvalidQuery)
	}

	sortKey, err := ParseSort(v.Get("sort"))
	if err != nil {
		return Query{}, err
	}
	q.Sort = sortKey
	return q, nil
}
