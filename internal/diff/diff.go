// Package diff compares an incoming feed batch against the previous snapshot
// and classifies every quake as added, updated or unchanged.
//
// Compare is pure: for the same previous snapshot, incoming batch and now it
// always returns the same Result. Quakes present in the previous snapshot but
// absent from the batch are not deletions, because feeds are rolling windows.
// Removal reporting is opt-in per feed adapter via Options.ReportRemovals.
package diff

import (
	"sort"
	"time"

	"github.com/rewired-gh/quakewatch/internal/models"
)

// Attribute is one tracked quake field.
type Attribute struct {
	Name  string
	Value func(q models.Quake) any
}

// DefaultAttributes are the fields compared between two versions of a quake.
var DefaultAttributes = []Attribute{
	{Name: "magnitude", Value: func(q models.Quake) any { return q.Magnitude }},
	{Name: "place", Value: func(q models.Quake) any { return q.Place }},
	{Name: "status", Value: func(q models.Quake) any { return q.Status }},
	{Name: "alert", Value: func(q models.Quake) any { return q.AlertLevel }},
	{Name: "tsunami", Value: func(q models.Quake) any { return q.Tsunami }},
}

// Options tunes a comparison.
type Options struct {
	// Attributes overrides DefaultAttributes when non-empty.
	Attributes []Attribute
	// ReportRemovals fills Result.Removed with keys that left the feed.
	ReportRemovals bool
}

// Skip reasons.
const (
	ReasonMalformed = "malformed"
	ReasonDuplicate = "duplicate"
)

// Skipped describes an incoming entry that was left out of the comparison.
type Skipped struct {
	Index   int    `json:"index"`
	QuakeID string `json:"quake_id"`
	Reason  string `json:"reason"`
	Err     error  `json:"-"`
}

// Result is the outcome of one comparison.
type Result struct {
	// Added holds new quakes in feed order.
	Added []models.Quake
	// Updated holds keys with at least one changed attribute, in feed order.
	Updated []string
	Changes map[string][]models.ChangeRecord
	// Removed is sorted and only filled with Options.ReportRemovals.
	Removed []string
	Skipped []Skipped
	// Snapshot holds the valid incoming quakes keyed by ID. A known quake
	// whose entry arrived malformed keeps its previous version.
	Snapshot models.Snapshot
}

// ChangeCount returns the total number of change records.
func (r Result) ChangeCount() int {
	n := 0
	for _, c := range r.Changes {
		n += len(c)
	}
	return n
}

// Compare diffs incoming against previous, stamping change records with now.
func Compare(previous models.Snapshot, incoming []models.Quake, now time.Time, opts Options) Result {
	attrs := opts.Attributes
	if len(attrs) == 0 {
		attrs = DefaultAttributes
	}

	res := Result{
		Added:    []models.Quake{},
		Updated:  []string{},
		Changes:  make(map[string][]models.ChangeRecord),
		Snapshot: make(models.Snapshot, len(incoming)),
	}
	malformed := make(map[string]bool)

	for i, q := range incoming {
		if err := q.Validate(); err != nil {
			res.Skipped = append(res.Skipped, Skipped{Index: i, QuakeID: q.ID, Reason: ReasonMalformed, Err: err})
			if q.ID != "" {
				malformed[q.ID] = true
			}
			continue
		}
		if _, seen := res.Snapshot[q.ID]; seen {
			res.Skipped = append(res.Skipped, Skipped{Index: i, QuakeID: q.ID, Reason: ReasonDuplicate})
			continue
		}
		res.Snapshot[q.ID] = q

		old, existed := previous[q.ID]
		if !existed {
			res.Added = append(res.Added, q)
			continue
		}

		changes := compareAttributes(old, q, attrs, now)
		if len(changes) > 0 {
			res.Updated = append(res.Updated, q.ID)
			res.Changes[q.ID] = changes
		}
	}

	for id := range malformed {
		if _, ok := res.Snapshot[id]; ok {
			continue
		}
		if old, ok := previous[id]; ok {
			res.Snapshot[id] = old
		}
	}

	if opts.ReportRemovals {
		for id := range previous {
			if _, ok := res.Snapshot[id]; ok || malformed[id] {
				continue
			}
			res.Removed = append(res.Removed, id)
		}
		sort.Strings(res.Removed)
	}

	return res
}

func compareAttributes(old, cur models.Quake, attrs []Attribute, now time.Time) []models.ChangeRecord {
	var changes []models.ChangeRecord
	for _, a := range attrs {
		ov, nv := a.Value(old), a.Value(cur)
		if ov == nv {
			continue
		}
		changes = append(changes, models.ChangeRecord{
			QuakeID:   cur.ID,
			Property:  a.Name,
			OldValue:  ov,
			NewValue:  nv,
			Timestamp: now,
		})
	}
	return changes
}
