// Package alert decides which newly detected quakes warrant a notification,
// tracks the short-lived "new" markers, and keeps tsunami warnings.
package alert

import (
	"github.com/rewired-gh/quakewatch/internal/geo"
	"github.com/rewired-gh/quakewatch/internal/models"
)

// Decision is the policy outcome for one added quake. Candidate marks the
// most significant quake of the batch; only the candidate can notify. Mark
// requests a time-limited "new" marker.
type Decision struct {
	Quake        models.Quake `json:"quake"`
	Candidate    bool         `json:"candidate"`
	ShouldNotify bool         `json:"should_notify"`
	Mark         bool         `json:"mark"`
	DistanceKm   *float64     `json:"distance_km,omitempty"`
}

// Evaluate returns one decision per added quake, in input order.
//
// The candidate is the quake with the highest magnitude; the first one wins
// ties. A quake passes the gates when alerts are enabled and either no
// reference location is set or its distance is within the threshold.
// ShouldNotify is set only on a candidate that passes the gates; Mark is set
// on every quake that passes them.
func Evaluate(added []models.Quake, cfg models.AlertConfig) []Decision {
	if len(added) == 0 {
		return nil
	}

	candidate := 0
	for i := 1; i < len(added); i++ {
		if added[i].Magnitude > added[candidate].Magnitude {
			candidate = i
		}
	}

	decisions := make([]Decision, len(added))
	for i, q := range added {
		d := Decision{
			Quake:      q,
			Candidate:  i == candidate,
			DistanceKm: geo.DistancePtr(cfg.ReferenceLocation, q.Location),
		}
		pass := cfg.Enabled && withinThreshold(d.DistanceKm, cfg)
		d.Mark = pass
		d.ShouldNotify = pass && d.Candidate
		decisions[i] = d
	}
	return decisions
}

func withinThreshold(distanceKm *float64, cfg models.AlertConfig) bool {
	if cfg.ReferenceLocation == nil {
		return true
	}
	if distanceKm == nil {
		return false
	}
	return *distanceKm <= cfg.DistanceThresholdKm
}

// Candidate returns the candidate decision, if any.
func Candidate(decisions []Decision) (Decision, bool) {
	for _, d := range decisions {
		if d.Candidate {
			return d, true
		}
	}
	return Decision{}, false
}
