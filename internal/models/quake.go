// Package models defines the core domain entities for the quakewatch application.
// These models represent seismic events, keyed snapshots of a feed, field-level
// change records, and the alert configuration that gates notifications.
// All models include built-in validation to ensure data integrity throughout the application.
//
// Terminology:
//   - Quake: one seismic event record from a feed, identified by a unique key.
//   - Snapshot: the complete keyed collection of quakes as of the last successful poll.
//   - ChangeRecord: one detected field-level difference between two versions of a quake.
package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Location is a geographic point in decimal degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lng"`
}

// Validate checks that the point lies within WGS84 bounds.
func (l Location) Validate() error {
	if math.IsNaN(l.Lat) || l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", l.Lat)
	}
	if math.IsNaN(l.Lon) || l.Lon < -180 || l.Lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", l.Lon)
	}
	return nil
}

// Quake represents a single seismic event reported by a feed provider.
// Quakes are replaced wholesale on every poll and never mutated in place;
// identity across polls is preserved by ID equality.
type Quake struct {
	ID         string    `json:"id"`
	Magnitude  float64   `json:"magnitude"`
	MagType    string    `json:"mag_type,omitempty"`
	Place      string    `json:"place"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status,omitempty"`      // e.g. "automatic", "reviewed"
	AlertLevel string    `json:"alert_level,omitempty"` // PAGER level: green, yellow, orange, red
	Tsunami    bool      `json:"tsunami"`
	Location   *Location `json:"location"` // nil when the feed omitted the point
	Depth      float64   `json:"depth"`    // km
	Time       time.Time `json:"time"`     // observation time
	Updated    time.Time `json:"updated"`  // last modified upstream
	Felt       int       `json:"felt,omitempty"`
	Network    string    `json:"network,omitempty"`
	URL        string    `json:"url,omitempty"`
	Source     string    `json:"source"` // feed adapter name
}

// ErrMissingLocation marks a quake the feed delivered without a geographic point.
var ErrMissingLocation = errors.New("quake has no geographic point")

// Validate checks that all quake fields required by the pipeline are present.
func (q *Quake) Validate() error {
	if q.ID == "" {
		return errors.New("quake ID must not be empty")
	}
	if q.Location == nil {
		return ErrMissingLocation
	}
	if err := q.Location.Validate(); err != nil {
		return err
	}
	if math.IsNaN(q.Magnitude) || math.IsInf(q.Magnitude, 0) {
		return errors.New("magnitude must be a finite number")
	}
	if math.IsNaN(q.Depth) {
		return errors.New("depth must be a number")
	}
	return nil
}
