package models

import (
	"errors"
	"time"
)

// ChangeRecord is one detected field-level difference between two versions of
// the same quake. Records are immutable once created.
type ChangeRecord struct {
	QuakeID   string    `json:"quake_id"`
	Property  string    `json:"property"`
	OldValue  any       `json:"old_value"`
	NewValue  any       `json:"new_value"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks that all change fields are valid
func (c *ChangeRecord) Validate() error {
	if c.QuakeID == "" {
		return errors.New("quake ID must not be empty")
	}
	if c.Property == "" {
		return errors.New("property must not be empty")
	}
	if c.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	return nil
}

// AlertEvent is an ephemeral "newly detected" marker for one quake.
type AlertEvent struct {
	ID         string    `json:"id"`
	QuakeID    string    `json:"quake_id"`
	DetectedAt time.Time `json:"detected_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AlertConfig gates notification side effects. ReferenceLocation is nil when
// no location is known, which disables distance gating.
type AlertConfig struct {
	Enabled             bool      `json:"enabled"`
	SoundEnabled        bool      `json:"sound_enabled"`
	DistanceThresholdKm float64   `json:"distance_threshold_km"`
	ReferenceLocation   *Location `json:"reference_location,omitempty"`
	AutoPan             bool      `json:"auto_pan"`
}
