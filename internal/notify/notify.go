// Package notify is the port between the poll pipeline and whatever presents
// alerts to the user. The pipeline only emits Notification values; sinks own
// sound playback, toasts, map navigation and delivery.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/quakewatch/internal/geo"
	"github.com/rewired-gh/quakewatch/internal/logger"
	"github.com/rewired-gh/quakewatch/internal/models"
)

// Kind classifies a notification.
type Kind string

const (
	KindNewQuake       Kind = "new_quake"
	KindQuakesUpdated  Kind = "quakes_updated"
	KindFetchFailed    Kind = "fetch_failed"
	KindFetchRecovered Kind = "fetch_recovered"
)

// Notification is one presentation request.
type Notification struct {
	ID           string        `json:"id"`
	Kind         Kind          `json:"kind"`
	Quake        *models.Quake `json:"quake,omitempty"`
	DistanceKm   *float64      `json:"distance_km,omitempty"`
	PlaySound    bool          `json:"play_sound,omitempty"`
	FlyTo        bool          `json:"fly_to,omitempty"`
	UpdatedCount int           `json:"updated_count,omitempty"`
	Error        string        `json:"error,omitempty"`
	At           time.Time     `json:"at"`
}

// NewQuake builds the notification for a newly detected quake.
func NewQuake(q models.Quake, distanceKm *float64, cfg models.AlertConfig, at time.Time) Notification {
	return Notification{
		ID:         uuid.New().String(),
		Kind:       KindNewQuake,
		Quake:      &q,
		DistanceKm: distanceKm,
		PlaySound:  cfg.SoundEnabled,
		FlyTo:      cfg.AutoPan,
		At:         at,
	}
}

// QuakesUpdated builds the notification for a batch of updated quakes.
func QuakesUpdated(count int, at time.Time) Notification {
	return Notification{ID: uuid.New().String(), Kind: KindQuakesUpdated, UpdatedCount: count, At: at}
}

// FetchFailed builds the notification for the first failure of a streak.
func FetchFailed(err error, at time.Time) Notification {
	return Notification{ID: uuid.New().String(), Kind: KindFetchFailed, Error: err.Error(), At: at}
}

// FetchRecovered builds the notification for the first success after failures.
func FetchRecovered(at time.Time) Notification {
	return Notification{ID: uuid.New().String(), Kind: KindFetchRecovered, At: at}
}

// Summary renders a one-line human description.
func (n Notification) Summary() string {
	switch n.Kind {
	case KindNewQuake:
		if n.Quake == nil {
			return "New earthquake detected"
		}
		s := fmt.Sprintf("M%.1f earthquake: %s", n.Quake.Magnitude, n.Quake.Place)
		if n.DistanceKm != nil {
			s += fmt.Sprintf(" (%s away)", geo.FormatDistance(*n.DistanceKm))
		}
		return s
	case KindQuakesUpdated:
		if n.UpdatedCount == 1 {
			return "1 earthquake was updated"
		}
		return fmt.Sprintf("%d earthquakes were updated", n.UpdatedCount)
	case KindFetchFailed:
		return "Failed to fetch earthquake data: " + n.Error
	case KindFetchRecovered:
		return "Earthquake feed is reachable again"
	default:
		return string(n.Kind)
	}
}

// Sink presents notifications.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f SinkFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Multi delivers to every sink in order. A failing sink does not stop the
// others; failures are logged and returned joined.
type Multi []Sink

// Notify fans n out.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, n); err != nil {
			logger.Warn("Notification sink %T failed for %s: %v", s, n.Kind, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes notifications to the application log.
type LogSink struct{}

// Notify logs n.
func (LogSink) Notify(_ context.Context, n Notification) error {
	switch n.Kind {
	case KindFetchFailed:
		logger.Warn("%s", n.Summary())
	default:
		logger.Info("%s", n.Summary())
	}
	return nil
}
