// Package storage provides the durable key-value persistence port used for the
// change history ledger and user preferences.
//
// Values are opaque strings. Callers treat storage as a best-effort cache: a
// failed read yields defaults and a failed write is logged, never propagated
// into the poll cycle.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewired-gh/quakewatch/internal/config"
)

// Well-known keys.
const (
	KeyHistoryLedger      = "history.ledger"
	KeyAlertsEnabled      = "alerts.enabled"
	KeyAlertsSoundEnabled = "alerts.sound_enabled"
	KeyAlertsThresholdKm  = "alerts.distance_threshold_km"
	KeyAlertsAutoPan      = "alerts.auto_pan"
	KeyLocationMode       = "location.mode"
	KeyLocationCustomLat  = "location.custom_lat"
	KeyLocationCustomLng  = "location.custom_lng"
	KeyMapLayer           = "map.layer"
)

// ErrClosed is returned by operations on a store after Close.
var ErrClosed = errors.New("storage: store is closed")

// Store is a string key-value persistence surface.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "file":
		return NewFileStore(cfg.Path, cfg.FilePermissions, cfg.DirPermissions)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.Path)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}
