// Package settings owns the process-wide alert configuration and user
// preferences. Values are loaded once from storage at startup, changed only
// through explicit user actions, and persisted on every change.
package settings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/rewired-gh/quakewatch/internal/geoloc"
	"github.com/rewired-gh/quakewatch/internal/logger"
	"github.com/rewired-gh/quakewatch/internal/models"
	"github.com/rewired-gh/quakewatch/internal/storage"
)

// LocationMode selects where the reference location comes from.
type LocationMode string

const (
	ModeOff     LocationMode = "off"
	ModeCustom  LocationMode = "custom"
	ModeCurrent LocationMode = "current"
)

// Threshold bounds in kilometres.
const (
	MinThresholdKm = 1
	MaxThresholdKm = 20000
)

// DefaultMapLayer is used until the user picks another layer.
const DefaultMapLayer = "osm"

// MapLayers lists the layer IDs a renderer understands.
var MapLayers = []string{"osm", "satellite", "google-satellite", "google-hybrid", "google-terrain", "terrain", "dark", "light"}

var (
	ErrInvalidLocation  = errors.New("settings: latitude must be in [-90, 90] and longitude in [-180, 180]")
	ErrInvalidThreshold = fmt.Errorf("settings: distance threshold must be between %d and %d km", MinThresholdKm, MaxThresholdKm)
	ErrUnknownLayer     = errors.New("settings: unknown map layer")
	ErrNoProvider       = errors.New("settings: no geolocation provider configured")
)

// Defaults seeds every value missing from storage.
type Defaults struct {
	Alerts   models.AlertConfig
	Mode     LocationMode
	Custom   *models.Location
	MapLayer string
}

// LocationState describes the reference location as shown to the user.
type LocationState struct {
	Mode      LocationMode     `json:"mode"`
	Status    geoloc.Status    `json:"status"`
	Reference *models.Location `json:"reference,omitempty"`
	Custom    *models.Location `json:"custom,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// View is a consistent copy of all settings.
type View struct {
	Alerts   models.AlertConfig `json:"alerts"`
	Location LocationState      `json:"location"`
	MapLayer string             `json:"map_layer"`
}

// Manager holds the live settings. It is safe for concurrent use.
type Manager struct {
	store    storage.Store
	provider geoloc.Provider

	cfg     models.AlertConfig // ReferenceLocation unused; derived from mode
	mode    LocationMode
	custom  *models.Location
	current *models.Location
	status  geoloc.Status
	lastErr error
	layer   string

	sub      geoloc.Subscription
	watchGen uint64
	watchCtx context.Context
	stop     context.CancelFunc

	mu        sync.RWMutex
	persistMu sync.Mutex
}

// New creates a manager holding defaults. provider may be nil, in which case
// the current-location mode is unavailable.
func New(store storage.Store, provider geoloc.Provider, defaults Defaults) *Manager {
	watchCtx, stop := context.WithCancel(context.Background())
	m := &Manager{
		store:    store,
		provider: provider,
		cfg:      defaults.Alerts,
		mode:     defaults.Mode,
		custom:   defaults.Custom,
		status:   geoloc.StatusIdle,
		layer:    defaults.MapLayer,
		watchCtx: watchCtx,
		stop:     stop,
	}
	m.cfg.ReferenceLocation = nil
	if m.mode == "" {
		m.mode = ModeOff
	}
	if m.layer == "" {
		m.layer = DefaultMapLayer
	}
	if m.mode == ModeCustom && m.custom != nil {
		m.status = geoloc.StatusSuccess
	}
	return m
}

// Load overlays persisted values on the defaults and starts the location
// watch when the persisted mode is current. Unreadable values keep their
// defaults.
func (m *Manager) Load(ctx context.Context) {
	m.mu.Lock()
	if v, ok := m.getBool(ctx, storage.KeyAlertsEnabled); ok {
		m.cfg.Enabled = v
	}
	if v, ok := m.getBool(ctx, storage.KeyAlertsSoundEnabled); ok {
		m.cfg.SoundEnabled = v
	}
	if v, ok := m.getBool(ctx, storage.KeyAlertsAutoPan); ok {
		m.cfg.AutoPan = v
	}
	if v, ok := m.getFloat(ctx, storage.KeyAlertsThresholdKm); ok && ValidThreshold(v) {
		m.cfg.DistanceThresholdKm = v
	}
	if v, ok := m.getString(ctx, storage.KeyMapLayer); ok && KnownLayer(v) {
		m.layer = v
	}
	lat, latOK := m.getFloat(ctx, storage.KeyLocationCustomLat)
	lng, lngOK := m.getFloat(ctx, storage.KeyLocationCustomLng)
	if latOK && lngOK {
		loc := models.Location{Lat: lat, Lon: lng}
		if loc.Validate() == nil {
			m.custom = &loc
		}
	}
	if v, ok := m.getString(ctx, storage.KeyLocationMode); ok {
		switch LocationMode(v) {
		case ModeOff, ModeCustom, ModeCurrent:
			m.mode = LocationMode(v)
		default:
			logger.Warn("Ignoring unknown persisted location mode %q", v)
		}
	}
	if m.mode == ModeCustom && m.custom == nil {
		m.mode = ModeOff
	}
	m.status = geoloc.StatusIdle
	if m.mode == ModeCustom {
		m.status = geoloc.StatusSuccess
	}
	mode := m.mode
	m.mu.Unlock()

	if mode == ModeCurrent {
		if err := m.UseCurrentLocation(ctx); err != nil {
			logger.Warn("Cannot resume current-location mode: %v", err)
		}
	}
}

// AlertConfig returns the configuration the alert policy should apply, with
// the reference location resolved from the active mode.
func (m *Manager) AlertConfig() models.AlertConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := m.cfg
	cfg.ReferenceLocation = m.referenceLocked()
	return cfg
}

// ReferenceLocation returns the active reference location, or nil.
func (m *Manager) ReferenceLocation() *models.Location {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.referenceLocked()
}

func (m *Manager) referenceLocked() *models.Location {
	var ref *models.Location
	switch m.mode {
	case ModeCustom:
		ref = m.custom
	case ModeCurrent:
		ref = m.current
	}
	if ref == nil {
		return nil
	}
	cp := *ref
	return &cp
}

// Location returns the reference location state.
func (m *Manager) Location() LocationState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locationLocked()
}

func (m *Manager) locationLocked() LocationState {
	st := LocationState{
		Mode:      m.mode,
		Status:    m.status,
		Reference: m.referenceLocked(),
	}
	if m.custom != nil {
		cp := *m.custom
		st.Custom = &cp
	}
	if m.lastErr != nil {
		st.Error = m.lastErr.Error()
	}
	return st
}

// MapLayer returns the selected map layer ID.
func (m *Manager) MapLayer() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.layer
}

// View returns a consistent copy of every setting.
func (m *Manager) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := m.cfg
	cfg.ReferenceLocation = m.referenceLocked()
	return View{Alerts: cfg, Location: m.locationLocked(), MapLayer: m.layer}
}

// SetEnabled turns alert notifications on or off.
func (m *Manager) SetEnabled(ctx context.Context, enabled bool) {
	m.mu.Lock()
	m.cfg.Enabled = enabled
	m.mu.Unlock()
	m.persist(ctx, storage.KeyAlertsEnabled, strconv.FormatBool(enabled))
}

// SetSoundEnabled turns alert sounds on or off.
func (m *Manager) SetSoundEnabled(ctx context.Context, enabled bool) {
	m.mu.Lock()
	m.cfg.SoundEnabled = enabled
	m.mu.Unlock()
	m.persist(ctx, storage.KeyAlertsSoundEnabled, strconv.FormatBool(enabled))
}

// SetAutoPan turns map navigation to new quakes on or off.
func (m *Manager) SetAutoPan(ctx context.Context, enabled bool) {
	m.mu.Lock()
	m.cfg.AutoPan = enabled
	m.mu.Unlock()
	m.persist(ctx, storage.KeyAlertsAutoPan, strconv.FormatBool(enabled))
}

// SetDistanceThreshold sets the notification radius in kilometres.
func (m *Manager) SetDistanceThreshold(ctx context.Context, km float64) error {
	if !ValidThreshold(km) {
		return ErrInvalidThreshold
	}
	m.mu.Lock()
	m.cfg.DistanceThresholdKm = km
	m.mu.Unlock()
	m.persist(ctx, storage.KeyAlertsThresholdKm, formatFloat(km))
	return nil
}

// SetMapLayer selects a map layer by ID.
func (m *Manager) SetMapLayer(ctx context.Context, id string) error {
	if !KnownLayer(id) {
		return fmt.Errorf("%w: %s", ErrUnknownLayer, id)
	}
	m.mu.Lock()
	m.layer = id
	m.mu.Unlock()
	m.persist(ctx, storage.KeyMapLayer, id)
	return nil
}

// SetCustomLocation switches to a fixed reference location, ending any
// current-location watch.
func (m *Manager) SetCustomLocation(ctx context.Context, lat, lng float64) error {
	loc := models.Location{Lat: lat, Lon: lng}
	if loc.Validate() != nil {
		return ErrInvalidLocation
	}

	m.mu.Lock()
	m.unsubscribeLocked()
	m.mode = ModeCustom
	m.custom = &loc
	m.current = nil
	m.status = geoloc.StatusSuccess
	m.lastErr = nil
	m.mu.Unlock()

	m.persist(ctx,
		storage.KeyLocationCustomLat, formatFloat(lat),
		storage.KeyLocationCustomLng, formatFloat(lng),
		storage.KeyLocationMode, string(ModeCustom),
	)
	logger.Info("Reference location set to %.4f, %.4f", lat, lng)
	return nil
}

// ClearLocation disables distance gating and ends any location watch. The
// saved custom location is kept for later use.
func (m *Manager) ClearLocation(ctx context.Context) {
	m.mu.Lock()
	m.unsubscribeLocked()
	m.mode = ModeOff
	m.current = nil
	m.status = geoloc.StatusIdle
	m.lastErr = nil
	m.mu.Unlock()

	m.persist(ctx, storage.KeyLocationMode, string(ModeOff))
}

// UseCurrentLocation subscribes to the geolocation provider. Until the first
// update arrives the status is loading and no reference location is set. A
// provider failure switches the mode off, records the error, and is not
// retried.
func (m *Manager) UseCurrentLocation(ctx context.Context) error {
	if m.provider == nil {
		m.fail(ctx, 0, ErrNoProvider)
		return ErrNoProvider
	}

	m.mu.Lock()
	m.unsubscribeLocked()
	m.watchGen++
	gen := m.watchGen
	m.mode = ModeCurrent
	m.current = nil
	m.status = geoloc.StatusLoading
	m.lastErr = nil
	m.mu.Unlock()

	m.persist(ctx, storage.KeyLocationMode, string(ModeCurrent))

	sub, err := m.provider.Watch(m.watchCtx,
		func(loc models.Location) { m.update(gen, loc) },
		func(err error) { m.fail(context.Background(), gen, err) },
	)
	if err != nil {
		m.fail(ctx, gen, err)
		return fmt.Errorf("failed to start location watch: %w", err)
	}

	m.mu.Lock()
	if m.watchGen == gen && m.mode == ModeCurrent {
		m.sub = sub
		sub = nil
	}
	m.mu.Unlock()
	if sub != nil {
		// Superseded while starting.
		sub.Unsubscribe()
	}
	return nil
}

func (m *Manager) update(gen uint64, loc models.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.watchGen || m.mode != ModeCurrent {
		return
	}
	first := m.current == nil
	m.current = &loc
	m.status = geoloc.StatusSuccess
	if first {
		logger.Info("Current location acquired: %.4f, %.4f", loc.Lat, loc.Lon)
	}
}

// fail handles a geolocation error for watch gen; gen 0 matches any.
func (m *Manager) fail(ctx context.Context, gen uint64, err error) {
	m.mu.Lock()
	if gen != 0 && (gen != m.watchGen || m.mode != ModeCurrent) {
		m.mu.Unlock()
		return
	}
	m.unsubscribeLocked()
	m.mode = ModeOff
	m.current = nil
	m.status = geoloc.StatusError
	m.lastErr = err
	m.mu.Unlock()

	logger.Warn("Geolocation failed, distance gating disabled: %v", err)
	m.persist(ctx, storage.KeyLocationMode, string(ModeOff))
}

func (m *Manager) unsubscribeLocked() {
	m.watchGen++
	if m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
	}
}

// Close ends any location watch.
func (m *Manager) Close() {
	m.mu.Lock()
	m.unsubscribeLocked()
	m.mu.Unlock()
	m.stop()
}

// persist writes key/value pairs; failures are logged only.
func (m *Manager) persist(ctx context.Context, kv ...string) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	for i := 0; i+1 < len(kv); i += 2 {
		if err := m.store.Set(ctx, kv[i], kv[i+1]); err != nil {
			logger.Error("Failed to persist setting %s: %v", kv[i], err)
		}
	}
}

func (m *Manager) getString(ctx context.Context, key string) (string, bool) {
	v, ok, err := m.store.Get(ctx, key)
	if err != nil {
		logger.Warn("Failed to read setting %s, using default: %v", key, err)
		return "", false
	}
	return v, ok
}

func (m *Manager) getBool(ctx context.Context, key string) (bool, bool) {
	raw, ok := m.getString(ctx, key)
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logger.Warn("Ignoring malformed setting %s=%q", key, raw)
		return false, false
	}
	return v, true
}

func (m *Manager) getFloat(ctx context.Context, key string) (float64, bool) {
	raw, ok := m.getString(ctx, key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		logger.Warn("Ignoring malformed setting %s=%q", key, raw)
		return 0, false
	}
	return v, true
}

// ValidThreshold reports whether km is an accepted distance threshold.
func ValidThreshold(km float64) bool {
	return !math.IsNaN(km) && km >= MinThresholdKm && km <= MaxThresholdKm
}

// KnownLayer reports whether id is one of MapLayers.
func KnownLayer(id string) bool {
	for _, l := range MapLayers {
		if l == id {
			return true
		}
	}
	return false
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
