package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rewired-gh/quakewatch/internal/alert"
	"github.com/rewired-gh/quakewatch/internal/api/respond"
	"github.com/rewired-gh/quakewatch/internal/geo"
	"github.com/rewired-gh/quakewatch/internal/history"
	"github.com/rewired-gh/quakewatch/internal/models"
	"github.com/rewired-gh/quakewatch/internal/monitor"
	"github.com/rewired-gh/quakewatch/internal/settings"
	"github.com/rewired-gh/quakewatch/internal/snapshot"
	"github.com/rewired-gh/quakewatch/internal/view"
)

const maxBodyBytes = 1 << 20

// Poller is the part of the poll scheduler the API drives.
type Poller interface {
	Trigger(ctx context.Context) error
	Status() monitor.Status
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	snapshot *snapshot.Store
	ledger   *history.Ledger
	settings *settings.Manager
	tracker  *alert.Tracker
	tsunami  *alert.TsunamiWatch
	poller   Poller
}

// HealthCheck returns basic health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ListQuakes serves the filtered, sorted and annotated quake list.
func (h *Handler) ListQuakes(w http.ResponseWriter, r *http.Request) {
	q, err := view.ParseQuery(r.URL.Query())
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidQuery, err.Error())
		return
	}

	ref := h.settings.ReferenceLocation()
	items := view.Project(h.snapshot.Get(), q, ref, h.ledger.Counts(), h.tracker.ActiveSet())

	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":              len(items),
		"query":              q,
		"reference_location": ref,
		"quakes":             items,
	})
}

// GetQuake serves one quake with its change history.
func (h *Handler) GetQuake(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	quake, ok := h.snapshot.Lookup(id)
	if !ok {
		respond.WriteError(w, http.StatusNotFound, respond.CodeNotFound, "quake not found: "+id)
		return
	}

	records := h.ledger.Entries(id)
	item := view.Item{
		Quake:       quake,
		DistanceKm:  geo.DistancePtr(h.settings.ReferenceLocation(), quake.Location),
		UpdateCount: len(records),
		IsNew:       h.tracker.IsActive(id),
	}
	if records == nil {
		records = []models.ChangeRecord{}
	}

	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"quake":   item,
		"history": records,
	})
}

// GetHistory serves the whole change history ledger.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries := h.ledger.All()
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"quakes":    len(entries),
		"records":   entries.Records(),
		"retention": h.ledger.Retention().String(),
		"entries":   entries,
	})
}

// GetStatistics serves the magnitude histogram for all and filtered quakes.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	q, err := view.ParseQuery(r.URL.Query())
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidQuery, err.Error())
		return
	}
	snap := h.snapshot.Get()
	respond.WriteJSON(w, http.StatusOK, view.Statistics(snap.Quakes(), view.Filter(snap, q)))
}

// ListAlerts serves the active "new" markers.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": h.tracker.Active(),
	})
}

// ListTsunamiWarnings serves undismissed tsunami warnings.
func (h *Handler) ListTsunamiWarnings(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"warnings": h.tsunami.Active(h.snapshot.List()),
	})
}

// DismissTsunamiWarning hides the warning for one quake.
func (h *Handler) DismissTsunamiWarning(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.snapshot.Lookup(id); !ok {
		respond.WriteError(w, http.StatusNotFound, respond.CodeNotFound, "quake not found: "+id)
		return
	}
	h.tsunami.Dismiss(id)
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings serves the current settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, h.settings.View())
}

type settingsPatch struct {
	Enabled             *bool    `json:"enabled"`
	SoundEnabled        *bool    `json:"sound_enabled"`
	AutoPan             *bool    `json:"auto_pan"`
	DistanceThresholdKm *float64 `json:"distance_threshold_km"`
	MapLayer            *string  `json:"map_layer"`
}

// PatchSettings applies the fields present in the body. Nothing is applied
// when any field is invalid.
func (h *Handler) PatchSettings(w http.ResponseWriter, r *http.Request) {
	var p settingsPatch
	if err := decodeBody(w, r, &p); err != nil {
		respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidBody, err.Error())
		return
	}
	if p.DistanceThresholdKm != nil && !settings.ValidThreshold(*p.DistanceThresholdKm) {
		respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidSetting, settings.ErrInvalidThreshold.Error())
		return
	}
	if p.MapLayer != nil && !settings.KnownLayer(*p.MapLayer) {
		respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidSetting, settings.ErrUnknownLayer.Error()+": "+*p.MapLayer)
		return
	}

	ctx := r.Context()
	if p.Enabled != nil {
		h.settings.SetEnabled(ctx, *p.Enabled)
	}
	if p.SoundEnabled != nil {
		h.settings.SetSoundEnabled(ctx, *p.SoundEnabled)
	}
	if p.AutoPan != nil {
		h.settings.SetAutoPan(ctx, *p.AutoPan)
	}
	if p.DistanceThresholdKm != nil {
		_ = h.settings.SetDistanceThreshold(ctx, *p.DistanceThresholdKm)
	}
	if p.MapLayer != nil {
		_ = h.settings.SetMapLayer(ctx, *p.MapLayer)
	}

	respond.WriteJSON(w, http.StatusOK, h.settings.View())
}

type locationRequest struct {
	Mode settings.LocationMode `json:"mode"`
	Lat  *float64              `json:"lat"`
	Lng  *float64              `json:"lng"`
}

// PutLocation switches the reference location mode.
func (h *Handler) PutLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeBody(w, r, &req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidBody, err.Error())
		return
	}

	ctx := r.Context()
	switch req.Mode {
	case settings.ModeOff:
		h.settings.ClearLocation(ctx)
	case settings.ModeCustom:
		if req.Lat == nil || req.Lng == nil {
			respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidSetting, "lat and lng are required for custom mode")
			return
		}
		if err := h.settings.SetCustomLocation(ctx, *req.Lat, *req.Lng); err != nil {
			respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidSetting, err.Error())
			return
		}
	case settings.ModeCurrent:
		if err := h.settings.UseCurrentLocation(ctx); err != nil {
			if errors.Is(err, settings.ErrNoProvider) {
				respond.WriteError(w, http.StatusConflict, respond.CodeUnavailable, err.Error())
				return
			}
			// The failure is recorded in the location status.
			respond.WriteJSON(w, http.StatusOK, h.settings.Location())
			return
		}
	default:
		respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidSetting, "mode must be off, custom or current")
		return
	}

	respond.WriteJSON(w, http.StatusOK, h.settings.Location())
}

// TriggerPoll starts a poll cycle.
func (h *Handler) TriggerPoll(w http.ResponseWriter, r *http.Request) {
	err := h.poller.Trigger(r.Context())
	switch {
	case err == nil:
		respond.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, monitor.ErrBusy):
		respond.WriteError(w, http.StatusConflict, respond.CodePollInProgress, err.Error())
	case errors.Is(err, monitor.ErrStopped):
		respond.WriteError(w, http.StatusServiceUnavailable, respond.CodeUnavailable, err.Error())
	default:
		respond.WriteError(w, http.StatusInternalServerError, respond.CodeInternal, err.Error())
	}
}

// GetStatus serves the poll scheduler status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, h.poller.Status())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
