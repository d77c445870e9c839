package alert

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/quakewatch/internal/models"
)

// DefaultDisplayDuration is how long a "new" marker stays active.
const DefaultDisplayDuration = 10 * time.Second

type trackedEvent struct {
	event models.AlertEvent
	timer *time.Timer
}

// Tracker holds active alert events. Each event expires on its own timer,
// independent of polling.
type Tracker struct {
	duration time.Duration
	events   map[string]*trackedEvent
	stopped  bool
	mu       sync.Mutex
}

// NewTracker creates a tracker. A non-positive duration selects
// DefaultDisplayDuration.
func NewTracker(duration time.Duration) *Tracker {
	if duration <= 0 {
		duration = DefaultDisplayDuration
	}
	return &Tracker{
		duration: duration,
		events:   make(map[string]*trackedEvent),
	}
}

// Mark creates an active event for quakeID detected at now. Marking a quake
// that is already active restarts its countdown. After Stop, Mark returns the
// event without tracking it.
func (t *Tracker) Mark(quakeID string, now time.Time) models.AlertEvent {
	ev := models.AlertEvent{
		ID:         uuid.New().String(),
		QuakeID:    quakeID,
		DetectedAt: now,
		ExpiresAt:  now.Add(t.duration),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return ev
	}
	if prev, ok := t.events[quakeID]; ok {
		prev.timer.Stop()
	}
	id := ev.ID
	t.events[quakeID] = &trackedEvent{
		event: ev,
		timer: time.AfterFunc(t.duration, func() { t.expire(quakeID, id) }),
	}
	return ev
}

func (t *Tracker) expire(quakeID, eventID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// A re-mark replaces the entry; only the current timer may remove it.
	if cur, ok := t.events[quakeID]; ok && cur.event.ID == eventID {
		delete(t.events, quakeID)
	}
}

// IsActive reports whether quakeID has an active event.
func (t *Tracker) IsActive(quakeID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.events[quakeID]
	return ok
}

// ActiveSet returns the IDs of quakes with an active event.
func (t *Tracker) ActiveSet() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]bool, len(t.events))
	for id := range t.events {
		out[id] = true
	}
	return out
}

// Active returns active events, most recently detected first.
func (t *Tracker) Active() []models.AlertEvent {
	t.mu.Lock()
	out := make([]models.AlertEvent, 0, len(t.events))
	for _, te := range t.events {
		out = append(out, te.event)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.After(out[j].DetectedAt)
		}
		return out[i].QuakeID < out[j].QuakeID
	})
	return out
}

// Stop cancels every pending expiry and clears all events. Further marks are
// not tracked.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, te := range t.events {
		te.timer.Stop()
	}
	t.events = make(map[string]*trackedEvent)
	t.stopped = true
}
