package alert

import (
	"sort"
	"sync"

	"github.com/rewired-gh/quakewatch/internal/models"
)

// TsunamiWatch filters quakes carrying a tsunami flag, minus those the user
// dismissed. Dismissals last for the process lifetime.
type TsunamiWatch struct {
	dismissed map[string]bool
	mu        sync.RWMutex
}

// NewTsunamiWatch creates a watch with no dismissals.
func NewTsunamiWatch() *TsunamiWatch {
	return &TsunamiWatch{dismissed: make(map[string]bool)}
}

// Active returns flagged, undismissed quakes, most recent first.
func (w *TsunamiWatch) Active(quakes []models.Quake) []models.Quake {
	w.mu.RLock()
	out := make([]models.Quake, 0)
	for _, q := range quakes {
		if q.Tsunami && !w.dismissed[q.ID] {
			out = append(out, q)
		}
	}
	w.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.After(out[j].Time)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Dismiss hides the warning for id.
func (w *TsunamiWatch) Dismiss(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dismissed[id] = true
}

// IsDismissed reports whether id was dismissed.
func (w *TsunamiWatch) IsDismissed(id string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dismissed[id]
}
