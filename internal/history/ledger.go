package history

import (
	"context"
	"sync"
	"time"

	"github.com/rewired-gh/quakewatch/internal/logger"
	"github.com/rewired-gh/quakewatch/internal/models"
	"github.com/rewired-gh/quakewatch/internal/storage"
)

// Ledger is the process-wide change history. Every mutation persists the full
// ledger to the injected store; persistence failures are logged and the
// in-memory state stays authoritative.
type Ledger struct {
	entries   Entries
	loaded    bool
	mu        sync.RWMutex
	writeMu   sync.Mutex // orders mutate+persist sequences
	store     storage.Store
	retention time.Duration
}

// NewLedger creates an empty, unloaded ledger. A non-positive retention
// selects DefaultRetention.
func NewLedger(store storage.Store, retention time.Duration) *Ledger {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Ledger{
		entries:   Entries{},
		store:     store,
		retention: retention,
	}
}

// Retention returns the configured maximum record age.
func (l *Ledger) Retention() time.Duration {
	return l.retention
}

// Load replaces the in-memory ledger with the persisted one, pruned as of now.
// Any storage or decode failure degrades to an empty ledger.
func (l *Ledger) Load(ctx context.Context, now time.Time) {
	entries := Entries{}

	raw, ok, err := l.store.Get(ctx, storage.KeyHistoryLedger)
	switch {
	case err != nil:
		logger.Warn("Failed to read history ledger, starting empty: %v", err)
	case ok && raw != "":
		decoded, err := Decode(raw)
		if err != nil {
			logger.Warn("Failed to decode history ledger, starting empty: %v", err)
		} else {
			entries = decoded.Prune(now, l.retention)
		}
	}

	l.mu.Lock()
	l.entries = entries
	l.loaded = true
	l.mu.Unlock()

	logger.Debug("History ledger loaded: %d quakes, %d records", len(entries), entries.Records())
}

// Loaded reports whether Load has completed.
func (l *Ledger) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

// Append adds changes to the sequence for key and persists the ledger.
// An empty changes slice is a no-op.
func (l *Ledger) Append(ctx context.Context, key string, changes []models.ChangeRecord) {
	if len(changes) == 0 {
		return
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	l.entries[key] = append(l.entries[key], changes...)
	snapshot := l.entries.Clone()
	l.mu.Unlock()

	l.persist(ctx, snapshot)
}

// AppendAll appends every key of changes and persists the ledger once.
func (l *Ledger) AppendAll(ctx context.Context, order []string, changes map[string][]models.ChangeRecord) int {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	n := 0
	for _, key := range order {
		records := changes[key]
		if len(records) == 0 {
			continue
		}
		l.entries[key] = append(l.entries[key], records...)
		n += len(records)
	}
	var snapshot Entries
	if n > 0 {
		snapshot = l.entries.Clone()
	}
	l.mu.Unlock()

	if n > 0 {
		l.persist(ctx, snapshot)
	}
	return n
}

// Evict removes records older than the retention as of now, persists the
// result and returns the number of records removed.
func (l *Ledger) Evict(ctx context.Context, now time.Time) int {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	before := l.entries.Records()
	l.entries = l.entries.Prune(now, l.retention)
	removed := before - l.entries.Records()
	snapshot := l.entries.Clone()
	l.mu.Unlock()

	l.persist(ctx, snapshot)
	if removed > 0 {
		logger.Info("Evicted %d history records older than %v", removed, l.retention)
	}
	return removed
}

// Entries returns a copy of the records for key.
func (l *Ledger) Entries(key string) []models.ChangeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.ChangeRecord(nil), l.entries[key]...)
}

// Count returns the number of records for key.
func (l *Ledger) Count(key string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries[key])
}

// Counts returns the record count of every key.
func (l *Ledger) Counts() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]int, len(l.entries))
	for key, records := range l.entries {
		out[key] = len(records)
	}
	return out
}

// All returns a deep copy of the whole ledger.
func (l *Ledger) All() Entries {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries.Clone()
}

// Len returns the number of quakes with at least one record.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Ledger) persist(ctx context.Context, entries Entries) {
	raw, err := Encode(entries)
	if err != nil {
		logger.Error("Failed to encode history ledger: %v", err)
		return
	}
	if err := l.store.Set(ctx, storage.KeyHistoryLedger, raw); err != nil {
		logger.Error("Failed to persist history ledger: %v", err)
	}
}
