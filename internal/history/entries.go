// Package history keeps the age-bounded, per-quake ledger of field changes.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rewired-gh/quakewatch/internal/models"
)

// DefaultRetention is how long change records are kept.
const DefaultRetention = 30 * 24 * time.Hour

const ledgerVersion = 1

// Entries maps a quake ID to its change records in chronological order.
// A key is never present with an empty sequence.
type Entries map[string][]models.ChangeRecord

// Prune returns a copy of e without records where now - timestamp >= maxAge.
// Keys left without records are dropped. Prune is idempotent for a fixed now.
func (e Entries) Prune(now time.Time, maxAge time.Duration) Entries {
	out := make(Entries, len(e))
	for key, records := range e {
		kept := make([]models.ChangeRecord, 0, len(records))
		for _, r := range records {
			if now.Sub(r.Timestamp) < maxAge {
				kept = append(kept, r)
			}
		}
		if len(kept) > 0 {
			out[key] = kept
		}
	}
	return out
}

// Clone returns a deep copy of e.
func (e Entries) Clone() Entries {
	out := make(Entries, len(e))
	for key, records := range e {
		out[key] = append([]models.ChangeRecord(nil), records...)
	}
	return out
}

// Records returns the total number of change records.
func (e Entries) Records() int {
	n := 0
	for _, records := range e {
		n += len(records)
	}
	return n
}

type ledgerDocument struct {
	Version int     `json:"version"`
	Entries Entries `json:"entries"`
}

// Encode serializes e to the persisted ledger format.
func Encode(e Entries) (string, error) {
	if e == nil {
		e = Entries{}
	}
	data, err := json.Marshal(ledgerDocument{Version: ledgerVersion, Entries: e})
	if err != nil {
		return "", fmt.Errorf("failed to marshal ledger: %w", err)
	}
	return string(data), nil
}

// Decode parses a persisted ledger. Invalid records and empty keys are dropped.
func Decode(raw string) (Entries, error) {
	var doc ledgerDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger: %w", err)
	}
	if doc.Version != ledgerVersion {
		return nil, fmt.Errorf("unsupported ledger version: %d", doc.Version)
	}

	out := make(Entries, len(doc.Entries))
	for key, records := range doc.Entries {
		kept := make([]models.ChangeRecord, 0, len(records))
		for _, r := range records {
			if r.QuakeID != key || r.Validate() != nil {
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) > 0 {
			out[key] = kept
		}
	}
	return out, nil
}
