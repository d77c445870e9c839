package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rewired-gh/quakewatch/internal/models"
)

// TimeUnit is the epoch unit of a flat feed's timestamps.
type TimeUnit int

const (
	Milliseconds TimeUnit = iota
	Seconds
)

// ParseTimeUnit maps "seconds" or "milliseconds" to a TimeUnit.
func ParseTimeUnit(s string) (TimeUnit, error) {
	switch s {
	case "", "milliseconds", "ms":
		return Milliseconds, nil
	case "seconds", "s":
		return Seconds, nil
	default:
		return 0, fmt.Errorf("unknown time unit: %s", s)
	}
}

func (u TimeUnit) toTime(v float64) time.Time {
	if u == Seconds {
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	return time.UnixMilli(int64(v)).UTC()
}

// flatStatusLabels resolves the numeric review status codes of flat feeds.
var flatStatusLabels = map[int]string{
	0: "automatic",
	1: "reviewed",
	2: "deleted",
}

// FlatStatusLabel returns the label for a numeric status code.
func FlatStatusLabel(code int) string {
	if label, ok := flatStatusLabels[code]; ok {
		return label
	}
	return "unknown"
}

// flatRecord is one entry of a flat feed. Optional numerics are pointers so
// a missing value is distinguishable from zero.
type flatRecord struct {
	ID        string          `json:"_id"`
	Magnitude *float64        `json:"magnitude"`
	MagType   string          `json:"magType"`
	Latitude  *float64        `json:"latitude"`
	Longitude *float64        `json:"longitude"`
	Depth     float64         `json:"depth"`
	Place     string          `json:"place"`
	Status    json.RawMessage `json:"status"`
	Alert     string          `json:"alert"`
	Time      float64         `json:"time"`
	Updated   float64         `json:"updated"`
	Tsunami   int             `json:"tsunami"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	URL       string          `json:"url"`
}

// FlatSource reads a provider that returns a JSON array of flat records
// (optionally wrapped as {"data": [...]}).
type FlatSource struct {
	client   *Client
	url      string
	unit     TimeUnit
	removals bool
}

// NewFlatSource creates a flat adapter for url.
func NewFlatSource(client *Client, url string, unit TimeUnit, treatAbsenceAsRemoval bool) *FlatSource {
	return &FlatSource{client: client, url: url, unit: unit, removals: treatAbsenceAsRemoval}
}

// Name returns the adapter name.
func (s *FlatSource) Name() string { return "flat" }

// ReportsRemovals reports whether absence from the feed means deletion.
func (s *FlatSource) ReportsRemovals() bool { return s.removals }

// Fetch retrieves and converts the feed.
func (s *FlatSource) Fetch(ctx context.Context) ([]models.Quake, error) {
	body, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch flat feed: %w", err)
	}
	return ParseFlat(body, s.unit)
}

// ParseFlat converts a flat feed body.
func ParseFlat(data []byte, unit TimeUnit) ([]models.Quake, error) {
	var records []flatRecord
	if err := json.Unmarshal(data, &records); err != nil {
		var wrapped struct {
			Data []flatRecord `json:"data"`
		}
		if werr := json.Unmarshal(data, &wrapped); werr != nil {
			return nil, fmt.Errorf("failed to decode flat feed: %w", err)
		}
		records = wrapped.Data
	}

	quakes := make([]models.Quake, 0, len(records))
	for _, r := range records {
		quakes = append(quakes, r.quake(unit))
	}
	return quakes, nil
}

func (r flatRecord) quake(unit TimeUnit) models.Quake {
	q := models.Quake{
		ID:         r.ID,
		Magnitude:  math.NaN(),
		MagType:    r.MagType,
		Place:      r.Place,
		Status:     flatStatus(r.Status),
		AlertLevel: r.Alert,
		Tsunami:    r.Tsunami == 1,
		Depth:      r.Depth,
		URL:        r.URL,
		Network:    r.Source,
		Source:     "flat",
	}
	if r.Magnitude != nil {
		q.Magnitude = *r.Magnitude
	}
	if r.Latitude != nil && r.Longitude != nil {
		q.Location = &models.Location{Lat: *r.Latitude, Lon: *r.Longitude}
	}
	if r.Time > 0 {
		q.Time = unit.toTime(r.Time)
	}
	if r.Updated > 0 {
		q.Updated = unit.toTime(r.Updated)
	}
	if r.Type != "" && r.Place != "" {
		q.Title = fmt.Sprintf("M %.1f %s - %s", q.Magnitude, r.Type, r.Place)
	}
	return q
}

// flatStatus accepts a numeric code, a numeric string, or a label.
func flatStatus(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var code int
	if err := json.Unmarshal(raw, &code); err == nil {
		return FlatStatusLabel(code)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return FlatStatusLabel(n)
		}
		return s
	}
	return ""
}
