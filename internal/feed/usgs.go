package feed

import (
	"context"
	"fmt"
	"math"
	"time"

	geojson "github.com/paulmach/go.geojson"

	"github.com/rewired-gh/quakewatch/internal/models"
)

// USGSSource reads a USGS GeoJSON summary feed, e.g. all_day.geojson.
type USGSSource struct {
	client   *Client
	url      string
	removals bool
}

// NewUSGSSource creates a USGS adapter for url.
func NewUSGSSource(client *Client, url string, treatAbsenceAsRemoval bool) *USGSSource {
	return &USGSSource{client: client, url: url, removals: treatAbsenceAsRemoval}
}

// Name returns the adapter name.
func (s *USGSSource) Name() string { return "usgs" }

// ReportsRemovals reports whether absence from the feed means deletion.
func (s *USGSSource) ReportsRemovals() bool { return s.removals }

// Fetch retrieves and converts the feed.
func (s *USGSSource) Fetch(ctx context.Context) ([]models.Quake, error) {
	body, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch usgs feed: %w", err)
	}
	return ParseUSGS(body)
}

// ParseUSGS converts a GeoJSON FeatureCollection. Features without a point
// geometry keep a nil Location; features without a magnitude get NaN.
func ParseUSGS(data []byte) ([]models.Quake, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode usgs feed: %w", err)
	}

	quakes := make([]models.Quake, 0, len(fc.Features))
	for _, f := range fc.Features {
		quakes = append(quakes, usgsQuake(f))
	}
	return quakes, nil
}

func usgsQuake(f *geojson.Feature) models.Quake {
	p := f.Properties
	q := models.Quake{
		ID:         featureID(f),
		Magnitude:  math.NaN(),
		MagType:    propString(p, "magType"),
		Place:      propString(p, "place"),
		Title:      propString(p, "title"),
		Status:     propString(p, "status"),
		AlertLevel: propString(p, "alert"),
		Network:    propString(p, "net"),
		URL:        propString(p, "url"),
		Source:     "usgs",
	}
	if mag, ok := propFloat(p, "mag"); ok {
		q.Magnitude = mag
	}
	if v, ok := propFloat(p, "tsunami"); ok {
		q.Tsunami = v != 0
	}
	if v, ok := propFloat(p, "felt"); ok {
		q.Felt = int(v)
	}
	if v, ok := propFloat(p, "time"); ok {
		q.Time = time.UnixMilli(int64(v)).UTC()
	}
	if v, ok := propFloat(p, "updated"); ok {
		q.Updated = time.UnixMilli(int64(v)).UTC()
	}

	if f.Geometry != nil && f.Geometry.IsPoint() && len(f.Geometry.Point) >= 2 {
		q.Location = &models.Location{Lat: f.Geometry.Point[1], Lon: f.Geometry.Point[0]}
		if len(f.Geometry.Point) >= 3 {
			q.Depth = f.Geometry.Point[2]
		}
	}
	return q
}

func featureID(f *geojson.Feature) string {
	switch id := f.ID.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

// propString returns a string property; null and missing yield "".
func propString(p map[string]interface{}, key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

// propFloat returns a numeric property. JSON numbers decode as float64;
// numeric strings are accepted too.
func propFloat(p map[string]interface{}, key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
