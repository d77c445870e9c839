// Package feed adapts external seismic feeds to models.Quake.
//
// Each provider schema gets its own adapter behind the Source interface so the
// diff, history and alert pipeline is shared across providers. Adapters never
// fail a whole batch for one bad entry: an entry missing required fields is
// returned as-is and rejected by models.Quake.Validate downstream.
package feed

import (
	"context"
	"fmt"

	"github.com/rewired-gh/quakewatch/internal/config"
	"github.com/rewired-gh/quakewatch/internal/models"
)

// Source fetches the current contents of one feed.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]models.Quake, error)
	// ReportsRemovals is true when absence from the feed means deletion.
	ReportsRemovals() bool
}

// NewFromConfig builds the adapter selected by c.Provider.
func NewFromConfig(c config.FeedConfig) (Source, error) {
	client := NewClient(ClientOptions{
		Timeout:           c.Timeout,
		MaxRetries:        c.MaxRetries,
		RetryDelayBase:    c.RetryDelayBase,
		RequestsPerMinute: c.RequestsPerMinute,
		UserAgent:         c.UserAgent,
	})

	switch c.Provider {
	case "usgs":
		return &USGSSource{client: client, url: c.URL, removals: c.TreatAbsenceAsRemoval}, nil
	case "flat":
		unit, err := ParseTimeUnit(c.TimeUnit)
		if err != nil {
			return nil, err
		}
		return &FlatSource{client: client, url: c.URL, unit: unit, removals: c.TreatAbsenceAsRemoval}, nil
	default:
		return nil, fmt.Errorf("unknown feed provider: %s", c.Provider)
	}
}
