package view

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/quakewatch/internal/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func q(id string, mag, depth float64, age time.Duration, lat, lon float64) models.Quake {
	return models.Quake{
		ID:        id,
		Magnitude: mag,
		Depth:     depth,
		Time:      base.Add(-age),
		Location:  &models.Location{Lat: lat, Lon: lon},
	}
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func sample() models.Snapshot {
	return models.Index([]models.Quake{
		q("a", 2.5, 10, 1*time.Hour, 35.0, 139.0),
		q("b", 6.1, 30, 3*time.Hour, 0.0, 0.0),
		q("c", 4.0, 300, 2*time.Hour, 35.5, 139.5),
		q("d", 7.2, 5, 4*time.Hour, -33.0, -70.0),
	})
}

func TestProject_SortKeys(t *testing.T) {
	ref := &models.Location{Lat: 35.0, Lon: 139.0}
	counts := map[string]int{"b": 3, "c": 1}

	tests := []struct {
		name string
		sort SortKey
		ref  *models.Location
		want []string
	}{
		{"time", SortTime, nil, []string{"a", "c", "b", "d"}},
		{"magnitude", SortMagnitude, nil, []string{"d", "b", "c", "a"}},
		{"depth", SortDepth, nil, []string{"c", "b", "a", "d"}},
		{"distance", SortDistance, ref, []string{"a", "c", "b", "d"}},
		{"distance without reference falls back to time", SortDistance, nil, []string{"a", "c", "b", "d"}},
		{"updates", SortUpdates, nil, []string{"b", "c", "a", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query := DefaultQuery()
			query.Sort = tt.sort
			items := Project(sample(), query, tt.ref, counts, nil)
			assert.Equal(t, tt.want, ids(items))
		})
	}
}

func TestProject_TimePinsActiveAlerts(t *testing.T) {
	items := Project(sample(), DefaultQuery(), nil, nil, map[string]bool{"d": true})
	assert.Equal(t, []string{"d", "a", "c", "b"}, ids(items))
	assert.True(t, items[0].IsNew)

	// Pinning only applies to the time order.
	query := DefaultQuery()
	query.Sort = SortDepth
	items = Project(sample(), query, nil, nil, map[string]bool{"d": true})
	assert.Equal(t, "c", items[0].ID)
}

func TestProject_TiesBrokenByID(t *testing.T) {
	snap := models.Index([]models.Quake{
		q("z", 5, 10, time.Hour, 1, 1),
		q("m", 5, 10, time.Hour, 1, 1),
		q("a", 5, 10, time.Hour, 1, 1),
	})
	for _, key := range []SortKey{SortTime, SortMagnitude, SortDepth, SortDistance, SortUpdates} {
		query := DefaultQuery()
		query.Sort = key
		assert.Equal(t, []string{"a", "m", "z"}, ids(Project(snap, query, nil, nil, nil)), key)
	}
}

func TestProject_InclusiveFilters(t *testing.T) {
	query := DefaultQuery()
	query.Magnitude = Range{Min: 4.0, Max: 6.1}
	query.Depth = Range{Min: 30, Max: 300}

	items := Project(sample(), query, nil, nil, nil)
	assert.ElementsMatch(t, []string{"b", "c"}, ids(items))
}

func TestProject_AnnotatesCopies(t *testing.T) {
	snap := sample()
	ref := &models.Location{Lat: 35.0, Lon: 139.0}

	items := Project(snap, DefaultQuery(), ref, map[string]int{"a": 2}, nil)
	require.Len(t, items, 4)
	for _, it := range items {
		require.NotNil(t, it.DistanceKm, it.ID)
	}
	assert.InDelta(t, 0, *items[0].DistanceKm, 1e-9)
	assert.Equal(t, 2, items[0].UpdateCount)

	items[0].Magnitude = 99
	assert.Equal(t, 2.5, snap["a"].Magnitude, "snapshot must not change")

	noRef := Project(snap, DefaultQuery(), nil, nil, nil)
	for _, it := range noRef {
		assert.Nil(t, it.DistanceKm)
	}
}

func TestProject_EmptySnapshot(t *testing.T) {
	items := Project(models.Snapshot{}, DefaultQuery(), nil, nil, nil)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestFilter(t *testing.T) {
	query := DefaultQuery()
	query.Magnitude.Min = 4
	got := Filter(sample(), query)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].ID)
}

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Query
		wantErr bool
	}{
		{name: "defaults", raw: "", want: DefaultQuery()},
		{
			name: "all parameters",
			raw:  "min_mag=2.5&max_mag=7&min_depth=10&max_depth=100&sort=magnitude",
			want: Query{Magnitude: Range{2.5, 7}, Depth: Range{10, 100}, Sort: SortMagnitude},
		},
		{name: "bad number", raw: "min_mag=big", wantErr: true},
		{name: "inverted magnitude", raw: "min_mag=5&max_mag=4", wantErr: true},
		{name: "inverted depth", raw: "min_depth=50&max_depth=5", wantErr: true},
		{name: "unknown sort", raw: "sort=random", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := url.ParseQuery(tt.raw)
			require.NoError(t, err)

			got, err := ParseQuery(v)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidQuery), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatistics(t *testing.T) {
	all := []models.Quake{
		{ID: "1", Magnitude: 0},
		{ID: "2", Magnitude: 1.99},
		{ID: "3", Magnitude: 2},
		{ID: "4", Magnitude: 6.5},
		{ID: "5", Magnitude: 8.1},
		{ID: "6", Magnitude: 10},
	}
	filtered := all[2:4]

	s := Statistics(all, filtered)
	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 2, s.Filtered)
	require.Len(t, s.Categories, len(Categories))

	byName := make(map[string]CategoryCount)
	for _, c := range s.Categories {
		byName[c.Name] = c
	}
	assert.Equal(t, 2, byName["Minor"].Total)
	assert.Equal(t, 1, byName["Light"].Total)
	assert.Equal(t, 1, byName["Light"].Filtered)
	assert.Equal(t, 1, byName["Strong"].Total)
	assert.Equal(t, 1, byName["Strong"].Filtered)
	assert.Equal(t, 1, byName["Great"].Total, "upper bound is exclusive")
	assert.Equal(t, 0, byName["Moderate"].Total)
}
