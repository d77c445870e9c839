package diff

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/quakewatch/internal/models"
)

var pollTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quake(id string, mag float64, place string) models.Quake {
	return models.Quake{
		ID:        id,
		Magnitude: mag,
		Place:     place,
		Status:    "automatic",
		Location:  &models.Location{Lat: 35, Lon: 139},
		Depth:     10,
		Time:      pollTime.Add(-time.Hour),
	}
}

func TestCompare_NewQuakeAlongsideUnchanged(t *testing.T) {
	prev := models.Index([]models.Quake{quake("A", 4.0, "X")})
	incoming := []models.Quake{quake("A", 4.0, "X"), quake("B", 5.5, "Y")}

	res := Compare(prev, incoming, pollTime, Options{})

	require.Len(t, res.Added, 1)
	assert.Equal(t, "B", res.Added[0].ID)
	assert.Empty(t, res.Updated)
	assert.Equal(t, 0, res.ChangeCount())
	assert.Len(t, res.Snapshot, 2)
}

func TestCompare_MagnitudeUpdate(t *testing.T) {
	prev := models.Index([]models.Quake{quake("A", 4.0, "X")})
	incoming := []models.Quake{quake("A", 4.5, "X")}

	res := Compare(prev, incoming, pollTime, Options{})

	assert.Empty(t, res.Added)
	assert.Equal(t, []string{"A"}, res.Updated)
	require.Len(t, res.Changes["A"], 1)
	assert.Equal(t, models.ChangeRecord{
		QuakeID:   "A",
		Property:  "magnitude",
		OldValue:  4.0,
		NewValue:  4.5,
		Timestamp: pollTime,
	}, res.Changes["A"][0])
}

func TestCompare_MagnitudeChangeAppearsOnce(t *testing.T) {
	pairs := [][2]float64{{1, 2}, {4.0, 4.1}, {-0.5, 0}, {7.2, 6.9}}
	for _, p := range pairs {
		prev := models.Index([]models.Quake{quake("A", p[0], "X"), quake("Z", 3, "Q")})
		incoming := []models.Quake{quake("Z", 3, "Q"), quake("A", p[1], "X")}

		res := Compare(prev, incoming, pollTime, Options{})

		assert.Equal(t, []string{"A"}, res.Updated)
		var mags []models.ChangeRecord
		for _, c := range res.Changes["A"] {
			if c.Property == "magnitude" {
				mags = append(mags, c)
			}
		}
		require.Len(t, mags, 1)
		assert.Equal(t, p[0], mags[0].OldValue)
		assert.Equal(t, p[1], mags[0].NewValue)
	}
}

func TestCompare_NoSpuriousAdds(t *testing.T) {
	batch := []models.Quake{quake("A", 4.0, "X"), quake("B", 2.1, "Y"), quake("C", 6.3, "Z")}
	prev := models.Index(batch)

	res := Compare(prev, batch, pollTime, Options{})

	assert.Empty(t, res.Added)
	assert.Empty(t, res.Updated)
	assert.Empty(t, res.Changes)
	assert.Empty(t, res.Skipped)
}

func TestCompare_EveryTrackedAttribute(t *testing.T) {
	old := quake("A", 4.0, "X")
	cur := old
	cur.Magnitude = 4.2
	cur.Place = "Y"
	cur.Status = "reviewed"
	cur.AlertLevel = "green"
	cur.Tsunami = true
	// Untracked fields never produce records.
	cur.Depth = 12
	cur.Updated = pollTime

	res := Compare(models.Index([]models.Quake{old}), []models.Quake{cur}, pollTime, Options{})

	props := make([]string, 0)
	for _, c := range res.Changes["A"] {
		props = append(props, c.Property)
	}
	assert.Equal(t, []string{"magnitude", "place", "status", "alert", "tsunami"}, props)
}

func TestCompare_CustomAttributes(t *testing.T) {
	old := quake("A", 4.0, "X")
	cur := old
	cur.Depth = 33

	depth := Attribute{Name: "depth", Value: func(q models.Quake) any { return q.Depth }}
	res := Compare(models.Index([]models.Quake{old}), []models.Quake{cur}, pollTime, Options{Attributes: []Attribute{depth}})

	require.Len(t, res.Changes["A"], 1)
	assert.Equal(t, "depth", res.Changes["A"][0].Property)
}

func TestCompare_AbsenceIsNotRemovalByDefault(t *testing.T) {
	prev := models.Index([]models.Quake{quake("A", 4.0, "X"), quake("B", 3.0, "Y")})
	res := Compare(prev, []models.Quake{quake("A", 4.0, "X")}, pollTime, Options{})

	assert.Nil(t, res.Removed)
	_, ok := res.Snapshot["B"]
	assert.False(t, ok, "new snapshot is the incoming batch only")
}

func TestCompare_ReportRemovals(t *testing.T) {
	prev := models.Index([]models.Quake{quake("A", 4.0, "X"), quake("C", 3.0, "Y"), quake("B", 3.0, "Y")})
	res := Compare(prev, []models.Quake{quake("A", 4.0, "X")}, pollTime, Options{ReportRemovals: true})

	assert.Equal(t, []string{"B", "C"}, res.Removed)
}

func TestCompare_SkipsMalformedAndDuplicates(t *testing.T) {
	noPoint := quake("M", 6.0, "nowhere")
	noPoint.Location = nil
	noID := quake("", 3.0, "?")

	prev := models.Index([]models.Quake{quake("M", 5.0, "somewhere")})
	incoming := []models.Quake{
		quake("A", 4.0, "X"),
		noPoint,
		noID,
		quake("A", 9.9, "dup"),
		quake("B", 2.0, "Y"),
	}

	res := Compare(prev, incoming, pollTime, Options{ReportRemovals: true})

	require.Len(t, res.Skipped, 3)
	assert.Equal(t, Skipped{Index: 1, QuakeID: "M", Reason: ReasonMalformed, Err: models.ErrMissingLocation}, res.Skipped[0])
	assert.Equal(t, ReasonMalformed, res.Skipped[1].Reason)
	assert.Equal(t, ReasonDuplicate, res.Skipped[2].Reason)
	assert.Equal(t, 3, res.Skipped[2].Index)

	require.Len(t, res.Added, 2)
	assert.Equal(t, "A", res.Added[0].ID)
	assert.Equal(t, 4.0, res.Snapshot["A"].Magnitude, "first occurrence wins")
	assert.Equal(t, "B", res.Added[1].ID)
	assert.Empty(t, res.Updated, "malformed entry must not be diffed")
	assert.Empty(t, res.Removed, "malformed entry is not a removal")
	assert.Equal(t, 5.0, res.Snapshot["M"].Magnitude, "known quake keeps its previous version")
	_, ok := res.Snapshot[""]
	assert.False(t, ok)
}

func TestCompare_MalformedEntryKeepsKnownQuake(t *testing.T) {
	prev := models.Index([]models.Quake{quake("A", 4.0, "X")})

	broken := quake("A", 4.0, "X")
	broken.Magnitude = math.NaN()
	res := Compare(prev, []models.Quake{broken, quake("B", 3.0, "Y")}, pollTime, Options{})

	require.Len(t, res.Snapshot, 2)
	assert.Equal(t, prev["A"], res.Snapshot["A"])
	assert.Empty(t, res.Updated)

	// A valid entry for A in the next poll is an unchanged quake, not a new one.
	next := Compare(res.Snapshot, []models.Quake{quake("A", 4.0, "X"), quake("B", 3.0, "Y")}, pollTime, Options{})
	assert.Empty(t, next.Added)
	assert.Empty(t, next.Updated)

	// An unknown malformed entry still stays out of the snapshot.
	unknown := quake("Z", 5.0, "Z")
	unknown.Location = nil
	res = Compare(prev, []models.Quake{unknown}, pollTime, Options{})
	_, ok := res.Snapshot["Z"]
	assert.False(t, ok)
}

func TestCompare_Deterministic(t *testing.T) {
	prev := models.Index([]models.Quake{quake("A", 4.0, "X"), quake("B", 1.0, "Y")})
	incoming := []models.Quake{quake("C", 2.0, "Z"), quake("B", 1.5, "Y"), quake("A", 4.0, "W"), quake("D", 3.0, "V")}

	first := Compare(prev, incoming, pollTime, Options{})
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Compare(prev, incoming, pollTime, Options{}))
	}
	assert.Equal(t, []string{"B", "A"}, first.Updated, "updated keys keep feed order")
}

func TestCompare_EmptyPrevious(t *testing.T) {
	res := Compare(nil, []models.Quake{quake("A", 1, "X")}, pollTime, Options{})
	assert.Len(t, res.Added, 1)
}
