package feed

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/quakewatch/internal/config"
)

const usgsSample = `{
  "type": "FeatureCollection",
  "metadata": {"generated": 1772366400000, "title": "USGS All Earthquakes, Past Day", "count": 4},
  "features": [
    {
      "type": "Feature",
      "id": "us7000abcd",
      "properties": {
        "mag": 5.4, "place": "85 km SE of Hachinohe, Japan", "time": 1772362800000, "updated": 1772363400123,
        "url": "https://earthquake.usgs.gov/earthquakes/eventpage/us7000abcd", "felt": 12,
        "alert": "green", "status": "reviewed", "tsunami": 1, "net": "us", "magType": "mww",
        "title": "M 5.4 - 85 km SE of Hachinohe, Japan"
      },
      "geometry": {"type": "Point", "coordinates": [142.1, 40.0, 35.2]}
    },
    {
      "type": "Feature",
      "id": "nc75000001",
      "properties": {"mag": 1.2, "place": "5km NW of The Geysers, CA", "time": 1772362000000, "updated": 1772362100000,
        "felt": null, "alert": null, "status": "automatic", "tsunami": 0, "net": "nc", "magType": "md"},
      "geometry": {"type": "Point", "coordinates": [-122.8, 38.8, -0.5]}
    },
    {
      "type": "Feature",
      "id": "ak0000nogeo",
      "properties": {"mag": 2.0, "place": "Alaska", "time": 1772361000000},
      "geometry": null
    },
    {
      "type": "Feature",
      "id": "hv0000nomag",
      "properties": {"mag": null, "place": "Hawaii", "time": 1772361000000},
      "geometry": {"type": "Point", "coordinates": [-155.2, 19.4, 2.1]}
    }
  ]
}`

const flatSample = `[
  {"_id": "f-1", "magnitude": 4.7, "latitude": -33.4, "longitude": -70.6, "depth": 90.5,
   "place": "Santiago, Chile", "status": 1, "time": 1772362800, "updated": 1772362900.5, "tsunami": 1,
   "type": "earthquake", "source": "csn"},
  {"_id": "f-2", "magnitude": 3.1, "latitude": 37.9, "longitude": 23.7, "depth": 10,
   "place": "Athens, Greece", "status": "0", "time": 1772362000, "tsunami": 0, "type": "earthquake", "source": "noa"},
  {"_id": "f-3", "magnitude": 2.2, "place": "Unknown", "status": 7, "time": 1772362000}
]`

func fastClient() *Client {
	return NewClient(ClientOptions{
		Timeout:           time.Second,
		MaxRetries:        3,
		RetryDelayBase:    time.Millisecond,
		RequestsPerMinute: 60000,
	})
}

func TestParseUSGS(t *testing.T) {
	quakes, err := ParseUSGS([]byte(usgsSample))
	require.NoError(t, err)
	require.Len(t, quakes, 4)

	q := quakes[0]
	assert.Equal(t, "us7000abcd", q.ID)
	assert.Equal(t, 5.4, q.Magnitude)
	assert.Equal(t, "85 km SE of Hachinohe, Japan", q.Place)
	assert.Equal(t, "reviewed", q.Status)
	assert.Equal(t, "green", q.AlertLevel)
	assert.True(t, q.Tsunami)
	assert.Equal(t, 12, q.Felt)
	assert.Equal(t, "mww", q.MagType)
	assert.Equal(t, "us", q.Network)
	assert.Equal(t, "usgs", q.Source)
	require.NotNil(t, q.Location)
	assert.Equal(t, 40.0, q.Location.Lat)
	assert.Equal(t, 142.1, q.Location.Lon)
	assert.Equal(t, 35.2, q.Depth)
	assert.Equal(t, time.UnixMilli(1772362800000).UTC(), q.Time)
	assert.Equal(t, time.UnixMilli(1772363400123).UTC(), q.Updated)
	assert.NoError(t, q.Validate())

	assert.Equal(t, "", quakes[1].AlertLevel, "null alert becomes empty")
	assert.False(t, quakes[1].Tsunami)
	assert.Equal(t, -0.5, quakes[1].Depth)

	assert.Nil(t, quakes[2].Location, "missing geometry is kept for downstream skipping")
	assert.Error(t, quakes[2].Validate())

	assert.True(t, math.IsNaN(quakes[3].Magnitude))
	assert.Error(t, quakes[3].Validate())
}

func TestParseUSGS_Invalid(t *testing.T) {
	_, err := ParseUSGS([]byte("<html>"))
	assert.Error(t, err)
}

func TestParseFlat(t *testing.T) {
	quakes, err := ParseFlat([]byte(flatSample), Seconds)
	require.NoError(t, err)
	require.Len(t, quakes, 3)

	q := quakes[0]
	assert.Equal(t, "f-1", q.ID)
	assert.Equal(t, 4.7, q.Magnitude)
	assert.Equal(t, "reviewed", q.Status)
	assert.True(t, q.Tsunami)
	assert.Equal(t, "csn", q.Network)
	assert.Equal(t, "flat", q.Source)
	assert.Equal(t, time.Unix(1772362800, 0).UTC(), q.Time)
	assert.Equal(t, time.Unix(1772362900, 500000000).UTC(), q.Updated)
	assert.Equal(t, "M 4.7 earthquake - Santiago, Chile", q.Title)
	assert.NoError(t, q.Validate())

	assert.Equal(t, "automatic", quakes[1].Status, "numeric strings resolve through the label table")
	assert.Equal(t, "unknown", quakes[2].Status)
	assert.Nil(t, quakes[2].Location)
}

func TestParseFlat_MillisecondsAndWrapped(t *testing.T) {
	body := `{"data": [{"_id": "w-1", "magnitude": 2.5, "latitude": 1, "longitude": 2, "time": 1772362800000}]}`
	quakes, err := ParseFlat([]byte(body), Milliseconds)
	require.NoError(t, err)
	require.Len(t, quakes, 1)
	assert.Equal(t, time.UnixMilli(1772362800000).UTC(), quakes[0].Time)

	_, err = ParseFlat([]byte(`"nope"`), Milliseconds)
	assert.Error(t, err)
}

func TestParseTimeUnit(t *testing.T) {
	u, err := ParseTimeUnit("seconds")
	require.NoError(t, err)
	assert.Equal(t, Seconds, u)
	u, err = ParseTimeUnit("milliseconds")
	require.NoError(t, err)
	assert.Equal(t, Milliseconds, u)
	_, err = ParseTimeUnit("fortnights")
	assert.Error(t, err)
}

func TestClient_SetsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "quakewatch-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewClient(ClientOptions{UserAgent: "quakewatch-test", RequestsPerMinute: 60000})
	body, err := c.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`ok`))
	}))
	defer server.Close()

	body, err := fastClient().Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := fastClient().Get(context.Background(), server.URL)
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := fastClient().Get(context.Background(), server.URL)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUSGSSource_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(usgsSample))
	}))
	defer server.Close()

	src := NewUSGSSource(fastClient(), server.URL, false)
	assert.Equal(t, "usgs", src.Name())
	assert.False(t, src.ReportsRemovals())

	quakes, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, quakes, 4)
}

func TestFlatSource_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(flatSample))
	}))
	defer server.Close()

	src := NewFlatSource(fastClient(), server.URL, Seconds, true)
	assert.True(t, src.ReportsRemovals())
	quakes, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, quakes, 3)
}

func TestNewFromConfig(t *testing.T) {
	base := config.FeedConfig{URL: "http://localhost", Timeout: time.Second, MaxRetries: 1, RequestsPerMinute: 10}

	usgs := base
	usgs.Provider = "usgs"
	src, err := NewFromConfig(usgs)
	require.NoError(t, err)
	assert.Equal(t, "usgs", src.Name())

	flat := base
	flat.Provider = "flat"
	flat.TimeUnit = "seconds"
	flat.TreatAbsenceAsRemoval = true
	src, err = NewFromConfig(flat)
	require.NoError(t, err)
	assert.Equal(t, "flat", src.Name())
	assert.True(t, src.ReportsRemovals())

	flat.TimeUnit = "hours"
	_, err = NewFromConfig(flat)
	assert.Error(t, err)

	_, err = NewFromConfig(config.FeedConfig{Provider: "emsc"})
	assert.Error(t, err)
}
