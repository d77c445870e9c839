package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rewired-gh/quakewatch/internal/models"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name      string
		a, b      models.Location
		want      float64
		tolerance float64
	}{
		{
			name: "identical points",
			a:    models.Location{Lat: 35.68, Lon: 139.69},
			b:    models.Location{Lat: 35.68, Lon: 139.69},
			want: 0,
		},
		{
			name:      "one degree of latitude",
			a:         models.Location{Lat: 0, Lon: 0},
			b:         models.Location{Lat: 1, Lon: 0},
			want:      111.195,
			tolerance: 0.01,
		},
		{
			name:      "london to paris",
			a:         models.Location{Lat: 51.5074, Lon: -0.1278},
			b:         models.Location{Lat: 48.8566, Lon: 2.3522},
			want:      343.5,
			tolerance: 1.0,
		},
		{
			name:      "antipodal points",
			a:         models.Location{Lat: 0, Lon: 0},
			b:         models.Location{Lat: 0, Lon: 180},
			want:      math.Pi * EarthRadiusKm,
			tolerance: 0.001,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			assert.InDelta(t, tt.want, got, tt.tolerance)
			assert.InDelta(t, got, Distance(tt.b, tt.a), 1e-9, "distance should be symmetric")
		})
	}
}

func TestDistancePtr(t *testing.T) {
	ref := &models.Location{Lat: 10, Lon: 10}
	assert.Nil(t, DistancePtr(nil, ref))
	assert.Nil(t, DistancePtr(ref, nil))

	d := DistancePtr(ref, ref)
	if assert.NotNil(t, d) {
		assert.Zero(t, *d)
	}
}

func TestFormatDistance(t *testing.T) {
	tests := []struct {
		km   float64
		want string
	}{
		{0.25, "250 m"},
		{0.9994, "999 m"},
		{1, "1.0 km"},
		{9.94, "9.9 km"},
		{10, "10 km"},
		{1234.6, "1235 km"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDistance(tt.km))
	}
}
