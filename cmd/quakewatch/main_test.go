package main

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/quakewatch/internal/config"
	"github.com/rewired-gh/quakewatch/internal/models"
	"github.com/rewired-gh/quakewatch/internal/settings"
)

func TestPrintQuakes(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	quakes := []models.Quake{
		{ID: "us1", Magnitude: 4.5, Depth: 10, Time: at, Place: "10 km N of Somewhere", Location: &models.Location{Lat: 1, Lon: 2}},
		{ID: "", Magnitude: 2.0, Depth: 5, Time: at},
		{ID: "us2", Magnitude: math.NaN(), Depth: 5, Time: at},
	}

	var buf bytes.Buffer
	if err := printQuakes(&buf, quakes); err != nil {
		t.Fatalf("printQuakes failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "us1") || !strings.Contains(out, "2026-03-01T12:00:00Z") {
		t.Errorf("missing valid entry in output: %q", out)
	}
	if !strings.HasSuffix(out, "1 valid, 2 skipped\n") {
		t.Errorf("unexpected summary: %q", out)
	}
}

func TestSettingsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	d := settingsDefaults(cfg)
	if d.Mode != settings.ModeOff || d.Custom != nil {
		t.Errorf("expected off mode without custom location, got %s %v", d.Mode, d.Custom)
	}
	if d.Alerts.DistanceThresholdKm != 1000 || !d.Alerts.Enabled {
		t.Errorf("unexpected alert defaults: %+v", d.Alerts)
	}

	cfg.Location.Mode = "custom"
	cfg.Location.Latitude = 35.68
	cfg.Location.Longitude = 139.69
	d = settingsDefaults(cfg)
	if d.Custom == nil || d.Custom.Lat != 35.68 || d.Custom.Lon != 139.69 {
		t.Errorf("unexpected custom location: %v", d.Custom)
	}
}

func TestOpenLocationProvider_Unconfigured(t *testing.T) {
	provider, closeFn, err := openLocationProvider(config.LocationConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider != nil {
		t.Errorf("expected no provider, got %T", provider)
	}
	closeFn()
}
