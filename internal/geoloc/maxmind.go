package geoloc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/oschwald/maxminddb-golang"

	"github.com/rewired-gh/quakewatch/internal/models"
)

type cityRecord struct {
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// MaxMind resolves a fixed IP address to coordinates through a GeoLite2 or
// GeoIP2 City database.
type MaxMind struct {
	reader   *maxminddb.Reader
	ip       net.IP
	interval time.Duration
	timeout  time.Duration
}

// OpenMaxMind opens the database at path for locating ip.
func OpenMaxMind(path, ip string, interval, timeout time.Duration) (*MaxMind, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return nil, fmt.Errorf("invalid IP address: %q", ip)
	}
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open maxmind database: %w", err)
	}
	return &MaxMind{reader: reader, ip: addr, interval: interval, timeout: timeout}, nil
}

// Locate looks up ip in the database.
func (m *MaxMind) Locate(ip net.IP) (models.Location, error) {
	var record cityRecord
	_, ok, err := m.reader.LookupNetwork(ip, &record)
	if err != nil {
		return models.Location{}, fmt.Errorf("maxmind lookup %s: %w", ip, err)
	}
	if !ok || (record.Location.Latitude == 0 && record.Location.Longitude == 0) {
		return models.Location{}, fmt.Errorf("%s: %w", ip, ErrNotFound)
	}
	return models.Location{Lat: record.Location.Latitude, Lon: record.Location.Longitude}, nil
}

// Watch polls the configured IP on the refresh interval.
func (m *MaxMind) Watch(ctx context.Context, onUpdate func(models.Location), onError func(error)) (Subscription, error) {
	locate := func(context.Context) (models.Location, error) { return m.Locate(m.ip) }
	return NewPoller(locate, m.interval, m.timeout).Watch(ctx, onUpdate, onError)
}

// Close releases the database.
func (m *MaxMind) Close() error {
	return m.reader.Close()
}
