// Package geoloc provides subscription-style sources of the reference
// location used for distance gating.
package geoloc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rewired-gh/quakewatch/internal/models"
)

// Status is the user-visible state of a location watch.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

var (
	// ErrNotFound means the provider has no position for the subject.
	ErrNotFound = errors.New("geoloc: position not found")
	// ErrTimeout means no position arrived within the provider timeout.
	ErrTimeout = errors.New("geoloc: timed out waiting for position")
)

// Provider delivers location updates until unsubscribed. A provider reports
// at most one error per watch and delivers nothing after it.
type Provider interface {
	Watch(ctx context.Context, onUpdate func(models.Location), onError func(error)) (Subscription, error)
}

// Subscription cancels a watch. Unsubscribe never blocks on callbacks, so a
// callback already in progress may still complete.
type Subscription interface {
	Unsubscribe()
}

type cancelSubscription struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (s *cancelSubscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Static always reports the same position, once per watch.
type Static struct {
	Location models.Location
}

// Watch emits the fixed location asynchronously.
func (s Static) Watch(ctx context.Context, onUpdate func(models.Location), onError func(error)) (Subscription, error) {
	if err := s.Location.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		if ctx.Err() == nil {
			onUpdate(s.Location)
		}
	}()
	return &cancelSubscription{cancel: cancel}, nil
}

// LocateFunc resolves the current position once.
type LocateFunc func(ctx context.Context) (models.Location, error)

// Poller turns a one-shot LocateFunc into a watch: it locates immediately,
// then every interval, and stops at the first failure.
type Poller struct {
	locate   LocateFunc
	interval time.Duration
	timeout  time.Duration
}

// NewPoller creates a poller. A non-positive interval locates only once.
func NewPoller(locate LocateFunc, interval, timeout time.Duration) *Poller {
	if timeout <= 0 {
		timeout = 27 * time.Second
	}
	return &Poller{locate: locate, interval: interval, timeout: timeout}
}

// Watch starts polling in the background.
func (p *Poller) Watch(ctx context.Context, onUpdate func(models.Location), onError func(error)) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	go p.run(ctx, onUpdate, onError)
	return &cancelSubscription{cancel: cancel}, nil
}

func (p *Poller) run(ctx context.Context, onUpdate func(models.Location), onError func(error)) {
	var ticker *time.Ticker
	var tick <-chan time.Time
	if p.interval > 0 {
		ticker = time.NewTicker(p.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		loc, err := p.once(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			onError(err)
			return
		}
		onUpdate(loc)

		if tick == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-tick:
		}
	}
}

func (p *Poller) once(ctx context.Context) (models.Location, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		loc models.Location
		err error
	}
	done := make(chan result, 1)
	go func() {
		loc, err := p.locate(ctx)
		done <- result{loc, err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			r.err = r.loc.Validate()
		}
		return r.loc, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.Location{}, ErrTimeout
		}
		return models.Location{}, ctx.Err()
	}
}
