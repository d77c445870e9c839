// Package monitor runs the poll cycle: fetch the feed, diff it against the
// live snapshot, append history, evaluate alerts and replace the snapshot.
//
// At most one cycle is in flight. A tick or manual trigger that arrives while
// a cycle is fetching or applying is dropped with ErrBusy. Every stage of the
// apply phase is isolated so a failing stage never leaves the snapshot stale.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/quakewatch/internal/alert"
	"github.com/rewired-gh/quakewatch/internal/diff"
	"github.com/rewired-gh/quakewatch/internal/feed"
	"github.com/rewired-gh/quakewatch/internal/history"
	"github.com/rewired-gh/quakewatch/internal/logger"
	"github.com/rewired-gh/quakewatch/internal/metrics"
	"github.com/rewired-gh/quakewatch/internal/models"
	"github.com/rewired-gh/quakewatch/internal/notify"
	"github.com/rewired-gh/quakewatch/internal/snapshot"
	"github.com/rewired-gh/quakewatch/internal/storage"
)

// State is the scheduler state.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateApplying
	StateFetchFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateApplying:
		return "applying"
	case StateFetchFailed:
		return "fetch_failed"
	default:
		return "unknown"
	}
}

// DefaultDeliveryTimeout bounds a single notification delivery.
const DefaultDeliveryTimeout = 30 * time.Second

var (
	// ErrBusy is returned when a cycle is already in flight.
	ErrBusy = errors.New("poll cycle already in progress")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("monitor stopped")
)

// AlertConfigSource supplies the alert configuration for each cycle.
type AlertConfigSource interface {
	AlertConfig() models.AlertConfig
}

// Options wires a Monitor.
type Options struct {
	Source   feed.Source
	Snapshot *snapshot.Store
	Ledger   *history.Ledger
	Settings AlertConfigSource
	Tracker  *alert.Tracker
	Sink     notify.Sink
	Metrics  *metrics.Metrics

	PollInterval     time.Duration
	EvictionInterval time.Duration
	DeliveryTimeout  time.Duration
	// Attributes overrides the tracked quake fields.
	Attributes []diff.Attribute
	// Clock defaults to time.Now in UTC.
	Clock func() time.Time
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State               string    `json:"state"`
	Source              string    `json:"source"`
	Primed              bool      `json:"primed"`
	LastPoll            time.Time `json:"last_poll"`
	LastSuccess         time.Time `json:"last_success"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastAdded           int       `json:"last_added"`
	LastUpdated         int       `json:"last_updated"`
	LastRemoved         int       `json:"last_removed"`
	LastSkipped         int       `json:"last_skipped"`
	SnapshotSize        int       `json:"snapshot_size"`
	HistoryKeys         int       `json:"history_keys"`
}

// Monitor is the poll scheduler.
type Monitor struct {
	source   feed.Source
	snapshot *snapshot.Store
	ledger   *history.Ledger
	settings AlertConfigSource
	tracker  *alert.Tracker
	sink     notify.Sink
	metrics  *metrics.Metrics
	diffOpts diff.Options
	now      func() time.Time

	pollInterval     time.Duration
	evictionInterval time.Duration
	deliveryTimeout  time.Duration

	state atomic.Int32
	wg    sync.WaitGroup

	// applyMu serialises snapshot, ledger and tracker mutation.
	applyMu sync.Mutex
	stopped bool

	// deliverMu keeps notifications of consecutive cycles in order.
	deliverMu sync.Mutex

	mu     sync.Mutex
	status Status
}

// New creates a monitor. Snapshot, Ledger, Tracker and Sink default to fresh
// in-memory instances when nil.
func New(opts Options) *Monitor {
	m := &Monitor{
		source:           opts.Source,
		snapshot:         opts.Snapshot,
		ledger:           opts.Ledger,
		settings:         opts.Settings,
		tracker:          opts.Tracker,
		sink:             opts.Sink,
		metrics:          opts.Metrics,
		now:              opts.Clock,
		pollInterval:     opts.PollInterval,
		evictionInterval: opts.EvictionInterval,
		deliveryTimeout:  opts.DeliveryTimeout,
		diffOpts: diff.Options{
			Attributes:     opts.Attributes,
			ReportRemovals: opts.Source.ReportsRemovals(),
		},
	}
	if m.snapshot == nil {
		m.snapshot = snapshot.New()
	}
	if m.ledger == nil {
		m.ledger = history.NewLedger(storage.NewMemoryStore(), 0)
	}
	if m.tracker == nil {
		m.tracker = alert.NewTracker(0)
	}
	if m.sink == nil {
		m.sink = notify.LogSink{}
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.pollInterval <= 0 {
		m.pollInterval = time.Minute
	}
	if m.evictionInterval <= 0 {
		m.evictionInterval = time.Hour
	}
	if m.deliveryTimeout <= 0 {
		m.deliveryTimeout = DefaultDeliveryTimeout
	}
	m.status.Source = opts.Source.Name()
	return m
}

// Run loads the history ledger if needed, polls immediately, and then polls
// on every tick until ctx is done. Eviction runs on its own ticker. Run stops
// the monitor before returning.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.ledger.Loaded() {
		m.ledger.Load(ctx, m.now())
	}

	logger.Info("Starting poll scheduler (source: %s, interval: %v, eviction interval: %v)",
		m.source.Name(), m.pollInterval, m.evictionInterval)

	pollTicker := time.NewTicker(m.pollInterval)
	defer pollTicker.Stop()
	evictTicker := time.NewTicker(m.evictionInterval)
	defer evictTicker.Stop()

	m.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			logger.Info("Poll scheduler stopped")
			return nil

		case <-pollTicker.C:
			m.tick(ctx)

		case <-evictTicker.C:
			m.Evict(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	if err := m.Trigger(ctx); err != nil {
		logger.Debug("Skipping scheduled poll: %v", err)
	}
}

// Trigger starts a cycle in the background and returns immediately. It
// returns ErrBusy when a cycle is in flight and ErrStopped after Stop.
func (m *Monitor) Trigger(ctx context.Context) error {
	if err := m.begin(); err != nil {
		return err
	}
	cycleCtx := context.WithoutCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.cycle(cycleCtx); err != nil && !errors.Is(err, ErrStopped) {
			logger.Error("Poll cycle failed: %v", err)
		}
	}()
	return nil
}

// Poll runs one cycle synchronously. It returns ErrBusy when a cycle is in
// flight, ErrStopped after Stop, and the fetch error when the feed failed.
func (m *Monitor) Poll(ctx context.Context) error {
	if err := m.begin(); err != nil {
		return err
	}
	return m.cycle(context.WithoutCancel(ctx))
}

// Wait blocks until every cycle started by Trigger has returned.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) begin() error {
	m.applyMu.Lock()
	stopped := m.stopped
	m.applyMu.Unlock()
	if stopped {
		return ErrStopped
	}
	if !m.state.CompareAndSwap(int32(StateIdle), int32(StateFetching)) {
		return ErrBusy
	}
	return nil
}

// cycle runs with the state already set to fetching and always leaves it
// idle. Notifications go out only after the state is idle, so a slow sink
// never blocks the next poll.
func (m *Monitor) cycle(ctx context.Context) error {
	var pending []notify.Notification
	defer func() {
		m.state.Store(int32(StateIdle))
		m.dispatch(ctx, pending)
	}()

	started := time.Now()
	quakes, err := m.source.Fetch(ctx)
	m.metrics.ObserveFetch(time.Since(started), err == nil, m.now())

	if err != nil {
		if m.isStopped() {
			m.metrics.ObserveCycle(metrics.ResultDiscarded)
			return ErrStopped
		}
		m.state.Store(int32(StateFetchFailed))
		m.metrics.ObserveCycle(metrics.ResultFetchFailed)
		if n, ok := m.recordFailure(err); ok {
			pending = append(pending, n)
		}
		return fmt.Errorf("failed to fetch %s feed: %w", m.source.Name(), err)
	}

	m.state.Store(int32(StateApplying))
	produced, applied := m.apply(ctx, quakes)
	if !applied {
		m.metrics.ObserveCycle(metrics.ResultDiscarded)
		logger.Debug("Discarding poll result after shutdown")
		return ErrStopped
	}
	if n, ok := m.recordSuccess(); ok {
		pending = append(pending, n)
	}
	pending = append(pending, produced...)
	return nil
}

// apply runs the pipeline on a fetched batch and returns the notifications
// it produced. It reports false when the monitor was stopped.
func (m *Monitor) apply(ctx context.Context, quakes []models.Quake) ([]notify.Notification, bool) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	if m.stopped {
		return nil, false
	}

	now := m.now()
	logger.Info("Fetched %d quakes from %s", len(quakes), m.source.Name())

	m.mu.Lock()
	primed := m.status.Primed
	m.mu.Unlock()

	// Nothing to diff against on the first cycle or before history is
	// available: populate the snapshot without alerts or history.
	if !primed || !m.ledger.Loaded() {
		res := diff.Compare(nil, quakes, now, m.diffOpts)
		m.logSkipped(res.Skipped)
		m.snapshot.Replace(res.Snapshot)

		m.mu.Lock()
		m.status.Primed = m.ledger.Loaded()
		m.status.LastAdded, m.status.LastUpdated, m.status.LastRemoved = 0, 0, 0
		m.status.LastSkipped = len(res.Skipped)
		m.mu.Unlock()

		m.metrics.ObserveCycle(metrics.ResultPrimed)
		m.metrics.SetSizes(len(res.Snapshot), m.ledger.All().Records())
		logger.Info("Snapshot primed with %d quakes", len(res.Snapshot))
		return nil, true
	}

	previous := m.snapshot.Get()
	var res diff.Result
	if !m.stage("diff", func() {
		res = diff.Compare(previous, quakes, now, m.diffOpts)
	}) {
		res = diff.Result{Snapshot: indexValid(previous, quakes)}
	}
	m.logSkipped(res.Skipped)

	m.stage("history", func() {
		if n := m.ledger.AppendAll(ctx, res.Updated, res.Changes); n > 0 {
			logger.Debug("Appended %d change records to history", n)
		}
	})

	var pending []notify.Notification
	m.stage("alert", func() {
		pending = m.evaluate(res, now)
	})

	m.snapshot.Replace(res.Snapshot)

	m.mu.Lock()
	m.status.LastAdded = len(res.Added)
	m.status.LastUpdated = len(res.Updated)
	m.status.LastRemoved = len(res.Removed)
	m.status.LastSkipped = len(res.Skipped)
	m.mu.Unlock()

	skipped := make(map[string]int)
	for _, s := range res.Skipped {
		skipped[s.Reason]++
	}
	m.metrics.ObserveDiff(len(res.Added), len(res.Updated), res.ChangeCount(), skipped)
	m.metrics.ObserveCycle(metrics.ResultApplied)
	m.metrics.SetSizes(len(res.Snapshot), m.ledger.All().Records())

	logger.Info("Poll applied: %d new, %d updated, %d change records, %d removed",
		len(res.Added), len(res.Updated), res.ChangeCount(), len(res.Removed))
	if len(res.Removed) > 0 {
		logger.Debug("Quakes removed from feed: %v", res.Removed)
	}
	return pending, true
}

// evaluate runs the alert policy over the added quakes, marks them and
// builds the notifications for this cycle.
func (m *Monitor) evaluate(res diff.Result, now time.Time) []notify.Notification {
	var pending []notify.Notification

	cfg := m.settings.AlertConfig()
	for _, d := range alert.Evaluate(res.Added, cfg) {
		outcome := "suppress"
		if d.Mark {
			m.tracker.Mark(d.Quake.ID, now)
			outcome = "mark"
		}
		if d.ShouldNotify {
			outcome = "notify"
			pending = append(pending, notify.NewQuake(d.Quake, d.DistanceKm, cfg, now))
		}
		m.metrics.ObserveDecision(outcome)
	}

	if len(res.Updated) > 0 {
		pending = append(pending, notify.QuakesUpdated(len(res.Updated), now))
	}
	return pending
}

// stage runs fn and recovers a panic. It reports whether fn completed.
func (m *Monitor) stage(name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Poll stage %s panicked: %v", name, r)
			m.metrics.ObservePanic(name)
			ok = false
		}
	}()
	fn()
	return true
}

func (m *Monitor) logSkipped(skipped []diff.Skipped) {
	for _, s := range skipped {
		if s.Err != nil {
			logger.Warn("Skipped feed entry %d (%s): %s: %v", s.Index, s.QuakeID, s.Reason, s.Err)
		} else {
			logger.Warn("Skipped feed entry %d (%s): %s", s.Index, s.QuakeID, s.Reason)
		}
	}
}

// indexValid keys the valid quakes by ID, first occurrence winning. A known
// quake whose entry is malformed keeps its previous version.
func indexValid(previous models.Snapshot, quakes []models.Quake) models.Snapshot {
	snap := make(models.Snapshot, len(quakes))
	var malformed []string
	for i := range quakes {
		if quakes[i].Validate() != nil {
			malformed = append(malformed, quakes[i].ID)
			continue
		}
		if _, dup := snap[quakes[i].ID]; !dup {
			snap[quakes[i].ID] = quakes[i]
		}
	}
	for _, id := range malformed {
		if _, ok := snap[id]; ok {
			continue
		}
		if old, ok := previous[id]; ok {
			snap[id] = old
		}
	}
	return snap
}

// recordFailure returns the fetch_failed notification for the first failure
// of a streak.
func (m *Monitor) recordFailure(err error) (notify.Notification, bool) {
	m.mu.Lock()
	m.status.LastPoll = m.now()
	m.status.LastError = err.Error()
	m.status.ConsecutiveFailures++
	first := m.status.ConsecutiveFailures == 1
	m.mu.Unlock()

	if !first {
		return notify.Notification{}, false
	}
	return notify.FetchFailed(err, m.now()), true
}

// recordSuccess returns the fetch_recovered notification when a failure
// streak just ended.
func (m *Monitor) recordSuccess() (notify.Notification, bool) {
	now := m.now()

	m.mu.Lock()
	m.status.LastPoll = now
	m.status.LastSuccess = now
	m.status.LastError = ""
	failures := m.status.ConsecutiveFailures
	m.status.ConsecutiveFailures = 0
	m.mu.Unlock()

	if failures == 0 {
		return notify.Notification{}, false
	}
	logger.Info("Feed recovered after %d failed polls", failures)
	return notify.FetchRecovered(now), true
}

func (m *Monitor) dispatch(ctx context.Context, pending []notify.Notification) {
	if len(pending) == 0 {
		return
	}
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	for _, n := range pending {
		m.deliver(ctx, n)
	}
}

func (m *Monitor) deliver(ctx context.Context, n notify.Notification) {
	ctx, cancel := context.WithTimeout(ctx, m.deliveryTimeout)
	defer cancel()
	if err := m.sink.Notify(ctx, n); err != nil {
		logger.Warn("Failed to deliver %s notification: %v", n.Kind, err)
	}
}

// Evict prunes the history ledger. It is serialised with the apply phase.
func (m *Monitor) Evict(ctx context.Context) int {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	if m.stopped {
		return 0
	}
	removed := m.ledger.Evict(ctx, m.now())
	m.metrics.SetSizes(m.snapshot.Len(), m.ledger.All().Records())
	return removed
}

// Stop prevents further cycles, discards the result of an in-flight fetch and
// stops the alert marker timers. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	if m.stopped {
		return
	}
	m.stopped = true
	m.tracker.Stop()
}

func (m *Monitor) isStopped() bool {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()
	return m.stopped
}

// State returns the current scheduler state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Status returns a copy of the scheduler status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	s := m.status
	m.mu.Unlock()

	s.State = m.State().String()
	s.SnapshotSize = m.snapshot.Len()
	s.HistoryKeys = m.ledger.Len()
	return s
}
