package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/shopguard/internal/logging"
	"github.com/elonfeng/shopguard/internal/metrics"
	"github.com/elonfeng/shopguard/internal/store"
	"github.com/elonfeng/shopguard/pkg/analytics"
	"github.com/elonfeng/shopguard/pkg/record"
)

// ErrStale is returned by Refresh when a newer cycle superseded it.
var ErrStale = errors.New("refresh superseded by a newer cycle")

// State is the dashboard view state.
type State int

const (
	Idle State = iota
	Loading
	Ready
	Degraded
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "loading":
		*s = Loading
	case "ready":
		*s = Ready
	case "degraded":
		*s = Degraded
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

// Snapshot is one consistent set of dashboard metrics. Published snapshots
// are never mutated.
type Snapshot struct {
	Generation         uint64                  `json:"generation"`
	Date               string                  `json:"date"`
	Today              bool                    `json:"today"`
	State              State                   `json:"state"`
	TotalVisitors      int                     `json:"total_visitors"`
	InterestedVisitors int                     `json:"interested_visitors"`
	TotalOut           int                     `json:"total_out"`
	TotalTheft         int                     `json:"total_theft"`
	AvgDwellTime       string                  `json:"avg_dwell_time"`
	ConversionRate     int                     `json:"conversion_rate"`
	PeakHour           int                     `json:"peak_hour"`
	Visitors           []analytics.HourlyCount `json:"visitors"`
	Interest           []analytics.HourlyCount `json:"interest"`
	Alerts             []analytics.AlertEntry  `json:"alerts"`
	UpdatedAt          time.Time               `json:"updated_at"`
	Error              string                  `json:"error,omitempty"`
}

// zeroSnapshot is shown when the first load of a date fails.
func zeroSnapshot(date string, hours analytics.HourRange) Snapshot {
	return Snapshot{
		Date:         date,
		AvgDwellTime: analytics.ZeroDwell,
		PeakHour:     analytics.DefaultPeakHour,
		Visitors:     hours.ZeroSeries(),
		Interest:     hours.ZeroSeries(),
		Alerts:       []analytics.AlertEntry{},
	}
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	Interval   time.Duration
	AlertBatch int
}

// Controller drives the dashboard refresh cycle for one view.
type Controller struct {
	reporter   *analytics.Reporter
	interval   time.Duration
	alertBatch int
	log        zerolog.Logger

	mu      sync.Mutex
	state   State
	pinned  string // selected date; empty follows today
	gen     uint64
	current Snapshot
	loaded  bool
	subs    map[chan Snapshot]struct{}
}

// NewController creates a Controller reading through r.
func NewController(r *analytics.Reporter, cfg ControllerConfig) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.AlertBatch <= 0 {
		cfg.AlertBatch = 50
	}
	c := &Controller{
		reporter:   r,
		interval:   cfg.Interval,
		alertBatch: cfg.AlertBatch,
		log:        logging.Component("dashboard"),
		subs:       make(map[chan Snapshot]struct{}),
	}
	c.current = zeroSnapshot(r.Today(), r.Hours())
	return c
}

// Serve runs a cycle immediately and then on every tick.
func (c *Controller) Serve(ctx context.Context) error {
	return tickLoop(ctx, c.interval, c.log, func(ctx context.Context) {
		if _, err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrStale) && ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("refresh failed")
		}
	})
}

func (c *Controller) String() string { return "dashboard-controller" }

// State returns the current view state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the last published snapshot.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.current
	snap.State = c.state
	return snap
}

// ActiveDate returns the selected date, or today when none is pinned.
func (c *Controller) ActiveDate() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeDate()
}

func (c *Controller) activeDate() string {
	if c.pinned != "" {
		return c.pinned
	}
	return c.reporter.Today()
}

// SelectDate switches the view to date and runs a cycle for it. Today or
// an empty date makes the view follow the calendar again. Cycles still in
// flight for the previous date are discarded.
func (c *Controller) SelectDate(ctx context.Context, date string) (Snapshot, error) {
	if date != "" {
		if err := c.reporter.CheckDate(date); err != nil {
			return c.Snapshot(), err
		}
	}

	c.mu.Lock()
	if date == c.reporter.Today() {
		date = ""
	}
	c.pinned = date
	c.mu.Unlock()

	return c.Refresh(ctx)
}

// Refresh runs one fetch cycle for the active date and publishes its result
// unless a newer cycle has started meanwhile.
func (c *Controller) Refresh(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	date := c.activeDate()
	c.state = Loading
	c.mu.Unlock()

	start := time.Now()
	snap, err := c.fetch(ctx, date)
	metrics.RecordRefresh("dashboard", time.Since(start), err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		metrics.StaleCycles.Inc()
		return c.current, ErrStale
	}
	if ctx.Err() != nil {
		// No cycle is in flight any more; fall back to the last applied result.
		c.state = c.settledState()
		return c.current, ErrStale
	}

	if err != nil {
		c.state = Degraded
		// A first load, or the first load of a new date, shows zeros rather
		// than another day's numbers.
		if !c.loaded || c.current.Date != date {
			snap = zeroSnapshot(date, c.reporter.Hours())
			snap.Today = date == c.reporter.Today()
		} else {
			snap = c.current
		}
		snap.Generation = gen
		snap.State = Degraded
		snap.Error = err.Error()
		snap.UpdatedAt = time.Now()
	} else {
		c.state = Ready
		snap.Generation = gen
		snap.State = Ready
	}

	c.current = snap
	c.loaded = true
	c.publish(snap)
	return snap, err
}

// settledState is the state implied by the last applied snapshot. It must be
// called with mu held.
func (c *Controller) settledState() State {
	switch {
	case !c.loaded:
		return Idle
	case c.current.Error != "":
		return Degraded
	default:
		return Ready
	}
}

// fetch loads every source for date and computes the metrics. Any failure
// fails the whole cycle so a snapshot never mixes two cycles.
func (c *Controller) fetch(ctx context.Context, date string) (Snapshot, error) {
	var (
		st       = c.reporter.Store()
		loc      = c.reporter.Location()
		hours    = c.reporter.Hours()
		today    = c.reporter.Today()
		summary  record.AnalyticsSummary
		sessions []record.VisitorSession
		events   []record.InterestEvent
		alerts   []record.TheftAlert
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sum, err := st.GetSummary(gctx, date)
		if errors.Is(err, store.ErrNotFound) {
			summary = record.ZeroSummary(date)
			return nil
		}
		if err != nil {
			metrics.RecordGatewayError("get_summary")
			return fmt.Errorf("summary: %w", err)
		}
		summary = *sum
		return nil
	})
	g.Go(func() error {
		var err error
		if sessions, err = st.ListVisitorSessions(gctx, date); err != nil {
			metrics.RecordGatewayError("list_sessions")
			return fmt.Errorf("visitor sessions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if events, err = st.ListInterestEvents(gctx, date); err != nil {
			metrics.RecordGatewayError("list_interest")
			return fmt.Errorf("interest events: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Recent alerts are fetched by recency, so today's log is a filter
		// over a larger batch; past dates use the exact-date query.
		opts := store.AlertListOpts{Date: date}
		if date == today {
			opts = store.AlertListOpts{Limit: c.alertBatch}
		}
		var err error
		if alerts, err = st.ListTheftAlerts(gctx, opts); err != nil {
			metrics.RecordGatewayError("list_alerts")
			return fmt.Errorf("theft alerts: %w", err)
		}
		if date == today {
			alerts = analytics.AlertsOn(alerts, today, loc)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, fmt.Errorf("refresh %s: %w", date, err)
	}

	visitors := analytics.VisitorHourly(sessions, date, hours, loc)
	interest := analytics.InterestHourly(events, date, hours, loc)

	return Snapshot{
		Date:               date,
		Today:              date == today,
		TotalVisitors:      summary.TotalIn,
		InterestedVisitors: summary.TotalInterest,
		TotalOut:           summary.TotalOut,
		TotalTheft:         summary.TotalTheft,
		AvgDwellTime:       analytics.AverageDwellTime(events, date),
		ConversionRate:     analytics.ConversionRate(summary.TotalIn, summary.TotalInterest),
		PeakHour:           analytics.PeakHour(interest),
		Visitors:           visitors,
		Interest:           interest,
		Alerts:             analytics.AlertEntries(alerts, c.reporter.Bucket(), loc),
		UpdatedAt:          c.reporter.Now(),
	}, nil
}

// Subscribe returns a channel receiving every published snapshot and a
// function that cancels the subscription. Slow subscribers miss snapshots
// rather than block the controller.
func (c *Controller) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			c.mu.Unlock()
			close(ch)
		})
	}
}

// publish must be called with mu held.
func (c *Controller) publish(snap Snapshot) {
	for ch := range c.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
