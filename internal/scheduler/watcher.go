package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/shopguard/internal/logging"
	"github.com/elonfeng/shopguard/internal/metrics"
	"github.com/elonfeng/shopguard/internal/store"
	"github.com/elonfeng/shopguard/pkg/notify"
	"github.com/elonfeng/shopguard/pkg/push"
	"github.com/elonfeng/shopguard/pkg/record"
)

// Fanout delivers a push message to every registered destination.
type Fanout interface {
	Fanout(ctx context.Context, msg push.Message) (int, error)
}

// AlertWatcher polls for theft alerts and pushes one notification per alert
// it has not seen before. Alerts present on the first poll are only
// remembered.
type AlertWatcher struct {
	alerts   notify.AlertSource
	fanout   Fanout
	interval time.Duration
	batch    int
	loc      *time.Location
	log      zerolog.Logger

	seen   map[string]struct{}
	seeded bool
}

// NewAlertWatcher creates a watcher checking the newest batch alerts every
// interval.
func NewAlertWatcher(alerts notify.AlertSource, f Fanout, interval time.Duration, batch int, loc *time.Location) *AlertWatcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	if loc == nil {
		loc = time.Local
	}
	return &AlertWatcher{
		alerts:   alerts,
		fanout:   f,
		interval: interval,
		batch:    batch,
		loc:      loc,
		log:      logging.Component("alert-watcher"),
		seen:     make(map[string]struct{}),
	}
}

func (w *AlertWatcher) Serve(ctx context.Context) error {
	return tickLoop(ctx, w.interval, w.log, func(ctx context.Context) {
		if _, err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("poll failed")
		}
	})
}

func (w *AlertWatcher) String() string { return "alert-watcher" }

// Poll checks for new alerts and fans them out oldest first. It returns the
// alerts that were new. Poll is not safe for concurrent use.
func (w *AlertWatcher) Poll(ctx context.Context) ([]record.TheftAlert, error) {
	start := time.Now()
	alerts, err := w.alerts.ListTheftAlerts(ctx, store.AlertListOpts{Limit: w.batch})
	metrics.RecordRefresh("alerts", time.Since(start), err)
	if err != nil {
		metrics.RecordGatewayError("list_alerts")
		return nil, fmt.Errorf("poll alerts: %w", err)
	}

	current := make(map[string]struct{}, len(alerts))
	var fresh []record.TheftAlert
	for _, a := range alerts {
		current[a.ID] = struct{}{}
		if _, ok := w.seen[a.ID]; !ok && w.seeded {
			fresh = append(fresh, a)
		}
	}

	// Only the current batch is remembered; older ids cannot come back as
	// newest.
	w.seen = current
	if !w.seeded {
		w.seeded = true
		w.log.Info().Int("known", len(current)).Msg("seeded alert watcher")
		return nil, nil
	}

	for i := len(fresh) - 1; i >= 0; i-- {
		msg := AlertMessage(fresh[i], w.loc)
		sent, err := w.fanout.Fanout(ctx, msg)
		if err != nil {
			w.log.Warn().Err(err).Str("alert_id", fresh[i].ID).Int("sent", sent).Msg("push fan-out incomplete")
			continue
		}
		w.log.Info().Str("alert_id", fresh[i].ID).Int("sent", sent).Msg("theft alert pushed")
	}
	return fresh, nil
}

// AlertMessage builds the push message announcing a.
func AlertMessage(a record.TheftAlert, loc *time.Location) push.Message {
	return push.Message{
		Title: push.DefaultTitle,
		Body: fmt.Sprintf("Suspicious hand movement detected in %s at %s",
			a.Location(), a.Timestamp.In(loc).Format("15:04")),
		URL:   push.DefaultURL,
		Image: a.SnapshotPath,
		Tag:   a.ID,
	}
}
