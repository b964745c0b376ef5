// Package notify keeps the theft notification list and its read/unread
// state.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/shopguard/internal/logging"
	"github.com/elonfeng/shopguard/internal/metrics"
	"github.com/elonfeng/shopguard/internal/store"
	"github.com/elonfeng/shopguard/pkg/record"
)

// TimeLayout is the en-GB dd/mm/yyyy hh:mm notification time.
const TimeLayout = "02/01/2006 15:04"

const (
	TypeTheft  = "theft"
	TheftTitle = "Theft Alert Detected"
)

// Notification is one entry of the notification panel.
type Notification struct {
	ID           string    `json:"id"`
	TheftAlertID string    `json:"theft_alert_id,omitempty"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	Time         string    `json:"time"`
	Timestamp    time.Time `json:"timestamp"`
	Read         bool      `json:"read"`
}

// ReadStore persists the set of alert ids the user has acknowledged.
type ReadStore interface {
	ReadIDs(ctx context.Context) ([]string, error)
	SaveReadIDs(ctx context.Context, ids []string) error
}

// AlertSource lists theft alerts, newest first.
type AlertSource interface {
	ListTheftAlerts(ctx context.Context, opts store.AlertListOpts) ([]record.TheftAlert, error)
}

// FromAlert maps a theft alert to an unread notification.
func FromAlert(a record.TheftAlert, loc *time.Location) Notification {
	if loc == nil {
		loc = time.UTC
	}
	return Notification{
		ID:           a.ID,
		TheftAlertID: a.ID,
		Type:         TypeTheft,
		Title:        TheftTitle,
		Message:      fmt.Sprintf("Suspicious hand movement detected in %s", a.Location()),
		Time:         a.Timestamp.In(loc).Format(TimeLayout),
		Timestamp:    a.Timestamp,
	}
}

// Reconciler merges fetched alerts with the persisted read set.
type Reconciler struct {
	alerts AlertSource
	reads  ReadStore
	loc    *time.Location
	log    zerolog.Logger

	mu    sync.Mutex
	items []Notification
}

// NewReconciler creates a Reconciler. Times are formatted in loc.
func NewReconciler(alerts AlertSource, reads ReadStore, loc *time.Location) *Reconciler {
	if loc == nil {
		loc = time.Local
	}
	return &Reconciler{
		alerts: alerts,
		reads:  reads,
		loc:    loc,
		log:    logging.Component("notify"),
		items:  []Notification{},
	}
}

// Load fetches the limit most recent alerts and rebuilds the list. On a
// fetch failure the previous list is kept and the error returned.
func (r *Reconciler) Load(ctx context.Context, limit int) ([]Notification, error) {
	alerts, err := r.alerts.ListTheftAlerts(ctx, store.AlertListOpts{Limit: limit})
	if err != nil {
		metrics.RecordGatewayError("list_alerts")
		return r.Notifications(), fmt.Errorf("load notifications: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	read := r.readSet(ctx)
	items := make([]Notification, 0, len(alerts))
	for _, a := range alerts {
		n := FromAlert(a, r.loc)
		_, n.Read = read[n.TheftAlertID]
		items = append(items, n)
	}
	r.items = items
	r.publish()

	return cloneItems(items), nil
}

// MarkRead adds id to the read set. Marking twice is a no-op.
func (r *Reconciler) MarkRead(ctx context.Context, id string) error {
	return r.markRead(ctx, func([]Notification) []string { return []string{id} })
}

// MarkAllRead adds every listed notification to the read set.
func (r *Reconciler) MarkAllRead(ctx context.Context) error {
	return r.markRead(ctx, func(items []Notification) []string {
		ids := make([]string, 0, len(items))
		for _, n := range items {
			if n.TheftAlertID != "" {
				ids = append(ids, n.TheftAlertID)
			}
		}
		return ids
	})
}

// markRead unions the selected ids into the persisted set and re-derives
// the read flags. The in-memory flags change even if saving fails.
func (r *Reconciler) markRead(ctx context.Context, pick func([]Notification) []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	read := r.readSet(ctx)
	for _, id := range pick(r.items) {
		read[id] = struct{}{}
	}

	ids := make([]string, 0, len(read))
	for id := range read {
		ids = append(ids, id)
	}

	var saveErr error
	if err := r.reads.SaveReadIDs(ctx, ids); err != nil {
		r.log.Error().Err(err).Msg("save read state failed")
		saveErr = fmt.Errorf("save read state: %w", err)
	}

	for i := range r.items {
		_, r.items[i].Read = read[r.items[i].TheftAlertID]
	}
	r.publish()
	return saveErr
}

// Notifications returns a copy of the current list.
func (r *Reconciler) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneItems(r.items)
}

// UnreadCount returns how many listed notifications are unread.
func (r *Reconciler) UnreadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unread(r.items)
}

// readSet loads the persisted ids; failures read as an empty set.
func (r *Reconciler) readSet(ctx context.Context) map[string]struct{} {
	ids, err := r.reads.ReadIDs(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("load read state failed")
		ids = nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (r *Reconciler) publish() {
	metrics.UnreadNotifications.Set(float64(unread(r.items)))
}

func unread(items []Notification) int {
	n := 0
	for _, item := range items {
		if !item.Read {
			n++
		}
	}
	return n
}

func cloneItems(items []Notification) []Notification {
	return append([]Notification{}, items...)
}
