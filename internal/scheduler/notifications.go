package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/shopguard/internal/logging"
	"github.com/elonfeng/shopguard/internal/metrics"
	"github.com/elonfeng/shopguard/pkg/notify"
)

// NotificationRefresher reloads the notification list on a fixed period.
type NotificationRefresher struct {
	reconciler *notify.Reconciler
	interval   time.Duration
	limit      int
	log        zerolog.Logger
}

// NewNotificationRefresher creates a refresher loading limit alerts every
// interval.
func NewNotificationRefresher(r *notify.Reconciler, interval time.Duration, limit int) *NotificationRefresher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if limit <= 0 {
		limit = 10
	}
	return &NotificationRefresher{
		reconciler: r,
		interval:   interval,
		limit:      limit,
		log:        logging.Component("notifications"),
	}
}

func (n *NotificationRefresher) Serve(ctx context.Context) error {
	return tickLoop(ctx, n.interval, n.log, n.refresh)
}

func (n *NotificationRefresher) String() string { return "notification-refresher" }

func (n *NotificationRefresher) refresh(ctx context.Context) {
	start := time.Now()
	items, err := n.reconciler.Load(ctx, n.limit)
	metrics.RecordRefresh("notifications", time.Since(start), err)
	if err != nil {
		if ctx.Err() == nil {
			n.log.Warn().Err(err).Msg("refresh failed, keeping previous list")
		}
		return
	}
	n.log.Debug().Int("count", len(items)).Int("unread", n.reconciler.UnreadCount()).Msg("notifications refreshed")
}
