package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/elonfeng/shopguard/internal/logging"
	"github.com/elonfeng/shopguard/internal/metrics"
	"github.com/elonfeng/shopguard/pkg/record"
)

const maxRelayBody = 64 << 10

// SubscriptionStore persists browser push subscriptions.
type SubscriptionStore interface {
	UpsertPushSubscription(ctx context.Context, sub *record.PushSubscription) error
	ListPushSubscriptions(ctx context.Context) ([]record.PushSubscription, error)
}

// Sender delivers an encoded payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub record.PushSubscription, payload []byte) error
}

// Relay registers browser endpoints and fans messages out to them and to
// the configured channels. Failed deliveries are counted, never retried.
type Relay struct {
	subs     SubscriptionStore
	sender   Sender
	channels *Manager
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// NewRelay creates a Relay. A nil sender disables browser delivery and a
// nil manager disables channel delivery.
func NewRelay(subs SubscriptionStore, sender Sender, channels *Manager) *Relay {
	r := &Relay{
		subs:     subs,
		channels: channels,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		log:      logging.Component("push"),
	}
	// A typed nil *WebPush must not become a non-nil interface.
	if wp, ok := sender.(*WebPush); !ok || wp != nil {
		r.sender = sender
	}
	return r
}

// Throttle caps browser deliveries at perSecond; zero or less removes the
// cap.
func (r *Relay) Throttle(perSecond int) *Relay {
	if perSecond <= 0 {
		r.limiter = rate.NewLimiter(rate.Inf, 0)
		return r
	}
	r.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
	return r
}

// Register validates sub and upserts it by endpoint.
func (r *Relay) Register(ctx context.Context, sub *record.PushSubscription) error {
	if err := record.Validate(sub); err != nil {
		return err
	}
	if sub.UserID != nil && *sub.UserID == "" {
		sub.UserID = nil
	}
	if err := r.subs.UpsertPushSubscription(ctx, sub); err != nil {
		return fmt.Errorf("register push subscription: %w", err)
	}
	r.log.Info().Str("endpoint", sub.Endpoint).Msg("push subscription registered")
	return nil
}

// Fanout sends msg to every registered subscription and channel and returns
// how many browser deliveries succeeded. Only a failure to list
// subscriptions is returned as an error.
func (r *Relay) Fanout(ctx context.Context, msg Message) (int, error) {
	msg = msg.WithDefaults()

	if r.channels.HasNotifiers() {
		if err := r.channels.Broadcast(ctx, &msg); err != nil {
			r.log.Warn().Err(err).Msg("channel delivery failed")
		}
	}

	subs, err := r.subs.ListPushSubscriptions(ctx)
	if err != nil {
		metrics.RecordGatewayError("list_push_subscriptions")
		return 0, fmt.Errorf("list push subscriptions: %w", err)
	}
	if r.sender == nil {
		if len(subs) > 0 {
			r.log.Warn().Int("subscriptions", len(subs)).Msg("web push disabled, no VAPID keys")
		}
		return 0, nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal push payload: %w", err)
	}

	sent := 0
	for _, sub := range subs {
		if err := r.limiter.Wait(ctx); err != nil {
			r.log.Warn().Err(err).Int("sent", sent).Msg("push fan-out interrupted")
			break
		}
		err := r.sender.Send(ctx, sub, payload)
		metrics.RecordPush("webpush", err)
		if err != nil {
			ev := r.log.Warn()
			if errors.Is(err, ErrSubscriptionGone) {
				ev = r.log.Debug()
			}
			ev.Err(err).Str("endpoint", sub.Endpoint).Msg("push delivery failed")
			continue
		}
		sent++
	}

	r.log.Info().Int("sent", sent).Int("total", len(subs)).Str("title", msg.Title).Msg("push fan-out done")
	return sent, nil
}

// ServeHTTP is the relay endpoint: POST {title?, body?, url?} answers
// {"sent": n}.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, maxRelayBody))
	if err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	sent, err := r.Fanout(req.Context(), msg)
	if err != nil {
		r.log.Error().Err(err).Msg("relay failed")
		http.Error(w, "Failed to fetch subscriptions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"sent": sent})
}
