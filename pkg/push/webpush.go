package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/elonfeng/shopguard/pkg/record"
)

// ErrSubscriptionGone marks endpoints the push service reports as expired.
var ErrSubscriptionGone = errors.New("push subscription gone")

// VAPID holds the application server identity used to sign pushes.
type VAPID struct {
	PublicKey  string
	PrivateKey string
	Subject    string
	TTL        int
}

// WebPush sends encrypted payloads to browser push endpoints.
type WebPush struct {
	client *http.Client
	vapid  VAPID
}

// NewWebPush returns nil when either VAPID key is missing, which disables
// browser delivery.
func NewWebPush(v VAPID) *WebPush {
	if v.PublicKey == "" || v.PrivateKey == "" {
		return nil
	}
	if v.TTL <= 0 {
		v.TTL = 60
	}
	return &WebPush{
		client: &http.Client{Timeout: 10 * time.Second},
		vapid:  v,
	}
}

// Send delivers payload to sub. A 404 or 410 answer wraps
// ErrSubscriptionGone.
func (w *WebPush) Send(ctx context.Context, sub record.PushSubscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.vapid.Subject,
		VAPIDPublicKey:  w.vapid.PublicKey,
		VAPIDPrivateKey: w.vapid.PrivateKey,
		TTL:             w.vapid.TTL,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return fmt.Errorf("send web push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: status %d", ErrSubscriptionGone, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("web push status %d", resp.StatusCode)
	}
	return nil
}
