package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/goccy/go-json"

	"github.com/elonfeng/shopguard/pkg/record"
)

type memSubs struct {
	mu   sync.Mutex
	subs map[string]record.PushSubscription
	err  error
}

func newMemSubs() *memSubs {
	return &memSubs{subs: make(map[string]record.PushSubscription)}
}

func (m *memSubs) UpsertPushSubscription(_ context.Context, sub *record.PushSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.Endpoint] = *sub
	return nil
}

func (m *memSubs) ListPushSubscriptions(context.Context) ([]record.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]record.PushSubscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out, nil
}

// fakeSender fails for endpoints containing "expired".
type fakeSender struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakeSender) Send(_ context.Context, sub record.PushSubscription, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	if strings.Contains(sub.Endpoint, "expired") {
		return ErrSubscriptionGone
	}
	return nil
}

type recordingNotifier struct {
	name string
	err  error
	got  []Message
}

func (r *recordingNotifier) Name() string { return r.name }
func (r *recordingNotifier) Send(_ context.Context, m *Message) error {
	r.got = append(r.got, *m)
	return r.err
}

func subscription(endpoint string) *record.PushSubscription {
	return &record.PushSubscription{
		Endpoint: endpoint,
		Keys:     record.PushKeys{P256dh: "p", Auth: "a"},
	}
}

func TestMessageWithDefaults(t *testing.T) {
	t.Parallel()

	got := Message{}.WithDefaults()
	if got.Title != "Theft Alert!" || got.Body != "A theft alert has been triggered." || got.URL != "/" {
		t.Errorf("unexpected defaults: %+v", got)
	}

	custom := Message{Title: "T", Body: "B", URL: "/x"}.WithDefaults()
	if custom.Title != "T" || custom.Body != "B" || custom.URL != "/x" {
		t.Errorf("custom fields overwritten: %+v", custom)
	}
}

func TestRelay_Register(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	subs := newMemSubs()
	r := NewRelay(subs, nil, nil)

	empty := ""
	sub := subscription("https://push.example.com/1")
	sub.UserID = &empty
	if err := r.Register(ctx, sub); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if sub.UserID != nil {
		t.Error("empty user id should be stored as null")
	}
	if err := r.Register(ctx, sub); err != nil {
		t.Fatalf("second Register() error: %v", err)
	}
	if len(subs.subs) != 1 {
		t.Errorf("expected upsert by endpoint, got %d rows", len(subs.subs))
	}

	bad := &record.PushSubscription{Endpoint: "not a url"}
	if err := r.Register(ctx, bad); !errors.Is(err, record.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestRelay_FanoutCountsSuccesses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	subs := newMemSubs()
	for _, ep := range []string{"https://push.test/a", "https://push.test/expired", "https://push.test/b"} {
		_ = subs.UpsertPushSubscription(ctx, subscription(ep))
	}
	sender := &fakeSender{}
	slack := &recordingNotifier{name: "slack", err: errors.New("down")}
	hook := &recordingNotifier{name: "webhook"}

	r := NewRelay(subs, sender, NewManager([]Notifier{slack, hook}))
	sent, err := r.Fanout(ctx, Message{Body: "custom"})
	if err != nil {
		t.Fatalf("Fanout() error: %v", err)
	}
	if sent != 2 {
		t.Errorf("sent = %d, want 2", sent)
	}
	if len(sender.payloads) != 3 {
		t.Errorf("expected an attempt per subscription, got %d", len(sender.payloads))
	}

	var payload Message
	if err := json.Unmarshal(sender.payloads[0], &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Title != DefaultTitle || payload.Body != "custom" || payload.URL != DefaultURL {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if len(slack.got) != 1 || len(hook.got) != 1 {
		t.Errorf("every channel should be attempted, got slack=%d webhook=%d", len(slack.got), len(hook.got))
	}
}

func TestRelay_FanoutWithoutSender(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	subs := newMemSubs()
	_ = subs.UpsertPushSubscription(ctx, subscription("https://push.test/a"))

	r := NewRelay(subs, NewWebPush(VAPID{}), nil)
	sent, err := r.Fanout(ctx, Message{})
	if err != nil || sent != 0 {
		t.Errorf("Fanout() = %d, %v; want 0, nil", sent, err)
	}
}

func TestRelay_ThrottleStopsOnDeadline(t *testing.T) {
	t.Parallel()

	subs := newMemSubs()
	for _, ep := range []string{"https://push.test/1", "https://push.test/2", "https://push.test/3"} {
		_ = subs.UpsertPushSubscription(context.Background(), subscription(ep))
	}
	sender := &fakeSender{}
	r := NewRelay(subs, sender, nil).Throttle(1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	sent, err := r.Fanout(ctx, Message{})
	if err != nil {
		t.Fatalf("Fanout() error: %v", err)
	}
	if sent != 1 || len(sender.payloads) != 1 {
		t.Errorf("expected only the burst to go out, sent=%d attempts=%d", sent, len(sender.payloads))
	}
}

func TestRelay_ServeHTTP(t *testing.T) {
	t.Parallel()

	subs := newMemSubs()
	_ = subs.UpsertPushSubscription(context.Background(), subscription("https://push.test/a"))
	failing := newMemSubs()
	failing.err = errors.New("gateway down")

	tests := []struct {
		name     string
		relay    *Relay
		method   string
		body     string
		wantCode int
		wantBody string
	}{
		{"get rejected", NewRelay(subs, &fakeSender{}, nil), http.MethodGet, "", http.StatusMethodNotAllowed, ""},
		{"bad json", NewRelay(subs, &fakeSender{}, nil), http.MethodPost, "{title:", http.StatusBadRequest, ""},
		{"empty body", NewRelay(subs, &fakeSender{}, nil), http.MethodPost, "", http.StatusBadRequest, ""},
		{"success", NewRelay(subs, &fakeSender{}, nil), http.MethodPost, `{"title":"x"}`, http.StatusOK, `{"sent":1}`},
		{"gateway failure", NewRelay(failing, &fakeSender{}, nil), http.MethodPost, `{}`, http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(tt.method, "/api/v1/push/send", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			tt.relay.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && strings.TrimSpace(rec.Body.String()) != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestManager_BroadcastJoinsErrors(t *testing.T) {
	t.Parallel()

	a := &recordingNotifier{name: "a", err: errors.New("first")}
	b := &recordingNotifier{name: "b", err: errors.New("second")}
	err := NewManager([]Notifier{a, b}).Broadcast(context.Background(), &Message{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "a: first") || !strings.Contains(err.Error(), "b: second") {
		t.Errorf("expected joined errors, got %v", err)
	}

	var nilManager *Manager
	if nilManager.HasNotifiers() {
		t.Error("nil manager has no notifiers")
	}
}

func TestWebhook_Signs(t *testing.T) {
	t.Parallel()

	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewWebhook(srv.URL, "s3cret").Send(context.Background(), &Message{Title: "t"}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if gotSig != "sha256="+Sign("s3cret", gotBody) {
		t.Errorf("signature %q does not match body", gotSig)
	}
}

func TestSlackAndDiscord_StatusHandling(t *testing.T) {
	t.Parallel()

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	msg := &Message{Title: "t", Body: "b", Image: "https://x/obj/a.jpg"}
	for _, n := range []Notifier{NewSlack(ok.URL), NewDiscord(ok.URL)} {
		if err := n.Send(context.Background(), msg); err != nil {
			t.Errorf("%s: unexpected error %v", n.Name(), err)
		}
	}
	for _, n := range []Notifier{NewSlack(broken.URL), NewDiscord(broken.URL)} {
		if err := n.Send(context.Background(), msg); err == nil {
			t.Errorf("%s: expected status error", n.Name())
		}
	}
}

func browserKeys(t *testing.T) record.PushKeys {
	t.Helper()

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatal(err)
	}
	return record.PushKeys{
		P256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		Auth:   base64.RawURLEncoding.EncodeToString(auth),
	}
}

func TestWebPush_Send(t *testing.T) {
	t.Parallel()

	vapidPriv, vapidPub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var gotAuth, gotEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		gotEncoding = r.Header.Get("Content-Encoding")
		mu.Unlock()
		if strings.HasSuffix(r.URL.Path, "/gone") {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	wp := NewWebPush(VAPID{PublicKey: vapidPub, PrivateKey: vapidPriv, Subject: "mailto:ops@example.com"})
	if wp == nil {
		t.Fatal("expected web push to be enabled")
	}

	sub := record.PushSubscription{Endpoint: srv.URL + "/push/1", Keys: browserKeys(t)}
	if err := wp.Send(context.Background(), sub, []byte(`{"title":"x"}`)); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	mu.Lock()
	if !strings.HasPrefix(gotAuth, "vapid ") {
		t.Errorf("expected VAPID authorization, got %q", gotAuth)
	}
	if gotEncoding != "aes128gcm" {
		t.Errorf("expected aes128gcm encoding, got %q", gotEncoding)
	}
	mu.Unlock()

	gone := record.PushSubscription{Endpoint: srv.URL + "/gone", Keys: browserKeys(t)}
	if err := wp.Send(context.Background(), gone, []byte(`{}`)); !errors.Is(err, ErrSubscriptionGone) {
		t.Errorf("expected ErrSubscriptionGone, got %v", err)
	}
}
