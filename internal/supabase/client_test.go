package supabase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/elonfeng/shopguard/internal/store"
	"github.com/elonfeng/shopguard/pkg/record"
	"github.com/elonfeng/shopguard/pkg/snapshot"
)

type capture struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
}

func (c *capture) last() (*http.Request, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1], c.bodies[len(c.bodies)-1]
}

// newServer answers each path with the registered JSON body.
func newServer(t *testing.T, routes map[string]string) (*Client, *capture) {
	t.Helper()
	calls := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls.mu.Lock()
		calls.requests = append(calls.requests, r)
		calls.bodies = append(calls.bodies, body)
		calls.mu.Unlock()

		resp, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			http.Error(w, `{"message":"no route"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: srv.URL + "/", Key: "service-key", Bucket: "theftsnapshots"})
	if err != nil {
		t.Fatal(err)
	}
	return c, calls
}

func TestNew_RequiresCredentials(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{URL: "https://x.supabase.co"}); err == nil {
		t.Error("expected error without key")
	}
}

func TestGetSummary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c, calls := newServer(t, map[string]string{
		"GET /rest/v1/analytics_summary": `[{"id":"s1","date":"2025-06-15","total_in":12,"total_interest":3,"total_out":10,"total_theft":1}]`,
	})
	sum, err := c.GetSummary(ctx, "2025-06-15")
	if err != nil {
		t.Fatalf("GetSummary() error: %v", err)
	}
	if sum.ID != "s1" || sum.TotalIn != 12 || sum.TotalTheft != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}

	req, _ := calls.last()
	if req.Header.Get("apikey") != "service-key" || req.Header.Get("Authorization") != "Bearer service-key" {
		t.Errorf("missing auth headers: %v", req.Header)
	}
	if got := req.URL.Query().Get("date"); got != "eq.2025-06-15" {
		t.Errorf("date filter = %q", got)
	}

	empty, _ := newServer(t, map[string]string{"GET /rest/v1/analytics_summary": `[]`})
	if _, err := empty.GetSummary(ctx, "2025-06-14"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListTheftAlerts(t *testing.T) {
	t.Parallel()

	c, calls := newServer(t, map[string]string{
		"GET /rest/v1/theft_alerts": `[
			{"id":"a2","timestamp":"2025-06-15T12:30:00+00:00","snapshot_path":"theft_snapshots/a2.jpg","camera_id":"Camera 1","confidence":0.91,"date":"2025-06-15"},
			{"id":"a1","timestamp":"2025-06-15T09:00:00.123456","snapshot_path":"https://cdn/a1.jpg?","camera_id":null,"date":"2025-06-15"}
		]`,
	})

	alerts, err := c.ListTheftAlerts(context.Background(), store.AlertListOpts{})
	if err != nil {
		t.Fatalf("ListTheftAlerts() error: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts", len(alerts))
	}
	if alerts[0].Location() != "Camera 1" || alerts[0].ConfidenceOrZero() != 0.91 {
		t.Errorf("unexpected first alert: %+v", alerts[0])
	}
	if alerts[1].Location() != record.DefaultLocation {
		t.Errorf("null camera should use the default zone")
	}
	if want := time.Date(2025, 6, 15, 9, 0, 0, 123456000, time.UTC); !alerts[1].Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", alerts[1].Timestamp, want)
	}

	req, _ := calls.last()
	q := req.URL.Query()
	if q.Get("order") != "timestamp.desc" || q.Get("limit") != "10" || q.Get("date") != "" {
		t.Errorf("unexpected query: %s", req.URL.RawQuery)
	}
}

func TestListRows_SkipsInvalid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c, _ := newServer(t, map[string]string{
		"GET /rest/v1/visitor_sessions": `[
			{"id":"v1","timestamp":"2025-06-15T10:00:00Z","direction":"in","date":"2025-06-15"},
			{"id":"v2","timestamp":"2025-06-15T10:05:00Z","direction":"IN","date":"2025-06-15"},
			{"id":"v3","timestamp":null,"direction":"out","date":"2025-06-15"}
		]`,
		"GET /rest/v1/interest_events": `[
			{"id":"i1","timestamp":"2025-06-15T11:00:00Z","duration":40,"date":"2025-06-15"},
			{"id":"i2","timestamp":"2025-06-15T11:00:00Z","duration":-5,"date":"2025-06-15"}
		]`,
		"GET /rest/v1/theft_alerts": `[
			{"id":"a1","timestamp":"2025-06-15T12:00:00Z","snapshot_path":"","date":"2025-06-15"},
			{"id":"a2","timestamp":"2025-06-15T12:00:00Z","snapshot_path":"x.jpg","confidence":1.7,"date":"2025-06-15"},
			{"id":"a3","timestamp":"2025-06-15T12:00:00Z","snapshot_path":"y.jpg","date":"2025-06-15"}
		]`,
	})

	sessions, err := c.ListVisitorSessions(ctx, "2025-06-15")
	if err != nil {
		t.Fatalf("ListVisitorSessions() error: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "v1" {
		t.Errorf("expected only v1, got %+v", sessions)
	}

	events, err := c.ListInterestEvents(ctx, "2025-06-15")
	if err != nil {
		t.Fatalf("ListInterestEvents() error: %v", err)
	}
	if len(events) != 1 || events[0].ID != "i1" {
		t.Errorf("expected only i1, got %+v", events)
	}

	alerts, err := c.ListTheftAlerts(ctx, store.AlertListOpts{Date: "2025-06-15"})
	if err != nil {
		t.Fatalf("ListTheftAlerts() error: %v", err)
	}
	if len(alerts) != 1 || alerts[0].ID != "a3" {
		t.Errorf("expected only a3, got %+v", alerts)
	}
}

func TestInsertAndUpsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c, calls := newServer(t, map[string]string{
		"POST /rest/v1/theft_alerts":       ``,
		"POST /rest/v1/analytics_summary":  `[{"id":"kept","date":"2025-06-15","total_in":4,"total_interest":0,"total_out":0,"total_theft":0}]`,
		"POST /rest/v1/push_subscriptions": ``,
	})

	alert := &record.TheftAlert{Timestamp: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC), SnapshotPath: "x.jpg", Date: "2025-06-15"}
	if err := c.InsertTheftAlert(ctx, alert); err != nil {
		t.Fatalf("InsertTheftAlert() error: %v", err)
	}
	_, body := calls.last()
	var row map[string]any
	if err := json.Unmarshal(body, &row); err != nil {
		t.Fatal(err)
	}
	if _, ok := row["id"]; ok {
		t.Error("empty id should be left to the table default")
	}
	if _, ok := row["camera_id"]; ok {
		t.Error("null columns should be omitted")
	}
	if row["timestamp"] != "2025-06-15T10:00:00Z" {
		t.Errorf("timestamp = %v", row["timestamp"])
	}

	sum := &record.AnalyticsSummary{Date: "2025-06-15", TotalIn: 4}
	if err := c.UpsertSummary(ctx, sum); err != nil {
		t.Fatalf("UpsertSummary() error: %v", err)
	}
	if sum.ID != "kept" {
		t.Errorf("id = %q, want stored id", sum.ID)
	}
	req, _ := calls.last()
	if req.URL.Query().Get("on_conflict") != "date" || !strings.Contains(req.Header.Get("Prefer"), "merge-duplicates") {
		t.Errorf("summary upsert must merge on date: %s %s", req.URL.RawQuery, req.Header.Get("Prefer"))
	}

	sub := &record.PushSubscription{Endpoint: "https://push.test/1", Keys: record.PushKeys{P256dh: "p", Auth: "a"}}
	if err := c.UpsertPushSubscription(ctx, sub); err != nil {
		t.Fatalf("UpsertPushSubscription() error: %v", err)
	}
	req, body = calls.last()
	if req.URL.Query().Get("on_conflict") != "endpoint" || !bytes.Contains(body, []byte(`"keys":{"p256dh":"p","auth":"a"}`)) {
		t.Errorf("unexpected subscription upsert: %s %s", req.URL.RawQuery, body)
	}
}

func TestStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c, calls := newServer(t, map[string]string{
		"POST /storage/v1/object/list/theftsnapshots": `[
			{"name":"photo1.jpg","id":"o1","created_at":"2025-06-15T10:00:00Z","updated_at":"2025-06-15T10:00:00Z","metadata":{"size":1024,"mimetype":"image/jpeg"}},
			{"name":"nested","id":null,"created_at":null,"updated_at":null,"metadata":null}
		]`,
		"POST /storage/v1/object/theftsnapshots/theft_snapshots/new shot.png": `{"Key":"theftsnapshots/theft_snapshots/new shot.png"}`,
	})

	snaps, err := snapshot.List(ctx, c, "theft_snapshots", snapshot.DefaultListOptions())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("folder placeholders should be skipped, got %d objects", len(snaps))
	}
	wantURL := c.baseURL + "/storage/v1/object/public/theftsnapshots/theft_snapshots/photo1.jpg"
	if snaps[0].URL != wantURL {
		t.Errorf("url = %q, want %q", snaps[0].URL, wantURL)
	}

	_, body := calls.last()
	var listReq listRequest
	if err := json.Unmarshal(body, &listReq); err != nil {
		t.Fatal(err)
	}
	if listReq.Prefix != "theft_snapshots" || listReq.Limit != 100 || listReq.SortBy.Column != "created_at" || listReq.SortBy.Order != "desc" {
		t.Errorf("unexpected list request: %+v", listReq)
	}

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	u, err := c.Upload(ctx, "theft_snapshots/new shot.png", bytes.NewReader(png), "")
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if !strings.HasSuffix(u, "/theft_snapshots/new%20shot.png") {
		t.Errorf("unexpected upload url %q", u)
	}
	req, _ := calls.last()
	if req.Header.Get("Content-Type") != "image/png" || req.Header.Get("x-upsert") != "true" {
		t.Errorf("unexpected upload headers: %v", req.Header)
	}

	if _, err := c.Upload(ctx, "../escape.png", bytes.NewReader(png), "image/png"); !errors.Is(err, snapshot.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestCircuitBreaker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL, Key: "k"})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		_, err := c.GetSummary(ctx, "2025-06-15")
		var se *StatusError
		if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
			t.Fatalf("call %d: expected status error, got %v", i, err)
		}
	}
	if _, err := c.GetSummary(ctx, "2025-06-15"); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected open breaker, got %v", err)
	}
	if hits.Load() != 5 {
		t.Errorf("open breaker should not reach the server, hits = %d", hits.Load())
	}
}

func TestCircuitBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"message":"bad filter"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL, Key: "k"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 8; i++ {
		_, _ = c.ListVisitorSessions(context.Background(), "2025-06-15")
	}
	if hits.Load() != 8 {
		t.Errorf("client errors should not open the breaker, hits = %d", hits.Load())
	}
}
