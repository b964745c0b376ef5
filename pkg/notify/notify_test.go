package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/elonfeng/shopguard/internal/store"
	"github.com/elonfeng/shopguard/pkg/record"
)

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []record.TheftAlert
	err    error
	limits []int
}

func (f *fakeAlerts) ListTheftAlerts(_ context.Context, opts store.AlertListOpts) ([]record.TheftAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, opts.Limit)
	if f.err != nil {
		return nil, f.err
	}
	out := f.alerts
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeAlerts) set(alerts []record.TheftAlert, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts, f.err = alerts, err
}

type brokenReads struct{}

func (brokenReads) ReadIDs(context.Context) ([]string, error) { return nil, errors.New("corrupt") }
func (brokenReads) SaveReadIDs(context.Context, []string) error { return errors.New("read-only") }

func sampleAlerts() []record.TheftAlert {
	cam := "Camera 2"
	return []record.TheftAlert{
		{ID: "c", Timestamp: time.Date(2024, 5, 1, 15, 4, 0, 0, time.UTC), CameraID: &cam},
		{ID: "b", Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{ID: "a", Timestamp: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
}

func TestFromAlert(t *testing.T) {
	t.Parallel()

	alerts := sampleAlerts()
	n := FromAlert(alerts[0], time.UTC)

	if n.ID != "c" || n.TheftAlertID != "c" || n.Type != TypeTheft || n.Title != TheftTitle {
		t.Errorf("unexpected notification: %+v", n)
	}
	if n.Message != "Suspicious hand movement detected in Camera 2" {
		t.Errorf("message = %q", n.Message)
	}
	if n.Time != "01/05/2024 15:04" {
		t.Errorf("time = %q, want 01/05/2024 15:04", n.Time)
	}
	if n.Read {
		t.Error("new notification should be unread")
	}

	if got := FromAlert(alerts[1], time.UTC).Message; got != "Suspicious hand movement detected in Show Table Zone" {
		t.Errorf("default location message = %q", got)
	}
}

func TestLoad_AppliesReadSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reads := store.NewMemoryReadState()
	_ = reads.SaveReadIDs(ctx, []string{"b"})

	r := NewReconciler(&fakeAlerts{alerts: sampleAlerts()}, reads, time.UTC)
	items, err := r.Load(ctx, 10)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(items))
	}
	if items[0].ID != "c" || items[2].ID != "a" {
		t.Errorf("expected newest first, got %s..%s", items[0].ID, items[2].ID)
	}
	if !items[1].Read || items[0].Read || items[2].Read {
		t.Errorf("only b should be read: %+v", items)
	}
	if got := r.UnreadCount(); got != 2 {
		t.Errorf("UnreadCount() = %d, want 2", got)
	}
}

func TestLoad_PassesLimit(t *testing.T) {
	t.Parallel()

	src := &fakeAlerts{alerts: sampleAlerts()}
	r := NewReconciler(src, store.NewMemoryReadState(), time.UTC)

	items, _ := r.Load(context.Background(), 2)
	if len(items) != 2 {
		t.Errorf("expected 2 notifications, got %d", len(items))
	}
	if len(src.limits) != 1 || src.limits[0] != 2 {
		t.Errorf("expected limit 2 to reach the gateway, got %v", src.limits)
	}
}

func TestLoad_FailureKeepsPreviousList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeAlerts{alerts: sampleAlerts()}
	r := NewReconciler(src, store.NewMemoryReadState(), time.UTC)
	if _, err := r.Load(ctx, 10); err != nil {
		t.Fatal(err)
	}

	src.set(nil, errors.New("timeout"))
	items, err := r.Load(ctx, 10)
	if err == nil {
		t.Error("expected load error")
	}
	if len(items) != 3 || len(r.Notifications()) != 3 {
		t.Errorf("expected previous list to be kept, got %d", len(r.Notifications()))
	}

	src.set([]record.TheftAlert{}, nil)
	if _, err := r.Load(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if len(r.Notifications()) != 0 {
		t.Errorf("an empty successful fetch clears the list, got %d", len(r.Notifications()))
	}
}

func TestMarkRead_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reads := store.NewMemoryReadState()
	r := NewReconciler(&fakeAlerts{alerts: sampleAlerts()}, reads, time.UTC)
	if _, err := r.Load(ctx, 10); err != nil {
		t.Fatal(err)
	}

	if err := r.MarkRead(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	once, _ := reads.ReadIDs(ctx)

	if err := r.MarkRead(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	twice, _ := reads.ReadIDs(ctx)

	if len(once) != 1 || len(twice) != 1 || once[0] != twice[0] {
		t.Errorf("read set changed on repeat: %v then %v", once, twice)
	}
	if got := r.UnreadCount(); got != 2 {
		t.Errorf("UnreadCount() = %d, want 2", got)
	}
}

func TestMarkAllRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reads := store.NewMemoryReadState()
	_ = reads.SaveReadIDs(ctx, []string{"old"})

	r := NewReconciler(&fakeAlerts{alerts: sampleAlerts()}, reads, time.UTC)
	if _, err := r.Load(ctx, 10); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := r.MarkAllRead(ctx); err != nil {
			t.Fatal(err)
		}
		if got := r.UnreadCount(); got != 0 {
			t.Errorf("UnreadCount() = %d, want 0", got)
		}
	}

	ids, _ := reads.ReadIDs(ctx)
	sort.Strings(ids)
	want := []string{"a", "b", "c", "old"}
	if len(ids) != len(want) {
		t.Fatalf("read set = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("read set = %v, want %v", ids, want)
			break
		}
	}
}

func TestBrokenReadStore_DegradesToEmptySet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r := NewReconciler(&fakeAlerts{alerts: sampleAlerts()}, brokenReads{}, time.UTC)
	items, err := r.Load(ctx, 10)
	if err != nil {
		t.Fatalf("read-state failure must not fail Load: %v", err)
	}
	if unreadCount := r.UnreadCount(); unreadCount != len(items) {
		t.Errorf("expected all unread, got %d of %d", unreadCount, len(items))
	}

	if err := r.MarkRead(ctx, "c"); err == nil {
		t.Error("expected save error to be reported")
	}
	if got := r.UnreadCount(); got != 2 {
		t.Errorf("flag should still flip in memory, UnreadCount() = %d", got)
	}
}

func TestUnreadCount_NeverNegative(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r := NewReconciler(&fakeAlerts{}, store.NewMemoryReadState(), time.UTC)
	_ = r.MarkAllRead(ctx)
	_ = r.MarkRead(ctx, "ghost")

	if got := r.UnreadCount(); got != 0 {
		t.Errorf("UnreadCount() = %d, want 0", got)
	}
}
