package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/shopguard/pkg/record"
)

// ErrNotFound is returned by single-row lookups with no match.
var ErrNotFound = errors.New("not found")

// AlertListOpts controls theft alert listing. A non-empty Date restricts
// to that calendar date; Limit caps the number of rows, newest first.
type AlertListOpts struct {
	Date  string
	Limit int
}

// Store is the data gateway contract the dashboard reads through.
type Store interface {
	InsertVisitorSession(ctx context.Context, s *record.VisitorSession) error
	InsertInterestEvent(ctx context.Context, e *record.InterestEvent) error
	InsertTheftAlert(ctx context.Context, a *record.TheftAlert) error
	UpsertSummary(ctx context.Context, s *record.AnalyticsSummary) error

	GetSummary(ctx context.Context, date string) (*record.AnalyticsSummary, error)
	ListVisitorSessions(ctx context.Context, date string) ([]record.VisitorSession, error)
	ListInterestEvents(ctx context.Context, date string) ([]record.InterestEvent, error)
	ListTheftAlerts(ctx context.Context, opts AlertListOpts) ([]record.TheftAlert, error)

	UpsertPushSubscription(ctx context.Context, sub *record.PushSubscription) error
	ListPushSubscriptions(ctx context.Context) ([]record.PushSubscription, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertVisitorSession(ctx context.Context, v *record.VisitorSession) error {
	row := *v
	row.Timestamp = row.Timestamp.UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO visitor_sessions (id, timestamp, direction, person_id, camera_id, date)
		VALUES (:id, :timestamp, :direction, :person_id, :camera_id, :date)
	`, row)
	if err != nil {
		return fmt.Errorf("insert visitor session %s: %w", v.ID, err)
	}
	return nil
}

func (s *SQLiteStore) InsertInterestEvent(ctx context.Context, e *record.InterestEvent) error {
	row := *e
	row.Timestamp = row.Timestamp.UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO interest_events (id, timestamp, duration, person_id, camera_id, date)
		VALUES (:id, :timestamp, :duration, :person_id, :camera_id, :date)
	`, row)
	if err != nil {
		return fmt.Errorf("insert interest event %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLiteStore) InsertTheftAlert(ctx context.Context, a *record.TheftAlert) error {
	row := *a
	row.Timestamp = row.Timestamp.UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO theft_alerts (id, timestamp, snapshot_path, camera_id, confidence, alert_type, person_id, date)
		VALUES (:id, :timestamp, :snapshot_path, :camera_id, :confidence, :alert_type, :person_id, :date)
	`, row)
	if err != nil {
		return fmt.Errorf("insert theft alert %s: %w", a.ID, err)
	}
	return nil
}

// UpsertSummary writes the totals for s.Date, keeping one row per date.
func (s *SQLiteStore) UpsertSummary(ctx context.Context, sum *record.AnalyticsSummary) error {
	if sum.ID == "" || sum.ID == "none" {
		sum.ID = uuid.NewString()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO analytics_summary (id, date, total_in, total_interest, total_out, total_theft)
		VALUES (:id, :date, :total_in, :total_interest, :total_out, :total_theft)
		ON CONFLICT(date) DO UPDATE SET
			total_in = excluded.total_in,
			total_interest = excluded.total_interest,
			total_out = excluded.total_out,
			total_theft = excluded.total_theft
	`, sum)
	if err != nil {
		return fmt.Errorf("upsert summary %s: %w", sum.Date, err)
	}

	// The stored id wins on conflict.
	return s.db.GetContext(ctx, &sum.ID, "SELECT id FROM analytics_summary WHERE date = ?", sum.Date)
}

func (s *SQLiteStore) GetSummary(ctx context.Context, date string) (*record.AnalyticsSummary, error) {
	var sum record.AnalyticsSummary
	err := s.db.GetContext(ctx, &sum, "SELECT * FROM analytics_summary WHERE date = ?", date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get summary %s: %w", date, err)
	}
	return &sum, nil
}

func (s *SQLiteStore) ListVisitorSessions(ctx context.Context, date string) ([]record.VisitorSession, error) {
	var rows []record.VisitorSession
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM visitor_sessions WHERE date = ? ORDER BY timestamp ASC", date)
	if err != nil {
		return nil, fmt.Errorf("list visitor sessions %s: %w", date, err)
	}
	return rows, nil
}

func (s *SQLiteStore) ListInterestEvents(ctx context.Context, date string) ([]record.InterestEvent, error) {
	var rows []record.InterestEvent
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM interest_events WHERE date = ? ORDER BY timestamp ASC", date)
	if err != nil {
		return nil, fmt.Errorf("list interest events %s: %w", date, err)
	}
	return rows, nil
}

func (s *SQLiteStore) ListTheftAlerts(ctx context.Context, opts AlertListOpts) ([]record.TheftAlert, error) {
	query := "SELECT * FROM theft_alerts WHERE 1=1"
	var args []any

	if opts.Date != "" {
		query += " AND date = ?"
		args = append(args, opts.Date)
	}

	query += " ORDER BY timestamp DESC"

	limit := opts.Limit
	if limit <= 0 && opts.Date == "" {
		limit = 10
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []record.TheftAlert
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list theft alerts: %w", err)
	}
	return rows, nil
}

// UpsertPushSubscription stores sub keyed by its endpoint.
func (s *SQLiteStore) UpsertPushSubscription(ctx context.Context, sub *record.PushSubscription) error {
	keysJSON, err := json.Marshal(sub.Keys)
	if err != nil {
		return fmt.Errorf("marshal push keys: %w", err)
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (endpoint, keys, user_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			keys = excluded.keys,
			user_id = excluded.user_id
	`, sub.Endpoint, string(keysJSON), sub.UserID, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert push subscription: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListPushSubscriptions(ctx context.Context) ([]record.PushSubscription, error) {
	var subs []record.PushSubscription
	if err := s.db.SelectContext(ctx, &subs, "SELECT * FROM push_subscriptions ORDER BY created_at"); err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}

	for i := range subs {
		if err := json.Unmarshal([]byte(subs[i].KeysJSON), &subs[i].Keys); err != nil {
			return nil, fmt.Errorf("decode keys for %s: %w", subs[i].Endpoint, err)
		}
	}
	return subs, nil
}
