package supabase

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/elonfeng/shopguard/internal/metrics"
	"github.com/elonfeng/shopguard/internal/store"
	"github.com/elonfeng/shopguard/pkg/record"
)

const (
	tableSessions      = "visitor_sessions"
	tableInterest      = "interest_events"
	tableAlerts        = "theft_alerts"
	tableSummary       = "analytics_summary"
	tableSubscriptions = "push_subscriptions"
)

var _ store.Store = (*Client)(nil)

// restTime accepts the timestamp shapes PostgREST emits for timestamptz and
// timestamp columns.
type restTime struct{ time.Time }

var restTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

func (t *restTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range restTimeLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v
			return nil
		}
	}
	return fmt.Errorf("parse timestamp %q", s)
}

type sessionRow struct {
	ID        string           `json:"id,omitempty"`
	Timestamp restTime         `json:"timestamp"`
	Direction record.Direction `json:"direction"`
	PersonID  *string          `json:"person_id"`
	CameraID  *string          `json:"camera_id"`
	Date      string           `json:"date"`
}

type interestRow struct {
	ID        string   `json:"id,omitempty"`
	Timestamp restTime `json:"timestamp"`
	Duration  int      `json:"duration"`
	PersonID  *string  `json:"person_id"`
	CameraID  *string  `json:"camera_id"`
	Date      string   `json:"date"`
}

type alertRow struct {
	ID           string   `json:"id,omitempty"`
	Timestamp    restTime `json:"timestamp"`
	SnapshotPath string   `json:"snapshot_path"`
	CameraID     *string  `json:"camera_id"`
	Confidence   *float64 `json:"confidence"`
	AlertType    *string  `json:"alert_type"`
	PersonID     *string  `json:"person_id"`
	Date         string   `json:"date"`
}

type subscriptionRow struct {
	Endpoint  string          `json:"endpoint"`
	Keys      record.PushKeys `json:"keys"`
	UserID    *string         `json:"user_id"`
	CreatedAt *restTime       `json:"created_at,omitempty"`
}

// insertRow encodes a record as a column map, dropping null columns and
// an unset id so the table defaults apply.
func insertRow(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for k, val := range m {
		if val == nil || (k == "id" && val == "") {
			delete(m, k)
		}
	}
	return m, nil
}

// keepValid drops rows that fail record validation. Remote rows are not
// trusted to match the record constraints.
func keepValid[T any](c *Client, table string, rows []T) []T {
	out := rows[:0]
	for i := range rows {
		if err := record.Validate(&rows[i]); err != nil {
			metrics.RecordGatewayError("invalid_" + table)
			c.log.Warn().Err(err).Str("table", table).Msg("skipping invalid row")
			continue
		}
		out = append(out, rows[i])
	}
	return out
}

func restPath(table string) string { return "/rest/v1/" + table }

func dateQuery(date, order string) url.Values {
	q := url.Values{}
	q.Set("select", "*")
	if date != "" {
		q.Set("date", "eq."+date)
	}
	if order != "" {
		q.Set("order", order)
	}
	return q
}

func (c *Client) insert(ctx context.Context, table string, rec any) error {
	row, err := insertRow(rec)
	if err != nil {
		return fmt.Errorf("encode %s row: %w", table, err)
	}
	if _, err := c.post(ctx, restPath(table), nil, "return=minimal", row); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (c *Client) InsertVisitorSession(ctx context.Context, v *record.VisitorSession) error {
	return c.insert(ctx, tableSessions, v)
}

func (c *Client) InsertInterestEvent(ctx context.Context, e *record.InterestEvent) error {
	return c.insert(ctx, tableInterest, e)
}

func (c *Client) InsertTheftAlert(ctx context.Context, a *record.TheftAlert) error {
	return c.insert(ctx, tableAlerts, a)
}

// UpsertSummary merges sum on its date and reads back the stored id.
func (c *Client) UpsertSummary(ctx context.Context, sum *record.AnalyticsSummary) error {
	row := map[string]any{
		"date":           sum.Date,
		"total_in":       sum.TotalIn,
		"total_interest": sum.TotalInterest,
		"total_out":      sum.TotalOut,
		"total_theft":    sum.TotalTheft,
	}
	q := url.Values{}
	q.Set("on_conflict", "date")

	data, err := c.post(ctx, restPath(tableSummary), q, "resolution=merge-duplicates,return=representation", []map[string]any{row})
	if err != nil {
		return fmt.Errorf("upsert summary %s: %w", sum.Date, err)
	}

	var stored []record.AnalyticsSummary
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("decode upserted summary: %w", err)
	}
	if len(stored) > 0 {
		sum.ID = stored[0].ID
	}
	return nil
}

func (c *Client) GetSummary(ctx context.Context, date string) (*record.AnalyticsSummary, error) {
	q := dateQuery(date, "")
	q.Set("limit", "1")

	var rows []record.AnalyticsSummary
	if err := c.get(ctx, restPath(tableSummary), q, &rows); err != nil {
		return nil, fmt.Errorf("get summary %s: %w", date, err)
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return &rows[0], nil
}

func (c *Client) ListVisitorSessions(ctx context.Context, date string) ([]record.VisitorSession, error) {
	var rows []sessionRow
	if err := c.get(ctx, restPath(tableSessions), dateQuery(date, "timestamp.asc"), &rows); err != nil {
		return nil, fmt.Errorf("list visitor sessions: %w", err)
	}
	out := make([]record.VisitorSession, len(rows))
	for i, r := range rows {
		out[i] = record.VisitorSession{
			ID:        r.ID,
			Timestamp: r.Timestamp.Time,
			Direction: r.Direction,
			PersonID:  r.PersonID,
			CameraID:  r.CameraID,
			Date:      r.Date,
		}
	}
	return keepValid(c, tableSessions, out), nil
}

func (c *Client) ListInterestEvents(ctx context.Context, date string) ([]record.InterestEvent, error) {
	var rows []interestRow
	if err := c.get(ctx, restPath(tableInterest), dateQuery(date, "timestamp.asc"), &rows); err != nil {
		return nil, fmt.Errorf("list interest events: %w", err)
	}
	out := make([]record.InterestEvent, len(rows))
	for i, r := range rows {
		out[i] = record.InterestEvent{
			ID:        r.ID,
			Timestamp: r.Timestamp.Time,
			Duration:  r.Duration,
			PersonID:  r.PersonID,
			CameraID:  r.CameraID,
			Date:      r.Date,
		}
	}
	return keepValid(c, tableInterest, out), nil
}

// ListTheftAlerts lists alerts newest first. Without a date or a limit the
// ten most recent are returned.
func (c *Client) ListTheftAlerts(ctx context.Context, opts store.AlertListOpts) ([]record.TheftAlert, error) {
	q := dateQuery(opts.Date, "timestamp.desc")
	limit := opts.Limit
	if limit <= 0 && opts.Date == "" {
		limit = 10
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var rows []alertRow
	if err := c.get(ctx, restPath(tableAlerts), q, &rows); err != nil {
		return nil, fmt.Errorf("list theft alerts: %w", err)
	}
	out := make([]record.TheftAlert, len(rows))
	for i, r := range rows {
		out[i] = record.TheftAlert{
			ID:           r.ID,
			Timestamp:    r.Timestamp.Time,
			SnapshotPath: r.SnapshotPath,
			CameraID:     r.CameraID,
			Confidence:   r.Confidence,
			AlertType:    r.AlertType,
			PersonID:     r.PersonID,
			Date:         r.Date,
		}
	}
	return keepValid(c, tableAlerts, out), nil
}

// UpsertPushSubscription stores sub keyed by its endpoint.
func (c *Client) UpsertPushSubscription(ctx context.Context, sub *record.PushSubscription) error {
	q := url.Values{}
	q.Set("on_conflict", "endpoint")
	row := subscriptionRow{Endpoint: sub.Endpoint, Keys: sub.Keys, UserID: sub.UserID}

	if _, err := c.post(ctx, restPath(tableSubscriptions), q, "resolution=merge-duplicates,return=minimal", []subscriptionRow{row}); err != nil {
		return fmt.Errorf("upsert push subscription: %w", err)
	}
	return nil
}

func (c *Client) ListPushSubscriptions(ctx context.Context) ([]record.PushSubscription, error) {
	q := url.Values{}
	q.Set("select", "*")

	var rows []subscriptionRow
	if err := c.get(ctx, restPath(tableSubscriptions), q, &rows); err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	out := make([]record.PushSubscription, len(rows))
	for i, r := range rows {
		out[i] = record.PushSubscription{Endpoint: r.Endpoint, Keys: r.Keys, UserID: r.UserID}
		if r.CreatedAt != nil {
			out[i].CreatedAt = r.CreatedAt.Time
		}
	}
	return keepValid(c, tableSubscriptions, out), nil
}
