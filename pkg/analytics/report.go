package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/shopguard/internal/logging"
	"github.com/elonfeng/shopguard/internal/metrics"
	"github.com/elonfeng/shopguard/internal/store"
	"github.com/elonfeng/shopguard/pkg/record"
	"github.com/elonfeng/shopguard/pkg/snapshot"
)

// ErrDateOutOfRange is returned for historical dates outside the last month.
var ErrDateOutOfRange = errors.New("date out of range")

// AlertTimeLayout is the en-GB day/month/year form used in alert logs.
const AlertTimeLayout = "02/01/2006 15:04:05"

// AlertEntry is a theft alert shaped for the alert log.
type AlertEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Time       string    `json:"time"`
	Snapshot   string    `json:"snapshot"`
	Location   string    `json:"location"`
	Confidence float64   `json:"confidence"`
}

// NewAlertEntry formats a in loc and resolves its snapshot against bucket.
func NewAlertEntry(a record.TheftAlert, bucket snapshot.Bucket, loc *time.Location) AlertEntry {
	if loc == nil {
		loc = time.UTC
	}
	return AlertEntry{
		ID:         a.ID,
		Timestamp:  a.Timestamp,
		Time:       a.Timestamp.In(loc).Format(AlertTimeLayout),
		Snapshot:   snapshot.Resolve(bucket, a.SnapshotPath),
		Location:   a.Location(),
		Confidence: a.ConfidenceOrZero(),
	}
}

// AlertEntries maps alerts in order.
func AlertEntries(alerts []record.TheftAlert, bucket snapshot.Bucket, loc *time.Location) []AlertEntry {
	out := make([]AlertEntry, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, NewAlertEntry(a, bucket, loc))
	}
	return out
}

// DwellTime pairs a date with its average dwell time.
type DwellTime struct {
	Date      string `json:"date"`
	DwellTime string `json:"dwell_time"`
}

// DayReport is the historical view of one calendar day.
type DayReport struct {
	Date               string        `json:"date"`
	TotalVisitors      int           `json:"total_visitors"`
	InterestedVisitors int           `json:"interested_visitors"`
	AvgDwellTime       string        `json:"avg_dwell_time"`
	TheftAlerts        int           `json:"theft_alerts"`
	HourlyVisitors     []HourlyCount `json:"hourly_visitors"`
	Alerts             []AlertEntry  `json:"alerts"`
	PeakHour           int           `json:"peak_hour"`
	ConversionRate     int           `json:"conversion_rate"`
}

// ZeroReport is the report shown when nothing could be loaded for date.
func ZeroReport(date string, hours HourRange) DayReport {
	return DayReport{
		Date:           date,
		AvgDwellTime:   ZeroDwell,
		HourlyVisitors: hours.ZeroSeries(),
		Alerts:         []AlertEntry{},
		PeakHour:       DefaultPeakHour,
	}
}

// DailySummary looks up the summary row for date. A missing row or a
// gateway error yields the zero summary; totals are never derived from raw
// events.
func DailySummary(ctx context.Context, s store.Store, date string) record.AnalyticsSummary {
	sum, err := s.GetSummary(ctx, date)
	if errors.Is(err, store.ErrNotFound) {
		return record.ZeroSummary(date)
	}
	if err != nil {
		metrics.RecordGatewayError("get_summary")
		logging.Warn().Err(err).Str("date", date).Msg("summary lookup failed")
		return record.ZeroSummary(date)
	}
	return *sum
}

// Reporter answers date-scoped analytics queries against the gateway.
type Reporter struct {
	store  store.Store
	bucket snapshot.Bucket
	loc    *time.Location
	hours  HourRange
	now    func() time.Time
	log    zerolog.Logger
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithBucket resolves snapshot keys against b.
func WithBucket(b snapshot.Bucket) Option {
	return func(r *Reporter) { r.bucket = b }
}

// WithLocation sets the timezone used for hours and calendar dates.
func WithLocation(loc *time.Location) Option {
	return func(r *Reporter) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithHours sets the clock-hour window of the hourly series.
func WithHours(h HourRange) Option {
	return func(r *Reporter) { r.hours = h }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// NewReporter creates a Reporter over s.
func NewReporter(s store.Store, opts ...Option) *Reporter {
	r := &Reporter{
		store: s,
		loc:   time.Local,
		hours: DefaultHours(),
		now:   time.Now,
		log:   logging.Component("analytics"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reporter) Location() *time.Location { return r.loc }
func (r *Reporter) Hours() HourRange { return r.hours }
func (r *Reporter) Bucket() snapshot.Bucket { return r.bucket }
func (r *Reporter) Store() store.Store { return r.store }
func (r *Reporter) Now() time.Time { return r.now() }

// Today returns the current calendar date.
func (r *Reporter) Today() string {
	return record.DateOf(r.now(), r.loc)
}

// Summary returns the summary for date, zero when absent.
func (r *Reporter) Summary(ctx context.Context, date string) record.AnalyticsSummary {
	return DailySummary(ctx, r.store, date)
}

// AverageDwell returns the average dwell time for date; "00:00" on error.
func (r *Reporter) AverageDwell(ctx context.Context, date string) string {
	events, err := r.store.ListInterestEvents(ctx, date)
	if err != nil {
		metrics.RecordGatewayError("list_interest")
		r.log.Warn().Err(err).Str("date", date).Msg("dwell time lookup failed")
		return ZeroDwell
	}
	return AverageDwellTime(events, date)
}

// DwellTimes returns the average dwell time of each date, in order.
func (r *Reporter) DwellTimes(ctx context.Context, dates []string) []DwellTime {
	out := make([]DwellTime, 0, len(dates))
	for _, d := range dates {
		out = append(out, DwellTime{Date: d, DwellTime: r.AverageDwell(ctx, d)})
	}
	return out
}

// VisitorChart returns the hourly "in" series for date.
func (r *Reporter) VisitorChart(ctx context.Context, date string) ([]HourlyCount, error) {
	sessions, err := r.store.ListVisitorSessions(ctx, date)
	if err != nil {
		metrics.RecordGatewayError("list_sessions")
		return r.hours.ZeroSeries(), fmt.Errorf("visitor chart %s: %w", date, err)
	}
	return VisitorHourly(sessions, date, r.hours, r.loc), nil
}

// InterestChart returns the hourly interest series for date.
func (r *Reporter) InterestChart(ctx context.Context, date string) ([]HourlyCount, error) {
	events, err := r.store.ListInterestEvents(ctx, date)
	if err != nil {
		metrics.RecordGatewayError("list_interest")
		return r.hours.ZeroSeries(), fmt.Errorf("interest chart %s: %w", date, err)
	}
	return InterestHourly(events, date, r.hours, r.loc), nil
}

// RecentAlerts returns the newest limit alerts. With todayOnly the batch
// is narrowed to alerts whose timestamp falls on today.
func (r *Reporter) RecentAlerts(ctx context.Context, limit int, todayOnly bool) ([]AlertEntry, error) {
	alerts, err := r.store.ListTheftAlerts(ctx, store.AlertListOpts{Limit: limit})
	if err != nil {
		metrics.RecordGatewayError("list_alerts")
		return nil, fmt.Errorf("recent alerts: %w", err)
	}
	if todayOnly {
		alerts = AlertsOn(alerts, r.Today(), r.loc)
	}
	return AlertEntries(alerts, r.bucket, r.loc), nil
}

// CheckDate accepts dates between one month ago and today inclusive.
func (r *Reporter) CheckDate(date string) error {
	d, err := time.ParseInLocation(record.DateLayout, date, r.loc)
	if err != nil {
		return fmt.Errorf("%w: date %q", record.ErrInvalid, date)
	}

	now := r.now().In(r.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.loc)
	earliest := today.AddDate(0, -1, 0)

	if d.After(today) || d.Before(earliest) {
		return fmt.Errorf("%w: %s not within %s..%s", ErrDateOutOfRange, date,
			earliest.Format(record.DateLayout), today.Format(record.DateLayout))
	}
	return nil
}

// DayReport builds the historical view of date. Each part falls back to its
// zero value on failure, so the report itself never fails.
func (r *Reporter) DayReport(ctx context.Context, date string) DayReport {
	rep := ZeroReport(date, r.hours)

	sum := r.Summary(ctx, date)
	rep.TotalVisitors = sum.TotalIn
	rep.InterestedVisitors = sum.TotalInterest

	alerts, err := r.store.ListTheftAlerts(ctx, store.AlertListOpts{Date: date})
	if err != nil {
		metrics.RecordGatewayError("list_alerts")
		r.log.Warn().Err(err).Str("date", date).Msg("alert lookup failed")
	} else {
		rep.Alerts = AlertEntries(alerts, r.bucket, r.loc)
		rep.TheftAlerts = len(alerts)
	}

	if series, err := r.InterestChart(ctx, date); err != nil {
		r.log.Warn().Err(err).Msg("interest chart failed")
	} else {
		rep.HourlyVisitors = series
		rep.PeakHour = PeakHour(series)
	}

	rep.AvgDwellTime = r.AverageDwell(ctx, date)
	rep.ConversionRate = ConversionRate(rep.TotalVisitors, rep.InterestedVisitors)
	return rep
}
