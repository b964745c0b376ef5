package analytics

import (
	"fmt"
	"testing"
	"time"

	"github.com/elonfeng/shopguard/pkg/record"
)

func at(date string, hour, minute int) time.Time {
	d, _ := time.Parse(record.DateLayout, date)
	return d.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func TestHourlyCounts_AlwaysThirteenBuckets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sessions []record.VisitorSession
	}{
		{"empty", nil},
		{"all outside range", []record.VisitorSession{
			{Timestamp: at("2024-05-01", 3, 0), Direction: record.DirectionIn, Date: "2024-05-01"},
			{Timestamp: at("2024-05-01", 23, 0), Direction: record.DirectionIn, Date: "2024-05-01"},
		}},
		{"other date only", []record.VisitorSession{
			{Timestamp: at("2024-05-02", 10, 0), Direction: record.DirectionIn, Date: "2024-05-02"},
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			series := VisitorHourly(tt.sessions, "2024-05-01", DefaultHours(), time.UTC)
			if len(series) != 13 {
				t.Fatalf("expected 13 buckets, got %d", len(series))
			}
			for i, c := range series {
				if c.Hour != 9+i {
					t.Errorf("bucket %d has hour %d, want %d", i, c.Hour, 9+i)
				}
				if c.Visitors != 0 {
					t.Errorf("hour %d = %d, want 0", c.Hour, c.Visitors)
				}
			}
		})
	}
}

func TestVisitorHourly_CountsOnlyEntries(t *testing.T) {
	t.Parallel()

	sessions := []record.VisitorSession{
		{Timestamp: at("2024-05-01", 9, 5), Direction: record.DirectionIn, Date: "2024-05-01"},
		{Timestamp: at("2024-05-01", 9, 55), Direction: record.DirectionIn, Date: "2024-05-01"},
		{Timestamp: at("2024-05-01", 9, 30), Direction: record.DirectionOut, Date: "2024-05-01"},
		{Timestamp: at("2024-05-01", 21, 59), Direction: record.DirectionIn, Date: "2024-05-01"},
		{Timestamp: at("2024-05-01", 22, 0), Direction: record.DirectionIn, Date: "2024-05-01"},
		{Direction: record.DirectionIn, Date: "2024-05-01"},
	}

	series := VisitorHourly(sessions, "2024-05-01", DefaultHours(), time.UTC)
	if series[0].Visitors != 2 {
		t.Errorf("hour 9 = %d, want 2", series[0].Visitors)
	}
	if series[12].Visitors != 1 {
		t.Errorf("hour 21 = %d, want 1", series[12].Visitors)
	}

	total := 0
	for _, c := range series {
		total += c.Visitors
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
}

func TestInterestHourly_UsesLocation(t *testing.T) {
	t.Parallel()

	plus2 := time.FixedZone("plus2", 2*3600)
	events := []record.InterestEvent{
		{Timestamp: at("2024-05-01", 8, 0), Date: "2024-05-01"},
	}

	utc := InterestHourly(events, "2024-05-01", DefaultHours(), time.UTC)
	local := InterestHourly(events, "2024-05-01", DefaultHours(), plus2)

	if PeakHour(utc) != DefaultPeakHour {
		t.Errorf("08:00 UTC should be dropped, got peak %d", PeakHour(utc))
	}
	if local[1].Visitors != 1 {
		t.Errorf("08:00 UTC is 10:00 at +2, got series %+v", local)
	}
}

func TestAverageDwellTime(t *testing.T) {
	t.Parallel()

	ev := func(date string, d int) record.InterestEvent {
		return record.InterestEvent{Date: date, Duration: d}
	}

	tests := []struct {
		name   string
		events []record.InterestEvent
		want   string
	}{
		{"no rows", nil, "00:00"},
		{"rows on other dates", []record.InterestEvent{ev("2024-05-02", 90)}, "00:00"},
		{"scenario", []record.InterestEvent{ev("2024-05-01", 90), ev("2024-05-01", 30)}, "01:00"},
		{"rounds half up", []record.InterestEvent{ev("2024-05-01", 1), ev("2024-05-01", 2)}, "00:02"},
		{"minutes exceed 59", []record.InterestEvent{ev("2024-05-01", 3725)}, "62:05"},
		{"zero durations", []record.InterestEvent{ev("2024-05-01", 0)}, "00:00"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := AverageDwellTime(tt.events, "2024-05-01"); got != tt.want {
				t.Errorf("AverageDwellTime() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatDwell_MatchesMinutesAndSeconds(t *testing.T) {
	t.Parallel()

	for _, mean := range []int{1, 59, 60, 61, 599, 600, 5999} {
		want := fmt.Sprintf("%02d:%02d", mean/60, mean%60)
		if got := FormatDwell(mean); got != want {
			t.Errorf("FormatDwell(%d) = %q, want %q", mean, got, want)
		}
	}
}

func TestConversionRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, interest, want int
	}{
		{0, 0, 0},
		{0, 42, 0},
		{100, 25, 25},
		{50, 12, 24},
		{3, 1, 33},
		{3, 2, 67},
	}

	for _, tt := range tests {
		if got := ConversionRate(tt.in, tt.interest); got != tt.want {
			t.Errorf("ConversionRate(%d, %d) = %d, want %d", tt.in, tt.interest, got, tt.want)
		}
	}
}

func TestPeakHour(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		series []HourlyCount
		want   int
	}{
		{"empty", nil, 12},
		{"all zero", DefaultHours().ZeroSeries(), 12},
		{"single max", []HourlyCount{{9, 1}, {10, 4}, {11, 2}}, 10},
		{"tie keeps earliest", []HourlyCount{{9, 0}, {14, 3}, {15, 3}}, 14},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := PeakHour(tt.series); got != tt.want {
				t.Errorf("PeakHour() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAlertsOn_FiltersByTimestampDate(t *testing.T) {
	t.Parallel()

	alerts := []record.TheftAlert{
		{ID: "a", Timestamp: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
		{ID: "b", Timestamp: time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)},
	}

	got := AlertsOn(alerts, "2024-05-01", time.UTC)
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("expected only alert a, got %+v", got)
	}
}
