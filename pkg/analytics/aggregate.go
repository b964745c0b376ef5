// Package analytics turns raw visitor, interest and theft rows into the
// dashboard metrics: hourly series, dwell time, conversion and peak hour.
package analytics

import (
	"fmt"
	"math"
	"time"

	"github.com/elonfeng/shopguard/pkg/record"
)

// Default opening hours covered by the hourly series.
const (
	DefaultHourStart = 9
	DefaultHourEnd   = 21
	DefaultPeakHour  = 12
)

// ZeroDwell is the dwell time shown when there is no data.
const ZeroDwell = "00:00"

// HourlyCount is one bucket of an hourly series.
type HourlyCount struct {
	Hour     int `json:"hour"`
	Visitors int `json:"visitors"`
}

// HourRange is the inclusive clock-hour window of a series.
type HourRange struct {
	Start int
	End   int
}

// DefaultHours is 9..21, thirteen buckets.
func DefaultHours() HourRange {
	return HourRange{Start: DefaultHourStart, End: DefaultHourEnd}
}

// ZeroSeries returns the range with every bucket at zero.
func (h HourRange) ZeroSeries() []HourlyCount {
	if h.End < h.Start {
		return []HourlyCount{}
	}
	out := make([]HourlyCount, 0, h.End-h.Start+1)
	for hour := h.Start; hour <= h.End; hour++ {
		out = append(out, HourlyCount{Hour: hour})
	}
	return out
}

// HourlyCounts buckets the timestamps of rows dated date by clock hour in
// loc. Hours outside the range are dropped; missing hours are zero.
func HourlyCounts[T any](rows []T, date string, hours HourRange, loc *time.Location, at func(T) (string, time.Time, bool)) []HourlyCount {
	if loc == nil {
		loc = time.UTC
	}
	series := hours.ZeroSeries()

	for _, row := range rows {
		rowDate, ts, ok := at(row)
		if !ok || rowDate != date || ts.IsZero() {
			continue
		}
		hour := ts.In(loc).Hour()
		if hour < hours.Start || hour > hours.End {
			continue
		}
		series[hour-hours.Start].Visitors++
	}
	return series
}

// VisitorHourly counts "in" sessions per hour.
func VisitorHourly(rows []record.VisitorSession, date string, hours HourRange, loc *time.Location) []HourlyCount {
	return HourlyCounts(rows, date, hours, loc, func(s record.VisitorSession) (string, time.Time, bool) {
		return s.Date, s.Timestamp, s.Direction == record.DirectionIn
	})
}

// InterestHourly counts interest events per hour.
func InterestHourly(rows []record.InterestEvent, date string, hours HourRange, loc *time.Location) []HourlyCount {
	return HourlyCounts(rows, date, hours, loc, func(e record.InterestEvent) (string, time.Time, bool) {
		return e.Date, e.Timestamp, true
	})
}

// AverageDwellTime returns the mean duration of the events dated date as
// MM:SS, or ZeroDwell when there are none.
func AverageDwellTime(rows []record.InterestEvent, date string) string {
	var total, count int
	for _, e := range rows {
		if e.Date != date {
			continue
		}
		total += e.Duration
		count++
	}
	if count == 0 {
		return ZeroDwell
	}
	return FormatDwell(int(math.Round(float64(total) / float64(count))))
}

// FormatDwell formats seconds as zero-padded MM:SS. Minutes may exceed 59.
func FormatDwell(seconds int) string {
	if seconds <= 0 {
		return ZeroDwell
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// ConversionRate is the share of visitors that showed interest, in whole
// percent. It is 0 when nobody came in.
func ConversionRate(totalIn, totalInterest int) int {
	if totalIn <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(totalInterest) / float64(totalIn)))
}

// PeakHour returns the busiest hour; the earliest wins ties and
// DefaultPeakHour is returned for an empty or all-zero series.
func PeakHour(series []HourlyCount) int {
	peak, best := DefaultPeakHour, 0
	for _, c := range series {
		if c.Visitors > best {
			best = c.Visitors
			peak = c.Hour
		}
	}
	return peak
}

// AlertsOn keeps the alerts whose timestamp falls on date in loc. Order is
// preserved.
func AlertsOn(alerts []record.TheftAlert, date string, loc *time.Location) []record.TheftAlert {
	out := make([]record.TheftAlert, 0, len(alerts))
	for _, a := range alerts {
		if a.Timestamp.IsZero() {
			continue
		}
		if record.DateOf(a.Timestamp, loc) == date {
			out = append(out, a)
		}
	}
	return out
}
