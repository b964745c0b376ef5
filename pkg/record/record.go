// Package record defines the typed rows exchanged with the data gateway.
package record

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// DateLayout is the calendar-date format every date filter compares against.
const DateLayout = "2006-01-02"

// DefaultLocation is used for alerts that carry no camera id.
const DefaultLocation = "Show Table Zone"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid record")

var validate = validator.New()

// Direction is the movement recorded by a visitor session.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// VisitorSession is one entry or exit event.
type VisitorSession struct {
	ID        string    `json:"id" db:"id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp" validate:"required"`
	Direction Direction `json:"direction" db:"direction" validate:"oneof=in out"`
	PersonID  *string   `json:"person_id,omitempty" db:"person_id"`
	CameraID  *string   `json:"camera_id,omitempty" db:"camera_id"`
	Date      string    `json:"date" db:"date" validate:"omitempty,datetime=2006-01-02"`
}

// InterestEvent is one dwell interaction; Duration is in seconds.
type InterestEvent struct {
	ID        string    `json:"id" db:"id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp" validate:"required"`
	Duration  int       `json:"duration" db:"duration" validate:"gte=0"`
	PersonID  *string   `json:"person_id,omitempty" db:"person_id"`
	CameraID  *string   `json:"camera_id,omitempty" db:"camera_id"`
	Date      string    `json:"date" db:"date" validate:"omitempty,datetime=2006-01-02"`
}

// TheftAlert is a recorded theft detection with its snapshot.
type TheftAlert struct {
	ID           string    `json:"id" db:"id"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp" validate:"required"`
	SnapshotPath string    `json:"snapshot_path" db:"snapshot_path" validate:"required"`
	CameraID     *string   `json:"camera_id,omitempty" db:"camera_id"`
	Confidence   *float64  `json:"confidence,omitempty" db:"confidence" validate:"omitempty,gte=0,lte=1"`
	AlertType    *string   `json:"alert_type,omitempty" db:"alert_type"`
	PersonID     *string   `json:"person_id,omitempty" db:"person_id"`
	Date         string    `json:"date" db:"date" validate:"omitempty,datetime=2006-01-02"`
}

// Location returns the camera id or the default zone name.
func (a TheftAlert) Location() string {
	if a.CameraID != nil && *a.CameraID != "" {
		return *a.CameraID
	}
	return DefaultLocation
}

// ConfidenceOrZero returns the detection confidence, 0 when unknown.
func (a TheftAlert) ConfidenceOrZero() float64 {
	if a.Confidence == nil {
		return 0
	}
	return *a.Confidence
}

// AnalyticsSummary holds the pre-aggregated totals for one calendar day.
type AnalyticsSummary struct {
	ID            string `json:"id" db:"id"`
	Date          string `json:"date" db:"date" validate:"required,datetime=2006-01-02"`
	TotalIn       int    `json:"total_in" db:"total_in" validate:"gte=0"`
	TotalInterest int    `json:"total_interest" db:"total_interest" validate:"gte=0"`
	TotalOut      int    `json:"total_out" db:"total_out" validate:"gte=0"`
	TotalTheft    int    `json:"total_theft" db:"total_theft" validate:"gte=0"`
}

// ZeroSummary is returned when no row exists for date.
func ZeroSummary(date string) AnalyticsSummary {
	return AnalyticsSummary{ID: "none", Date: date}
}

// PushKeys are the client keys of a browser push subscription.
type PushKeys struct {
	P256dh string `json:"p256dh" validate:"required"`
	Auth   string `json:"auth" validate:"required"`
}

// PushSubscription is a registered browser push endpoint.
type PushSubscription struct {
	Endpoint  string    `json:"endpoint" db:"endpoint" validate:"required,url"`
	Keys      PushKeys  `json:"keys" db:"-"`
	KeysJSON  string    `json:"-" db:"keys"`
	UserID    *string   `json:"user_id,omitempty" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Validate checks v against its struct tags.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// DateOf returns the calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// ParseDate validates a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalid, s)
	}
	return t, nil
}

// Prepare fills the id and date and validates the session.
func (s *VisitorSession) Prepare(loc *time.Location) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Date == "" && !s.Timestamp.IsZero() {
		s.Date = DateOf(s.Timestamp, loc)
	}
	return Validate(s)
}

// Prepare fills the id and date and validates the event.
func (e *InterestEvent) Prepare(loc *time.Location) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Date == "" && !e.Timestamp.IsZero() {
		e.Date = DateOf(e.Timestamp, loc)
	}
	return Validate(e)
}

// Prepare fills the id and date and validates the alert.
func (a *TheftAlert) Prepare(loc *time.Location) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Date == "" && !a.Timestamp.IsZero() {
		a.Date = DateOf(a.Timestamp, loc)
	}
	return Validate(a)
}
