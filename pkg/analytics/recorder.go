package analytics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/elonfeng/shopguard/internal/logging"
	"github.com/elonfeng/shopguard/internal/store"
	"github.com/elonfeng/shopguard/pkg/record"
	"github.com/elonfeng/shopguard/pkg/snapshot"
)

// ErrNoBucket is returned by uploads when no object storage is configured.
var ErrNoBucket = errors.New("no snapshot bucket configured")

// Recorder is the ingestion path: it validates detector output and appends
// it to the gateway.
type Recorder struct {
	store  store.Store
	bucket snapshot.Bucket
	prefix string
	loc    *time.Location
	now    func() time.Time
}

// NewRecorder creates a Recorder. Snapshots are uploaded under prefix.
func NewRecorder(s store.Store, b snapshot.Bucket, prefix string, loc *time.Location) *Recorder {
	if loc == nil {
		loc = time.Local
	}
	return &Recorder{store: s, bucket: b, prefix: prefix, loc: loc, now: time.Now}
}

func (r *Recorder) SaveVisitorSession(ctx context.Context, s *record.VisitorSession) error {
	if err := s.Prepare(r.loc); err != nil {
		return err
	}
	return r.store.InsertVisitorSession(ctx, s)
}

func (r *Recorder) SaveInterestEvent(ctx context.Context, e *record.InterestEvent) error {
	if err := e.Prepare(r.loc); err != nil {
		return err
	}
	return r.store.InsertInterestEvent(ctx, e)
}

// SaveTheftAlert stores a with its snapshot path turned into a public URL.
func (r *Recorder) SaveTheftAlert(ctx context.Context, a *record.TheftAlert) error {
	if err := a.Prepare(r.loc); err != nil {
		return err
	}
	a.SnapshotPath = snapshot.Resolve(r.bucket, a.SnapshotPath)

	if err := r.store.InsertTheftAlert(ctx, a); err != nil {
		return err
	}
	logging.Info().Str("alert_id", a.ID).Str("location", a.Location()).Msg("theft alert recorded")
	return nil
}

// UpdateSummary upserts the totals for sum.Date, today when empty.
func (r *Recorder) UpdateSummary(ctx context.Context, sum *record.AnalyticsSummary) error {
	if sum.Date == "" {
		sum.Date = record.DateOf(r.now(), r.loc)
	}
	if err := record.Validate(sum); err != nil {
		return err
	}
	return r.store.UpsertSummary(ctx, sum)
}

// UploadSnapshot stores an image under the snapshot prefix and returns its
// public URL.
func (r *Recorder) UploadSnapshot(ctx context.Context, name string, body io.Reader, contentType string) (string, error) {
	if r.bucket == nil {
		return "", ErrNoBucket
	}
	if !snapshot.ValidKey(name) {
		return "", fmt.Errorf("%w: %q", snapshot.ErrInvalidKey, name)
	}
	key := snapshot.Key(r.prefix, name)

	u, err := r.bucket.Upload(ctx, key, body, contentType)
	if err != nil {
		return "", fmt.Errorf("upload snapshot %s: %w", key, err)
	}
	return snapshot.CleanURL(u), nil
}
