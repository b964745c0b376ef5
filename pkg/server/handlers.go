package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/elonfeng/shopguard/internal/scheduler"
	"github.com/elonfeng/shopguard/pkg/analytics"
	"github.com/elonfeng/shopguard/pkg/notify"
	"github.com/elonfeng/shopguard/pkg/record"
	"github.com/elonfeng/shopguard/pkg/snapshot"
)

const maxSnapshotSize = 10 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok"}
	if s.deps.Controller != nil {
		resp["dashboard"] = s.deps.Controller.State().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.deps.Controller.Snapshot()})
}

func (s *Server) handleSelectDate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := s.deps.Controller.SelectDate(r.Context(), req.Date)
	switch {
	case errors.Is(err, record.ErrInvalid), errors.Is(err, analytics.ErrDateOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, scheduler.ErrStale):
		snap = s.deps.Controller.Snapshot()
	}
	// A degraded snapshot still answers the request; its error field
	// carries the failure.
	writeJSON(w, http.StatusOK, map[string]any{"data": snap})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if err := s.deps.Reporter.CheckDate(date); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.deps.Reporter.DayReport(r.Context(), date)})
}

func (s *Server) handleDwell(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("dates")
	if raw == "" {
		raw = s.deps.Reporter.Today()
	}

	var dates []string
	for _, d := range strings.Split(raw, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, err := record.ParseDate(d); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		dates = append(dates, d)
	}
	writeList(w, s.deps.Reporter.DwellTimes(r.Context(), dates))
}

// chartDate returns the date query parameter, today when absent.
func (s *Server) chartDate(w http.ResponseWriter, r *http.Request) (string, bool) {
	date := r.URL.Query().Get("date")
	if date == "" {
		return s.deps.Reporter.Today(), true
	}
	if _, err := record.ParseDate(date); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return date, true
}

func (s *Server) handleVisitorChart(w http.ResponseWriter, r *http.Request) {
	date, ok := s.chartDate(w, r)
	if !ok {
		return
	}
	series, err := s.deps.Reporter.VisitorChart(r.Context(), date)
	if err != nil {
		s.log.Warn().Err(err).Msg("visitor chart degraded to zeros")
	}
	writeList(w, series)
}

func (s *Server) handleInterestChart(w http.ResponseWriter, r *http.Request) {
	date, ok := s.chartDate(w, r)
	if !ok {
		return
	}
	series, err := s.deps.Reporter.InterestChart(r.Context(), date)
	if err != nil {
		s.log.Warn().Err(err).Msg("interest chart degraded to zeros")
	}
	writeList(w, series)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	todayOnly := r.URL.Query().Get("today") != "false"

	alerts, err := s.deps.Reporter.RecentAlerts(r.Context(), limit, todayOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeList(w, alerts)
}

func (s *Server) writeNotifications(w http.ResponseWriter, items []notify.Notification) {
	if items == nil {
		items = []notify.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   items,
		"count":  len(items),
		"unread": s.deps.Notifier.UnreadCount(),
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	s.writeNotifications(w, s.deps.Notifier.Notifications())
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Notifier.MarkRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeNotifications(w, s.deps.Notifier.Notifications())
}

func (s *Server) handleReadAll(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Notifier.MarkAllRead(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeNotifications(w, s.deps.Notifier.Notifications())
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	opts := snapshot.DefaultListOptions()
	var err error
	if opts.Limit, err = queryInt(r, "limit", opts.Limit); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if opts.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = s.deps.Prefix
	}

	snaps, err := snapshot.List(r.Context(), s.deps.Bucket, prefix, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeList(w, snaps)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var sub record.PushSubscription
	if err := decodeJSON(w, r, &sub); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Relay.Register(r.Context(), &sub); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": sub})
}

func (s *Server) handleIngestSession(w http.ResponseWriter, r *http.Request) {
	var v record.VisitorSession
	if err := decodeJSON(w, r, &v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Recorder.SaveVisitorSession(r.Context(), &v); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": v})
}

func (s *Server) handleIngestInterest(w http.ResponseWriter, r *http.Request) {
	var e record.InterestEvent
	if err := decodeJSON(w, r, &e); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Recorder.SaveInterestEvent(r.Context(), &e); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": e})
}

func (s *Server) handleIngestAlert(w http.ResponseWriter, r *http.Request) {
	var a record.TheftAlert
	if err := decodeJSON(w, r, &a); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Recorder.SaveTheftAlert(r.Context(), &a); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": a})
}

func (s *Server) handleIngestSummary(w http.ResponseWriter, r *http.Request) {
	var sum record.AnalyticsSummary
	if err := decodeJSON(w, r, &sum); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Recorder.UpdateSummary(r.Context(), &sum); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": sum})
}

func (s *Server) handleIngestSnapshot(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body := http.MaxBytesReader(w, r.Body, maxSnapshotSize)

	ct := r.Header.Get("Content-Type")
	if ct == "application/octet-stream" {
		ct = ""
	}

	u, err := s.deps.Recorder.UploadSnapshot(r.Context(), name, body, ct)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"data": map[string]string{
			"key": snapshot.Key(s.deps.Prefix, name),
			"url": u,
		},
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, record.ErrInvalid), errors.Is(err, snapshot.ErrInvalidKey), errors.Is(err, analytics.ErrDateOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, analytics.ErrNoBucket):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
