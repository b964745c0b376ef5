// Package server exposes the dashboard, reports, notifications, snapshots,
// push relay and ingestion over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/elonfeng/shopguard/internal/logging"
	"github.com/elonfeng/shopguard/internal/metrics"
	"github.com/elonfeng/shopguard/internal/scheduler"
	"github.com/elonfeng/shopguard/pkg/analytics"
	"github.com/elonfeng/shopguard/pkg/notify"
	"github.com/elonfeng/shopguard/pkg/push"
	"github.com/elonfeng/shopguard/pkg/snapshot"
)

const maxBodySize = 1 << 20

// Deps are the services the API is backed by. Nil services disable their
// routes.
type Deps struct {
	Controller *scheduler.Controller
	Reporter   *analytics.Reporter
	Notifier   *notify.Reconciler
	Relay      *push.Relay
	Recorder   *analytics.Recorder
	Bucket     snapshot.Bucket
	Prefix     string
}

// Options configures the listener and middleware.
type Options struct {
	Port        int
	CORSOrigins []string
	RateLimit   int
}

// Server provides the HTTP API.
type Server struct {
	deps Deps
	opts Options
	hub  *Hub
	log  zerolog.Logger
}

// New creates a new HTTP server.
func New(deps Deps, opts Options) *Server {
	if opts.Port == 0 {
		opts.Port = 8080
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	s := &Server{
		deps: deps,
		opts: opts,
		log:  logging.Component("server"),
	}
	if deps.Controller != nil {
		s.hub = NewHub(deps.Controller, opts.CORSOrigins)
	}
	return s
}

// Hub returns the websocket hub, nil without a dashboard controller.
func (s *Server) Hub() *Hub { return s.hub }

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	if s.hub != nil {
		r.Get("/ws", s.hub.ServeWS)
	}
	if lb, ok := s.deps.Bucket.(*snapshot.LocalBucket); ok {
		r.Handle(snapshot.PublicRoute+"*", http.StripPrefix(snapshot.PublicRoute, http.FileServer(http.Dir(lb.Root()))))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.opts.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.opts.RateLimit, time.Minute))
		}

		if s.deps.Controller != nil {
			r.Get("/dashboard", s.handleDashboard)
			r.Put("/dashboard/date", s.handleSelectDate)
		}
		if s.deps.Reporter != nil {
			r.Get("/reports/{date}", s.handleReport)
			r.Get("/dwell", s.handleDwell)
			r.Get("/charts/visitors", s.handleVisitorChart)
			r.Get("/charts/interest", s.handleInterestChart)
			r.Get("/alerts", s.handleAlerts)
		}
		if s.deps.Notifier != nil {
			r.Get("/notifications", s.handleNotifications)
			r.Post("/notifications/read-all", s.handleReadAll)
			r.Post("/notifications/{id}/read", s.handleRead)
		}
		if s.deps.Bucket != nil {
			r.Get("/snapshots", s.handleSnapshots)
		}
		if s.deps.Relay != nil {
			r.Post("/push/subscriptions", s.handleSubscribe)
			r.Handle("/push/send", s.deps.Relay)
		}
		if s.deps.Recorder != nil {
			r.Route("/ingest", func(r chi.Router) {
				r.Post("/sessions", s.handleIngestSession)
				r.Post("/interest", s.handleIngestInterest)
				r.Post("/alerts", s.handleIngestAlert)
				r.Put("/summary", s.handleIngestSummary)
				r.Post("/snapshots/{name}", s.handleIngestSnapshot)
			})
		}
	})

	return r
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("shutdown incomplete")
		}
		return ctx.Err()
	}
}

func (s *Server) String() string { return "http-server" }

// logRequests records access logs and per-route request metrics.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.APIRequests.WithLabelValues(r.Method, route, metrics.StatusClass(status)).Inc()

		s.log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  items,
		"count": len(items),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// queryInt parses an optional integer parameter.
func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}
