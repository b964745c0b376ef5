package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"

	"github.com/elonfeng/shopguard/internal/config"
	"github.com/elonfeng/shopguard/internal/logging"
	"github.com/elonfeng/shopguard/internal/scheduler"
	"github.com/elonfeng/shopguard/internal/store"
	"github.com/elonfeng/shopguard/internal/supabase"
	"github.com/elonfeng/shopguard/pkg/analytics"
	"github.com/elonfeng/shopguard/pkg/notify"
	"github.com/elonfeng/shopguard/pkg/push"
	"github.com/elonfeng/shopguard/pkg/record"
	"github.com/elonfeng/shopguard/pkg/server"
	"github.com/elonfeng/shopguard/pkg/snapshot"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	return cfg, nil
}

// app bundles the services every command builds from one config.
type app struct {
	cfg      *config.Config
	db       store.Store
	bucket   snapshot.Bucket
	reporter *analytics.Reporter
	recorder *analytics.Recorder
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, bucket, err := buildGateway(cfg)
	if err != nil {
		return nil, err
	}

	loc := cfg.Dashboard.Location()
	reporter := analytics.NewReporter(db,
		analytics.WithBucket(bucket),
		analytics.WithLocation(loc),
		analytics.WithHours(analytics.HourRange{Start: cfg.Dashboard.HourStart, End: cfg.Dashboard.HourEnd}),
	)

	return &app{
		cfg:      cfg,
		db:       db,
		bucket:   bucket,
		reporter: reporter,
		recorder: analytics.NewRecorder(db, bucket, cfg.Snapshots.Prefix, loc),
	}, nil
}

func (a *app) Close() error { return a.db.Close() }

// buildGateway opens the configured data gateway and snapshot bucket.
func buildGateway(cfg *config.Config) (store.Store, snapshot.Bucket, error) {
	switch cfg.Gateway.Driver {
	case "supabase":
		sc := cfg.Gateway.Supabase
		client, err := supabase.New(supabase.Config{
			URL:     sc.URL,
			Key:     sc.Key,
			Bucket:  sc.Bucket,
			Timeout: sc.ParseTimeout(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open supabase gateway: %w", err)
		}
		logging.Info().Str("url", sc.URL).Str("bucket", sc.Bucket).Msg("using supabase gateway")
		return client, client, nil
	default:
		db, err := store.New(cfg.Gateway.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open store: %w", err)
		}
		bucket, err := snapshot.NewLocalBucket(cfg.Snapshots.Dir, cfg.Snapshots.BaseURL)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, bucket, nil
	}
}

// readState is a notify.ReadStore that must be closed.
type readState interface {
	notify.ReadStore
	Close() error
}

func openReadState(cfg *config.Config) (readState, error) {
	if cfg.Notifications.ReadStateDir == "" {
		return store.NewMemoryReadState(), nil
	}
	rs, err := store.OpenBadgerReadState(cfg.Notifications.ReadStateDir)
	if err != nil {
		return nil, fmt.Errorf("open read state: %w", err)
	}
	return rs, nil
}

func buildChannels(cfg *config.Config) *push.Manager {
	var notifiers []push.Notifier

	if cfg.Push.Slack.Enabled && cfg.Push.Slack.WebhookURL != "" {
		notifiers = append(notifiers, push.NewSlack(cfg.Push.Slack.WebhookURL))
	}
	if cfg.Push.Discord.Enabled && cfg.Push.Discord.WebhookURL != "" {
		notifiers = append(notifiers, push.NewDiscord(cfg.Push.Discord.WebhookURL))
	}
	if cfg.Push.Webhook.Enabled && cfg.Push.Webhook.URL != "" {
		notifiers = append(notifiers, push.NewWebhook(cfg.Push.Webhook.URL, cfg.Push.Webhook.Secret))
	}

	return push.NewManager(notifiers)
}

func buildRelay(cfg *config.Config, db store.Store) *push.Relay {
	var sender push.Sender
	if v := cfg.Push.VAPID; v.Enabled() {
		sender = push.NewWebPush(push.VAPID{
			PublicKey:  v.PublicKey,
			PrivateKey: v.PrivateKey,
			Subject:    v.Subject,
			TTL:        v.TTL,
		})
	} else {
		logging.Warn().Msg("VAPID keys not configured, browser push disabled")
	}
	return push.NewRelay(db, sender, buildChannels(cfg)).Throttle(cfg.Push.SendRate)
}

func runServe(ctx context.Context, port int, watch bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	if port == 0 {
		port = cfg.Server.Port
	}

	reads, err := openReadState(cfg)
	if err != nil {
		return err
	}
	defer reads.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	controller := scheduler.NewController(a.reporter, scheduler.ControllerConfig{
		Interval:   cfg.Dashboard.ParseRefreshInterval(),
		AlertBatch: cfg.Dashboard.AlertBatch,
	})
	reconciler := notify.NewReconciler(a.db, reads, cfg.Dashboard.Location())
	relay := buildRelay(cfg, a.db)

	srv := server.New(server.Deps{
		Controller: controller,
		Reporter:   a.reporter,
		Notifier:   reconciler,
		Relay:      relay,
		Recorder:   a.recorder,
		Bucket:     a.bucket,
		Prefix:     cfg.Snapshots.Prefix,
	}, server.Options{
		Port:        port,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit:   cfg.Server.RateLimit,
	})

	sup := scheduler.NewSupervisor("shopguard")
	sup.Add(controller)
	sup.Add(scheduler.NewNotificationRefresher(reconciler,
		cfg.Notifications.ParseRefreshInterval(),
		cfg.Notifications.Limit,
	))
	sup.Add(srv.Hub())
	sup.Add(srv)
	if watch {
		sup.Add(scheduler.NewAlertWatcher(a.db, relay,
			cfg.Push.ParseWatchInterval(),
			cfg.Dashboard.AlertBatch,
			cfg.Dashboard.Location(),
		))
	}

	logging.Info().Int("port", port).Bool("watch", watch).Msg("shopguard starting")
	err = sup.Serve(ctx)
	logging.Info().Msg("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runReport(ctx context.Context, date string, jsonOutput bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if date == "" {
		date = a.reporter.Today()
	}
	if err := a.reporter.CheckDate(date); err != nil {
		return err
	}

	rep := a.reporter.DayReport(ctx, date)
	if jsonOutput {
		return printJSON(rep)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "DATE\t%s\n", rep.Date)
	fmt.Fprintf(w, "VISITORS\t%d\n", rep.TotalVisitors)
	fmt.Fprintf(w, "INTERESTED\t%d (%d%%)\n", rep.InterestedVisitors, rep.ConversionRate)
	fmt.Fprintf(w, "AVG DWELL\t%s\n", rep.AvgDwellTime)
	fmt.Fprintf(w, "PEAK HOUR\t%02d:00\n", rep.PeakHour)
	fmt.Fprintf(w, "THEFT ALERTS\t%d\n", rep.TheftAlerts)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "HOUR\tVISITORS")
	for _, h := range rep.HourlyVisitors {
		fmt.Fprintf(w, "%02d:00\t%d\n", h.Hour, h.Visitors)
	}
	if len(rep.Alerts) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "TIME\tLOCATION\tCONFIDENCE\tSNAPSHOT")
		for _, al := range rep.Alerts {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", al.Time, al.Location, al.Confidence, al.Snapshot)
		}
	}
	return w.Flush()
}

func runAlerts(ctx context.Context, limit int, todayOnly, jsonOutput bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if limit <= 0 {
		limit = a.cfg.Dashboard.AlertBatch
	}
	alerts, err := a.reporter.RecentAlerts(ctx, limit, todayOnly)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(alerts)
	}

	if len(alerts) == 0 {
		fmt.Println("no theft alerts")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tLOCATION\tCONFIDENCE\tSNAPSHOT")
	for _, al := range alerts {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", al.Time, al.Location, al.Confidence, al.Snapshot)
	}
	return w.Flush()
}

func runNotifications(ctx context.Context, markID string, markAll, jsonOutput bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	reads, err := openReadState(a.cfg)
	if err != nil {
		return err
	}
	defer reads.Close()

	rec := notify.NewReconciler(a.db, reads, a.cfg.Dashboard.Location())
	if _, err := rec.Load(ctx, a.cfg.Notifications.Limit); err != nil {
		return err
	}
	if markID != "" {
		if err := rec.MarkRead(ctx, markID); err != nil {
			return err
		}
	}
	if markAll {
		if err := rec.MarkAllRead(ctx); err != nil {
			return err
		}
	}

	items := rec.Notifications()
	if jsonOutput {
		return printJSON(items)
	}

	fmt.Printf("%d unread\n\n", rec.UnreadCount())
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tREAD\tMESSAGE")
	for _, n := range items {
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", n.ID, n.Time, n.Read, n.Message)
	}
	return w.Flush()
}

func runPush(ctx context.Context, title, body, url string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sent, err := buildRelay(a.cfg, a.db).Fanout(ctx, push.Message{Title: title, Body: body, URL: url})
	if err != nil {
		return err
	}
	fmt.Printf("sent: %d\n", sent)
	return nil
}

func runSnapshots(ctx context.Context, prefix string, limit int, jsonOutput bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if prefix == "" {
		prefix = a.cfg.Snapshots.Prefix
	}
	opts := snapshot.DefaultListOptions()
	opts.Limit = limit

	snaps, err := snapshot.List(ctx, a.bucket, prefix, opts)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(snaps)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tNAME\tURL")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.CreatedAt.Format(time.RFC3339), s.Name, s.URL)
	}
	return w.Flush()
}

func runUpload(ctx context.Context, path string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	u, err := a.recorder.UploadSnapshot(ctx, filepath.Base(path), f, "")
	if err != nil {
		return err
	}
	fmt.Println(u)
	return nil
}

func runIngestAlert(ctx context.Context, snapshotPath, camera string, confidence float64) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	alert := &record.TheftAlert{Timestamp: time.Now(), SnapshotPath: snapshotPath}
	if camera != "" {
		alert.CameraID = &camera
	}
	if confidence >= 0 {
		alert.Confidence = &confidence
	}
	if err := a.recorder.SaveTheftAlert(ctx, alert); err != nil {
		return err
	}
	fmt.Println(alert.ID)
	return nil
}

func runIngestSummary(ctx context.Context, date string, totalIn, interest, out, thefts int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sum := &record.AnalyticsSummary{
		Date:          date,
		TotalIn:       totalIn,
		TotalInterest: interest,
		TotalOut:      out,
		TotalTheft:    thefts,
	}
	if err := a.recorder.UpdateSummary(ctx, sum); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", sum.ID, sum.Date)
	return nil
}
