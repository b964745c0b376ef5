package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shopguard",
		Short:         "Retail visitor analytics and theft alert dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())
	root.AddCommand(reportCmd())
	root.AddCommand(alertsCmd())
	root.AddCommand(notificationsCmd())
	root.AddCommand(pushCmd())
	root.AddCommand(snapshotsCmd())
	root.AddCommand(ingestCmd())

	return root
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard HTTP server with its refresh loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, false)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the server and push a notification for every new theft alert",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, true)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func reportCmd() *cobra.Command {
	var (
		date       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the daily report for a date within the last month",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), date, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "date as YYYY-MM-DD (default: today)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func alertsCmd() *cobra.Command {
	var (
		limit      int
		all        bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show recent theft alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlerts(cmd.Context(), limit, !all, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "alerts to fetch (default: dashboard alert batch)")
	cmd.Flags().BoolVar(&all, "all", false, "include alerts from previous days")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func notificationsCmd() *cobra.Command {
	var (
		markAll    bool
		markID     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List theft notifications and manage their read state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotifications(cmd.Context(), markID, markAll, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&markAll, "mark-all-read", false, "mark every listed notification as read")
	cmd.Flags().StringVar(&markID, "mark-read", "", "mark one notification as read")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func pushCmd() *cobra.Command {
	var title, body, url string

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Send a push notification to every subscriber and channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(cmd.Context(), title, body, url)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "notification title")
	cmd.Flags().StringVar(&body, "body", "", "notification body")
	cmd.Flags().StringVar(&url, "url", "", "URL opened on click")
	return cmd
}

func snapshotsCmd() *cobra.Command {
	var (
		prefix     string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List theft snapshots in object storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshots(cmd.Context(), prefix, limit, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "key prefix (default: from config)")
	cmd.Flags().IntVar(&limit, "limit", 100, "max objects to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "upload <file>",
		Short: "Upload an image as a theft snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd.Context(), args[0])
		},
	})
	return cmd
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Record detector output",
	}

	var (
		snapshotPath string
		camera       string
		confidence   float64
	)
	alert := &cobra.Command{
		Use:   "alert",
		Short: "Record a theft alert at the current time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngestAlert(cmd.Context(), snapshotPath, camera, confidence)
		},
	}
	alert.Flags().StringVar(&snapshotPath, "snapshot", "", "snapshot key or URL")
	alert.Flags().StringVar(&camera, "camera", "", "camera id")
	alert.Flags().Float64Var(&confidence, "confidence", -1, "detection confidence 0..1")
	_ = alert.MarkFlagRequired("snapshot")

	var (
		date                           string
		totalIn, interest, out, thefts int
	)
	summary := &cobra.Command{
		Use:   "summary",
		Short: "Set the daily totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngestSummary(cmd.Context(), date, totalIn, interest, out, thefts)
		},
	}
	summary.Flags().StringVar(&date, "date", "", "date as YYYY-MM-DD (default: today)")
	summary.Flags().IntVar(&totalIn, "in", 0, "visitors in")
	summary.Flags().IntVar(&interest, "interest", 0, "interested visitors")
	summary.Flags().IntVar(&out, "out", 0, "visitors out")
	summary.Flags().IntVar(&thefts, "theft", 0, "theft alerts")

	cmd.AddCommand(alert, summary)
	return cmd
}
