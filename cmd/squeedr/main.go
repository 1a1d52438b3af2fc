package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/api/option"

	"squeedr/internal/config"
	"squeedr/internal/exception"
	"squeedr/internal/feeds"
	"squeedr/internal/gcal"
	"squeedr/internal/ics"
	appLog "squeedr/internal/log"
	"squeedr/internal/model"
	"squeedr/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	month      string
}

func main() {
	appLog.Info("squeedr starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"horizon_months", conf.HorizonMonths,
		"require_end_date", conf.RequireEndDate,
		"ics_count", len(conf.ICS),
		"google_enabled", conf.Google.Enabled(),
		"seed_exceptions", len(conf.Exceptions),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	loc := conf.Location()
	store := exception.NewStore(conf.ValidateOptions())
	if err := seedStore(store, conf.Exceptions, loc); err != nil {
		appLog.Error("some configured exceptions were rejected", err)
	}

	refresher, err := buildRefresher(ctx, conf, store)
	if err != nil {
		appLog.Error("failed to set up feed refresh", err)
		os.Exit(1)
	}

	if flags.once {
		if err := runOnce(ctx, os.Stdout, conf, store, refresher, flags.month); err != nil {
			appLog.Error("single run failed", err)
			os.Exit(1)
		}
		return
	}

	// web.Refresher must stay a nil interface when there is nothing to refresh.
	var apiRefresher web.Refresher
	if refresher != nil {
		apiRefresher = refresher

		go func() {
			_, _ = refresher.RefreshOnce(ctx)
		}()
		if _, err := refresher.Start(ctx, conf.RefreshCron); err != nil {
			appLog.Error("failed to schedule feed refresh", err, "refresh", conf.RefreshCron)
			os.Exit(1)
		}
	}

	srv := web.NewServer(conf, store, apiRefresher)
	if err := srv.Run(ctx); err != nil {
		appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		os.Exit(1)
	}

	appLog.Info("squeedr exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/squeedr/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Refresh feeds once, print the marked dates of -month and exit")
	flag.StringVar(&cfg.month, "month", "", "Month printed by -once (YYYY-MM, default current month)")

	flag.Parse()

	return cfg
}

// seedStore loads the exceptions listed in the config file.
func seedStore(store *exception.Store, records []exception.Record, loc *time.Location) error {
	var errs []error
	for i, rec := range records {
		e, err := exception.FromRecord(rec, loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("exceptions[%d]: %w", i, err))
			continue
		}
		if _, err := store.Add(e); err != nil {
			errs = append(errs, fmt.Errorf("exceptions[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// buildRefresher returns nil when no feed is configured.
func buildRefresher(ctx context.Context, conf *config.Config, store *exception.Store) (*feeds.Refresher, error) {
	opts := feeds.Options{Store: store, Location: conf.Location()}

	for _, src := range conf.ICS {
		opts.Sources = append(opts.Sources, ics.Source{ID: src.SourceID(), URL: src.URL})
	}
	if len(opts.Sources) > 0 {
		opts.Fetcher = ics.NewFetcher(conf.CacheDir, nil)
	}

	if conf.Google.Enabled() {
		client, err := gcal.NewClient(ctx, opts.Location, option.WithAPIKey(conf.Google.APIKey))
		if err != nil {
			return nil, err
		}
		opts.Google = client
		opts.CalendarIDs = conf.Google.CalendarIDs
	}

	if len(opts.Sources) == 0 && opts.Google == nil {
		return nil, nil
	}
	return feeds.New(opts)
}

// runOnce refreshes the feeds and prints the marked dates of one month grid.
func runOnce(ctx context.Context, out io.Writer, conf *config.Config, store *exception.Store, refresher *feeds.Refresher, month string) error {
	if refresher != nil {
		if _, err := refresher.RefreshOnce(ctx); err != nil {
			appLog.Error("refresh finished with errors", err)
		}
	}

	loc := conf.Location()
	m := time.Now().In(loc)
	if month != "" {
		parsed, err := time.ParseInLocation("2006-01", month, loc)
		if err != nil {
			return fmt.Errorf("invalid -month %q: %w", month, err)
		}
		m = parsed
	}

	grid := model.MonthGrid(m.Year(), m.Month(), conf.FirstWeekday(), loc)
	for _, md := range store.Classify(grid.Start, grid.End) {
		if _, err := fmt.Fprintf(out, "%s\t%s\t%s\n", md.Date.Format(exception.DateLayout), md.Category, md.ExceptionID); err != nil {
			return err
		}
	}
	return nil
}
