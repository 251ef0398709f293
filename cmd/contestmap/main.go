// contestmap bridges a contest logging program to a live map: it ingests
// the logger's TCP push protocol, keeps the derived state, and serves it to
// browser viewers over HTTP and websocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/contestmap/contestmap/internal/config"
	"github.com/contestmap/contestmap/internal/enrich"
	"github.com/contestmap/contestmap/internal/geo"
	"github.com/contestmap/contestmap/internal/hub"
	"github.com/contestmap/contestmap/internal/influx"
	"github.com/contestmap/contestmap/internal/logging"
	intOtel "github.com/contestmap/contestmap/internal/otel"
	"github.com/contestmap/contestmap/internal/parser"
	"github.com/contestmap/contestmap/internal/server"
	"github.com/contestmap/contestmap/internal/session"
	"github.com/contestmap/contestmap/internal/state"
	"github.com/contestmap/contestmap/internal/util"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "contestmap:", err)
		os.Exit(1)
	}
}

func run() error {
	configDir := flag.String("config", ".", "directory containing contestmap.cfg.json")
	flag.Parse()

	if err := config.Load(*configDir); err != nil {
		return err
	}

	sessionStart := time.Now()
	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}
	logFile, err := os.Create(logging.LogFilePath(logsDir, "contestmap", sessionStart))
	if err != nil {
		return fmt.Errorf("creating log file: %w", err)
	}
	defer logFile.Close()

	otelProvider, err := intOtel.New(intOtel.Config{
		Enabled:      config.GetBool("otel.enabled"),
		ServiceName:  config.GetString("otel.serviceName"),
		BatchTimeout: config.GetDuration("otel.batchTimeout"),
		LogWriter:    logFile,
		Endpoint:     config.GetString("otel.endpoint"),
		Insecure:     config.GetBool("otel.insecure"),
	})
	if err != nil {
		return fmt.Errorf("initializing otel: %w", err)
	}

	var gelfWriter io.Writer
	if config.GetBool("graylog.enabled") {
		gelfWriter, err = logging.NewGelfWriter(config.GetString("graylog.address"))
		if err != nil {
			return fmt.Errorf("connecting to graylog: %w", err)
		}
	}

	logMgr := logging.NewSlogManager()
	logMgr.Setup(logFile, config.GetString("logLevel"), otelProvider.LoggerProvider(), gelfWriter)

	// Every record carries the live upstream state, filled in once the
	// store exists below.
	var store *state.Store
	logger := slog.New(logging.NewContextHandler(logMgr.Logger().Handler(), func() []slog.Attr {
		if store == nil {
			return nil
		}
		return []slog.Attr{slog.Bool("upstream_connected", store.Status().Connected)}
	}))
	logger.Info("starting contestmap", "version", version)

	var sections *geo.SectionTable
	if path := config.GetString("map.sectionsFile"); path != "" {
		sections, err = geo.LoadSections(path)
		if err != nil {
			return fmt.Errorf("loading sections: %w", err)
		}
		logger.Info("section centroids loaded", "count", sections.Len())
	}

	wfdMode := config.GetBool("map.wfdMode")
	preferSection := config.GetBool("map.preferSectionAlways")

	store = state.New(logger, state.Config{
		TTLSeconds:    config.GetInt("map.ttlSeconds"),
		BandFilter:    util.SplitCSVSet(config.GetString("map.bandFilter"), util.CanonicalBand),
		ModeFilter:    util.SplitCSVSet(config.GetString("map.modeFilter"), util.CanonicalMode),
		WFDMode:       wfdMode,
		PreferSection: preferSection,
	})

	h := hub.NewHub(logger, store.Snapshot)
	store.SetNotifier(h.Broadcast)

	lookupClient := enrich.New(
		config.GetString("enrichment.url"),
		config.GetString("enrichment.username"),
		config.GetString("enrichment.password"),
		config.GetDuration("enrichment.timeout"),
	)
	pool := enrich.NewPool(logger, lookupClient, store, config.GetInt("enrichment.workers"))

	var archiver session.Archiver
	var influxMgr *influx.Manager
	if influx.Enabled() {
		zlog := zerolog.New(logFile).With().Timestamp().Logger()
		influxMgr = influx.NewManager(zlog, logging.LogFilePath(logsDir, "contestmap.influx-backup", sessionStart))
		if err := influxMgr.Connect(); err != nil {
			return fmt.Errorf("initializing influx: %w", err)
		}
		defer influxMgr.Close()
		archiver = influxMgr
	}

	p := parser.NewParser(logger, sections, wfdMode, preferSection)
	sess, err := session.New(logger, session.Config{
		Addr:              config.UpstreamAddr(),
		HeartbeatInterval: config.HeartbeatInterval(),
		MaxBackoff:        config.GetDuration("upstream.maxReconnectBackoff"),
	}, p, store, pool, archiver)
	if err != nil {
		return err
	}

	srv := server.New(logger, config.GetString("http.listen"), store, h)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool.Start(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(ctx) })
	g.Go(func() error { return sess.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	err = g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logMgr.Flush(flushCtx)
	otelProvider.Shutdown(flushCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("contestmap stopped")
	return nil
}
