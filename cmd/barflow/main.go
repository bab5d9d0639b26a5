package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"barflow/calendar"
	appconfig "barflow/config"
	"barflow/feed"
	"barflow/identity"
	"barflow/ingest"
	"barflow/internal/metrics"
	"barflow/logger"
	"barflow/store"
	"barflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := appconfig.LoadConfig(appconfig.ResolveConfigPath(*configPath, "config/config.yml"))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Barflow.Name,
		"version": cfg.Barflow.Version,
	}).Info("starting barflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
	}()

	if cfg.Metrics.Enabled {
		metrics.Serve(cfg.Metrics.Addr)
	}
	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}

	calStart, calEnd, err := cfg.Calendar.CalendarBounds()
	if err != nil {
		log.WithError(err).Error("Invalid calendar bounds")
		os.Exit(1)
	}
	holidays, err := cfg.Calendar.HolidayDates()
	if err != nil {
		log.WithError(err).Error("Invalid calendar holidays")
		os.Exit(1)
	}
	cal := calendar.Weekdays(calStart, calEnd, holidays...)

	client := feed.NewRESTClient(cfg)

	bars, err := writer.NewParquetSink(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("Failed to initialize bar writer")
		os.Exit(1)
	}

	var (
		registry    identity.Registry
		identities  ingest.IdentitySink
		adjustments ingest.AdjustmentSink
	)
	if cfg.Storage.Postgres.Host != "" {
		pool, err := store.Connect(ctx, cfg.Storage.Postgres)
		if err != nil {
			log.WithError(err).Error("Failed to connect to postgres")
			os.Exit(1)
		}
		defer pool.Close()

		assets := store.NewAssetStore(pool)
		adjStore := store.NewAdjustmentStore(pool)
		fundamentals := store.NewFundamentalStore(pool)
		if err := assets.EnsureSchema(ctx); err != nil {
			log.WithError(err).Error("Failed to ensure database schema")
			os.Exit(1)
		}
		if err := adjStore.EnsureSchema(ctx); err != nil {
			log.WithError(err).Error("Failed to ensure database schema")
			os.Exit(1)
		}
		if err := fundamentals.EnsureSchema(ctx); err != nil {
			log.WithError(err).Error("Failed to ensure database schema")
			os.Exit(1)
		}

		registry = assets
		identities = assets
		adjustments = adjStore
	}

	runner := ingest.NewRunner(cfg, cal, client, identity.NewAssigner(registry), bars, identities, adjustments)

	summary, err := runner.Run(ctx)

	if cfg.Metrics.CloudWatch.Enabled {
		metrics.PublishRunSummary(context.WithoutCancel(ctx), summary)
	}

	log.WithFields(logger.Fields{
		"run_id":    summary.RunID,
		"symbols":   summary.Symbols,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
	}).Info("barflow finished")

	if err != nil {
		log.WithError(err).Error("run aborted")
		os.Exit(1)
	}
	if summary.Failed > 0 && summary.Succeeded == 0 {
		os.Exit(1)
	}
}
