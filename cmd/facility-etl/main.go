// Command facility-etl runs the ingestion pipeline, either as a one-shot
// sync or as a long-lived scheduled process.
//
// Usage:
//
//	facility-etl run                    one incremental sync
//	facility-etl full-sync              reprocess the entire upstream dataset
//	facility-etl incremental [fromDate] sync records updated since fromDate (YYYY-MM-DD)
//	facility-etl test                   small end-to-end run against live upstream
//	facility-etl schedule [pattern]     run on a cron schedule (default: daily)
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hackingco/soberlivings-finder-sub003/pkg/config"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/enrich"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/etl"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/geocode"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/observability"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/ratelimit"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/storage"
)

const usage = `usage: facility-etl <command>

commands:
  run                     one incremental sync
  full-sync               reprocess the entire upstream dataset
  incremental [fromDate]  sync records updated since fromDate (YYYY-MM-DD)
  test                    small end-to-end run
  schedule [pattern]      run on a cron schedule (default: daily)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	metrics := observability.NewMetrics(nil)

	store, err := storage.NewPostgresStore(cfg.Storage, metrics)
	if err != nil {
		logger.WithError(err).Error("failed to connect to store")
		os.Exit(1)
	}
	defer store.Close()

	extractor := etl.NewExtractor(cfg.Upstream, cfg.ETL.MaxRetries,
		ratelimit.NewLimiter(cfg.ETL.RateLimit), logger, metrics)

	var enricher enrich.Enricher = enrich.Noop{}
	if cfg.ETL.EnrichmentEnabled {
		enricher = enrich.NewWebsiteEnricher(logger, cfg.Upstream.Timeout)
	}

	pipeline := etl.NewPipeline(extractor, store, geocode.NewStatic(), enricher,
		cfg.ETL, logger, metrics)
	scheduler := etl.NewScheduler(pipeline, logger)

	ctx := context.Background()

	switch os.Args[1] {
	case "run":
		exitOnError(scheduler.RunNow(ctx, etl.ModeIncremental))
	case "full-sync":
		exitOnError(scheduler.RunNow(ctx, etl.ModeFull))
	case "incremental":
		var from time.Time
		if len(os.Args) > 2 {
			from, err = time.Parse("2006-01-02", os.Args[2])
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid fromDate %q: expected YYYY-MM-DD\n", os.Args[2])
				os.Exit(2)
			}
		}
		_, err := pipeline.RunFrom(ctx, etl.ModeIncremental, from)
		exitOnError(err)
	case "test":
		exitOnError(scheduler.RunNow(ctx, etl.ModeTest))
	case "schedule":
		pattern := "daily"
		if len(os.Args) > 2 {
			pattern = os.Args[2]
		}
		if err := scheduler.Schedule("facilities-sync", pattern, etl.ModeIncremental); err != nil {
			logger.WithError(err).Error("failed to schedule pipeline")
			os.Exit(1)
		}
		scheduler.Start()
		logger.WithField("pattern", etl.ResolveSchedule(pattern)).Info("scheduler running, ctrl-c to stop")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		scheduler.StopAll()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

func exitOnError(err error) {
	if err != nil {
		os.Exit(1)
	}
}
