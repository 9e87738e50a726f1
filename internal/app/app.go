// Package app wires configuration, logging, adapters and services into one
// object the CLI drives.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/heartmarshall/wdfetch/internal/adapter/httpclient"
	"github.com/heartmarshall/wdfetch/internal/adapter/postgres"
	pgfetchlog "github.com/heartmarshall/wdfetch/internal/adapter/postgres/fetchlog"
	"github.com/heartmarshall/wdfetch/internal/adapter/provider/wdqs"
	"github.com/heartmarshall/wdfetch/internal/adapter/provider/wikibase"
	sqlitefetchlog "github.com/heartmarshall/wdfetch/internal/adapter/sqlite/fetchlog"
	"github.com/heartmarshall/wdfetch/internal/config"
	"github.com/heartmarshall/wdfetch/internal/dataloader"
	"github.com/heartmarshall/wdfetch/internal/domain"
	"github.com/heartmarshall/wdfetch/internal/service/batch"
)

// FetchLog is a persistent freshness oracle that also records fetches.
type FetchLog interface {
	batch.FreshnessOracle
	batch.Recorder
	Stats(ctx context.Context) (domain.FetchStats, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// App holds the long-lived components of one CLI invocation.
type App struct {
	Config   *config.Config
	Log      *slog.Logger
	HTTP     *httpclient.Client
	Fetcher  *wikibase.Fetcher
	SPARQL   *wdqs.Client
	FetchLog FetchLog // nil when freshness.driver is none

	closers []func() error
}

// Bootstrap loads configuration, installs the logger and builds the App.
func Bootstrap(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := NewLogger(cfg.Log)
	logger.DebugContext(ctx, "starting", slog.String("version", BuildVersion()))
	return New(ctx, cfg, logger)
}

// New builds every component from cfg. Call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...httpclient.Option) (*App, error) {
	a := &App{Config: cfg, Log: logger}

	retries := cfg.HTTP.MaxRetries
	if retries == 0 {
		retries = httpclient.NoRetries
	}
	a.HTTP = httpclient.New(logger, httpclient.Options{
		Timeout:        cfg.HTTP.Timeout,
		ConnectTimeout: cfg.HTTP.ConnectTimeout,
		MaxRetries:     retries,
		RetryBase:      cfg.HTTP.RetryBase,
		RetryMax:       cfg.HTTP.RetryMax,
		UserAgent:      cfg.HTTP.UserAgent,
	}, opts...)

	a.Fetcher = wikibase.NewFetcher(logger, a.HTTP, wikibase.Options{
		BatchThreshold: cfg.Batch.BatchThreshold,
		WikidataURL:    cfg.Wikibase.WikidataURL,
		CommonsURL:     cfg.Wikibase.CommonsURL,
		Languages:      cfg.Wikibase.Languages,
		Props:          cfg.Wikibase.Props,
	})

	a.SPARQL = wdqs.NewClient(logger, a.HTTP, wdqs.Options{
		LengthThreshold: cfg.SPARQL.LengthThreshold,
		Timeout:         cfg.SPARQL.Timeout,
		AcceptOverride:  cfg.SPARQL.Accept,
		BaseURL:         cfg.SPARQL.URL,
	})

	if err := a.openFetchLog(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openFetchLog(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Freshness.Driver {
	case config.DriverSQLite:
		store, err := sqlitefetchlog.Open(ctx, cfg.Freshness.SQLitePath)
		if err != nil {
			return fmt.Errorf("app: open sqlite fetch log: %w", err)
		}
		a.FetchLog = store
		a.closers = append(a.closers, store.Close)

	case config.DriverPostgres:
		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, a.Log, cfg.Database.DSN); err != nil {
				return fmt.Errorf("app: %w", err)
			}
		}
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		a.FetchLog = pgfetchlog.New(pool, postgres.NewTxManager(pool))
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
	}

	if a.FetchLog != nil {
		a.Log.DebugContext(ctx, "fetch log ready", slog.String("driver", cfg.Freshness.Driver))
	}
	return nil
}

// NewEngine returns a batch engine using the configured thresholds and, when
// a fetch log is configured, its oracle and recorder. opts are applied last.
func (a *App) NewEngine(opts ...batch.Option) *batch.Engine {
	var base []batch.Option
	if a.FetchLog != nil {
		base = append(base, batch.WithOracle(a.FetchLog), batch.WithRecorder(a.FetchLog))
	}
	return batch.NewEngine(a.Log, a.Fetcher, batch.Config{
		BatchThreshold:      a.Config.Batch.BatchThreshold,
		CandidatesThreshold: a.Config.Batch.CandidatesThreshold,
		StaleAfter:          a.Config.Batch.StaleAfter,
		Interactive:         a.Config.Batch.Interactive,
	}, append(base, opts...)...)
}

// NewLoader returns an entity loader batching through the shared fetcher.
func (a *App) NewLoader() *dataloader.EntityLoader {
	return dataloader.NewEntityLoader(a.Fetcher, dataloader.Options{
		Wait:     a.Config.Batch.LoaderWait,
		MaxBatch: a.Config.Batch.BatchThreshold,
	})
}

// LogMetrics writes the network counters at info level.
func (a *App) LogMetrics(ctx context.Context) {
	s := a.HTTP.Metrics().Snapshot()
	attrs := []any{
		slog.Uint64("requests", s.Requests),
		slog.Uint64("retries", s.Retries),
		slog.Duration("backoff", s.Sleep),
		slog.Duration("network", s.Network),
		slog.Uint64("bytes", s.BytesReceived),
	}
	for code, n := range s.Statuses {
		attrs = append(attrs, slog.Uint64(fmt.Sprintf("status_%d", code), n))
	}
	a.Log.InfoContext(ctx, "network metrics", attrs...)
}

// Close releases the fetch log. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
