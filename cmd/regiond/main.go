// cmd/regiond/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FairForge/regioncoord/internal/api"
	"github.com/FairForge/regioncoord/internal/audit"
	"github.com/FairForge/regioncoord/internal/calendar"
	"github.com/FairForge/regioncoord/internal/collector"
	"github.com/FairForge/regioncoord/internal/config"
	"github.com/FairForge/regioncoord/internal/disparity"
	"github.com/FairForge/regioncoord/internal/metrics"
	"github.com/FairForge/regioncoord/internal/orchestrator"
	"github.com/FairForge/regioncoord/internal/region"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := pflag.StringP("config", "c", config.GetEnvOrDefault("REGIONCOORD_CONFIG", "regioncoord.yaml"), "path to the YAML configuration")
	addr := pflag.String("addr", "", "listen address, overrides the configuration")
	logLevel := pflag.String("log-level", "", "log level, overrides the configuration")
	pflag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "regiond: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = *logLevel
	}

	logger, err := newLogger(cfg.Server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "regiond: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("regiond failed", zap.Error(err))
	}
}

// loadConfig reads the file when it exists, then applies the environment.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	if _, err := os.Stat(path); err == nil {
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	config.LoadFromEnv(cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.ServerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New()

	cal, err := calendar.New()
	if err != nil {
		return err
	}
	if cfg.Calendar.Path != "" {
		w, err := calendar.NewWatcher(cal, cfg.Calendar.Path, logger)
		if err != nil {
			return err
		}
		logger.Info("event calendar loaded", zap.String("path", cfg.Calendar.Path), zap.Int("profiles", cal.Len()))
		if cfg.Calendar.Watch {
			go func() {
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("calendar watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	sink, closeSinks, err := buildAuditSinks(ctx, cfg.Audit, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	var poller *collector.Poller
	orch, err := orchestrator.New(orchestrator.Config{
		Regions: cfg.Regions,
		Region: region.Config{
			ScoreSmoothing: cfg.Coordinator.Smoothing(),
			ScoreWeights:   cfg.Coordinator.ScoreWeights,
		},
		Criteria:            &cfg.Failover.Criteria,
		AutoFailover:        cfg.Failover.AutoFailover,
		MaxFailoverDuration: cfg.Failover.MaxDuration,
		MaxFailoverRecords:  cfg.Failover.MaxRecords,
		DisparityThresholds: disparityThresholds(cfg.Disparity),
		Profiles:            cal,
		RevenueProtection:   cfg.Capacity.RevenueProtection,
		Events:              cal,
		Sink:                sink,
		Metrics:             m,
		Logger:              logger,
		OnRegionChange: func(name string, added bool) {
			if poller == nil {
				return
			}
			if added {
				poller.Track(name)
			} else {
				poller.Untrack(name)
			}
		},
	})
	if err != nil {
		return err
	}

	for _, pc := range cfg.Sync.Policies {
		policy, err := pc.Build()
		if err != nil {
			return err
		}
		if err := orch.SyncScheduler().Register(pc.Category, policy); err != nil {
			return err
		}
	}

	if cfg.Collector.Enabled {
		src := collector.NewHTTPSource(cfg.Collector.Endpoints, cfg.Collector.Token, cfg.Collector.Timeout)
		poller, err = collector.NewPoller(src, orch, collector.PollerConfig{
			Interval:      cfg.Collector.Interval,
			Timeout:       cfg.Collector.Timeout,
			RatePerSecond: cfg.Collector.RatePerSecond,
			Burst:         cfg.Collector.Burst,
			Logger:        logger,
			OnError: func(name string, _ error) {
				m.IncCollectionError(name)
			},
		})
		if err != nil {
			return err
		}
		poller.Start(ctx, cfg.Regions...)
		defer poller.Stop()
	}

	go evaluateLoop(ctx, orch, cfg.Failover.EvaluationInterval)

	server := api.NewServer(cfg.Server, orch, m, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	logger.Info("regiond started",
		zap.String("addr", cfg.Server.Addr),
		zap.Strings("regions", cfg.Regions),
		zap.Bool("auto_failover", cfg.Failover.AutoFailover),
		zap.Bool("collector", cfg.Collector.Enabled))

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
	return orch.Shutdown(shutdownCtx)
}

func evaluateLoop(ctx context.Context, orch *orchestrator.Orchestrator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			orch.EvaluateAll(ctx)
		}
	}
}

func disparityThresholds(cfg config.DisparityConfig) disparity.Thresholds {
	t := disparity.DefaultThresholds()
	t.CriticalResponseTimeMs = cfg.CriticalResponseTimeMs
	t.CriticalThroughput = cfg.CriticalThroughput
	return t
}

// buildAuditSinks fans entries out to every configured sink. The returned
// func flushes and closes them.
func buildAuditSinks(ctx context.Context, cfg config.AuditConfig, logger *zap.Logger) (audit.Sink, func(), error) {
	sinks := audit.MultiSink{audit.NewMemorySink(cfg.MemoryMax)}
	var closers []func()

	if cfg.Log {
		sinks = append(sinks, audit.NewLogSink(logger))
	}

	if cfg.Postgres.Enabled {
		pg, err := audit.OpenPostgresSink(cfg.Postgres.PostgresConfig)
		if err != nil {
			return nil, nil, err
		}
		schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = pg.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("prepare audit schema: %w", err)
		}
		sinks = append(sinks, pg)
		closers = append(closers, func() { _ = pg.Close() })
	}

	if cfg.Archive.Enabled {
		archiver, err := audit.NewS3Archiver(audit.NewS3Client(cfg.Archive.ArchiveConfig), cfg.Archive.ArchiveConfig, logger.Named("archive"))
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, archiver)

		flushCtx, stopFlush := context.WithCancel(ctx)
		go archiver.Run(flushCtx, cfg.Archive.FlushInterval)
		closers = append(closers, func() {
			stopFlush()
			closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := archiver.Close(closeCtx); err != nil {
				logger.Error("audit archive close failed", zap.Error(err))
			}
		})
	}

	return sinks, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}
