package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-sync/internal/circuitbreaker"
	"github.com/kjstillabower/weather-sync/internal/client"
	"github.com/kjstillabower/weather-sync/internal/config"
	"github.com/kjstillabower/weather-sync/internal/credentials"
	"github.com/kjstillabower/weather-sync/internal/districts"
	"github.com/kjstillabower/weather-sync/internal/observability"
	"github.com/kjstillabower/weather-sync/internal/ratelimit"
	"github.com/kjstillabower/weather-sync/internal/sink"
	"github.com/kjstillabower/weather-sync/internal/syncer"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	pool, err := credentials.NewPool(cfg.APIKeys)
	if err != nil {
		logger.Fatal("credential pool", zap.Error(err))
	}
	logger.Info("credential pool ready", zap.Int("keys", pool.Size()))

	governor := ratelimit.New(cfg.RequestsPerWindow, cfg.RateWindow, cfg.SafetyMargin, ratelimit.WithPacing(cfg.PacingRPS))
	observability.RegisterRateWindowGauge(governor.InWindow)
	logger.Info("rate governor ready",
		zap.Int("threshold", governor.Threshold()),
		zap.Duration("window", cfg.RateWindow))

	gateway, err := client.NewGateway(client.Config{
		WeatherURL:    cfg.WeatherURL,
		ForecastURL:   cfg.ForecastURL,
		OneCallURL:    cfg.OneCallURL,
		AirQualityURL: cfg.AirQualityURL,
		Mode:          client.Mode(cfg.ProviderMode),
		Units:         cfg.Units,
		Timeout:       cfg.ProviderTimeout,
	}, pool, governor, logger)
	if err != nil {
		logger.Fatal("weather gateway", zap.Error(err))
	}

	if cfg.BreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			Timeout:          cfg.BreakerTimeout,
			Component:        "weather_api",
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition("weather_api", from.String(), to.String(), int(to))
			},
		})
		gateway.SetCircuitBreaker(cb)
		observability.CircuitBreakerState.WithLabelValues("weather_api").Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.BreakerFailureThreshold),
			zap.Duration("timeout", cfg.BreakerTimeout))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	var db *sql.DB
	if cfg.DistrictSource == "postgres" || cfg.SinkBackend == "postgres" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres", zap.Error(err))
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("postgres ping", zap.Error(err))
		}
	}

	var source districts.Source
	switch cfg.DistrictSource {
	case "postgres":
		source = districts.NewPostgresSource(db, cfg.DistrictQuery)
		logger.Info("district source: postgres")
	default:
		source = districts.FileSource{Path: cfg.DistrictFile}
		logger.Info("district source: file", zap.String("path", cfg.DistrictFile))
	}

	var store sink.Sink
	var closer io.Closer
	switch cfg.SinkBackend {
	case "postgres":
		pg := sink.NewPostgresSink(db, cfg.SinkTable)
		if cfg.EnsureSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				logger.Fatal("postgres schema", zap.Error(err))
			}
		}
		store = pg
		logger.Info("sink backend: postgres", zap.String("table", cfg.SinkTable))
	case "redis":
		rs := sink.NewRedisSink(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), cfg.RedisKeyPrefix)
		if err := rs.Ping(ctx); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		store, closer = rs, rs
		logger.Info("sink backend: redis", zap.String("addr", cfg.RedisAddr))
	case "memcached":
		mc := sink.NewMemcachedSink(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err := mc.Ping(); err != nil {
			logger.Fatal("memcached ping", zap.Error(err))
		}
		store, closer = mc, mc
		logger.Info("sink backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		store = sink.NewMemorySink()
		logger.Warn("sink backend: memory; records are discarded at exit")
	}

	driver := syncer.New(source, gateway, sink.Instrument(store, cfg.SinkBackend),
		syncer.WithNameAliases(cfg.NameAliases),
		syncer.WithLogger(logger))
	summary, runErr := driver.Run(ctx)
	if runErr != nil {
		logger.Error("sync run", zap.Error(runErr), zap.String("state", summary.State.String()))
	}

	if closer != nil {
		if err := closer.Close(); err != nil {
			logger.Error("sink close", zap.Error(err))
		}
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), cfg.ProviderTimeout)
	defer flushCancel()
	if err := observability.FlushTelemetry(flushCtx, logger, observability.FlushConfig{
		PushgatewayURL: cfg.PushgatewayURL,
		Job:            cfg.MetricsJob,
		TextfilePath:   cfg.MetricsTextfile,
	}); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if runErr != nil || summary.State != syncer.StateCompleted {
		os.Exit(1)
	}
}
