// Command alertengine wires the whole crypto market-alert evaluation engine
// together: ingestion, price/candle caches, the rule index, the shard
// router, throttling, the trigger bus and its journal, the boundary
// scheduler, and the read-only HTTP/metrics surfaces.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/p9labs/alertengine/internal/alertindex"
	"github.com/p9labs/alertengine/internal/candlestore"
	"github.com/p9labs/alertengine/internal/config"
	"github.com/p9labs/alertengine/internal/domain"
	"github.com/p9labs/alertengine/internal/evaluation"
	"github.com/p9labs/alertengine/internal/httpapi"
	"github.com/p9labs/alertengine/internal/ingestion"
	"github.com/p9labs/alertengine/internal/journal"
	"github.com/p9labs/alertengine/internal/metrics"
	"github.com/p9labs/alertengine/internal/pricecache"
	"github.com/p9labs/alertengine/internal/pubsub"
	"github.com/p9labs/alertengine/internal/scheduler"
	"github.com/p9labs/alertengine/internal/supervisor"
	"github.com/p9labs/alertengine/internal/throttle"
	"github.com/p9labs/alertengine/internal/triggerbus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.NewLoader().Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(logger)
	m.Serve(cfg.HTTP.MetricsAddr)

	run(ctx, logger, cfg, m)
}

func run(ctx context.Context, logger *zap.Logger, cfg config.Config, m *metrics.Metrics) {
	symbols := make([]domain.Symbol, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols = append(symbols, domain.NewSymbol(s))
	}

	j, err := journal.Open(logger, cfg.Journal.Dir)
	if err != nil {
		logger.Fatal("open journal", zap.Error(err))
	}
	defer j.Close()

	redisClient, err := pubsub.NewClient(ctx, pubsub.Config{
		URL:         cfg.Redis.URL,
		DB:          cfg.Redis.DB,
		Password:    cfg.Redis.Password,
		PoolSize:    cfg.Redis.PoolSize,
		MaxRetries:  cfg.Redis.MaxRetries,
		DialTimeout: cfg.DialTimeoutDuration(),
	}, logger)
	if err != nil {
		logger.Fatal("connect redis", zap.Error(err))
	}
	defer redisClient.Close()

	cache := pricecache.New(logger, domain.AllTimeframes)
	candles := candlestore.New(logger, cfg.Engine.RingCapacity)
	index := alertindex.New(logger)
	gate := throttle.New()
	bus := triggerbus.New(logger, j, redisClient)
	engine := evaluation.New(logger, cache, candles, index, gate, bus, cfg.Engine.WarmupDepth)

	numShards := cfg.Engine.MaxShards
	if numShards <= 0 {
		numShards = runtime.GOMAXPROCS(0)
	}
	router := evaluation.NewRouter(logger, engine, numShards, cfg.Engine.ShardQueueLen)

	warmUpCandleSeries(ctx, logger, candles, symbols, cfg.Engine.WarmupDepth)

	sched := scheduler.New(logger, domain.AllTimeframes, nil)
	rolls := sched.Subscribe()

	connector := ingestion.NewBinanceConnector(logger)
	source := ingestion.NewSource(logger, connector, symbols, m)

	api := httpapi.New(logger, candles, index, cfg.Engine.WarmupDepth,
		cfg.HTTP.ListenAddr, cfg.HTTP.RateLimitPerSecond, cfg.HTTP.RateLimitBurst)
	api.Serve()

	sup := supervisor.New(logger)
	backoffCfg := supervisor.WorkerConfig{InitialBackoff: 500 * time.Millisecond, MaxBackoff: 30 * time.Second, BackoffFactor: 2.0}

	register := func(name string, fn supervisor.WorkerFunc) {
		workerCfg := backoffCfg
		workerCfg.Name = name
		if err := sup.Add(workerCfg, fn); err != nil {
			logger.Fatal("register worker", zap.String("worker", name), zap.Error(err))
		}
	}

	register("ingestion-source", func(ctx context.Context) error {
		source.Run(ctx)
		return ctx.Err()
	})
	register("shard-router", func(ctx context.Context) error {
		router.Run(ctx)
		return ctx.Err()
	})
	register("alert-index", func(ctx context.Context) error {
		index.Run(ctx)
		return ctx.Err()
	})
	register("boundary-scheduler", func(ctx context.Context) error {
		sched.RunAll(ctx)
		return ctx.Err()
	})
	register("tick-pump", func(ctx context.Context) error {
		for {
			tick, ok := source.Next(ctx)
			if !ok {
				return ctx.Err()
			}
			router.RouteTick(tick)
		}
	})
	register("bucket-roll-pump", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case roll := <-rolls:
				router.BroadcastBucketRoll(roll.Timeframe, roll.NewOpenTime)
			}
		}
	})
	register("rule-mutation-consumer", func(ctx context.Context) error {
		for mutation := range redisClient.SubscribeRuleMutations(ctx) {
			applyRuleMutation(index, mutation)
		}
		return ctx.Err()
	})

	sup.Start()
	<-ctx.Done()
	logger.Info("shutting down")
	sup.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = api.Shutdown(shutdownCtx)
	_ = m.Shutdown(shutdownCtx)
}

func applyRuleMutation(index *alertindex.Index, mutation pubsub.RuleMutation) {
	switch mutation.Op {
	case "upsert":
		if mutation.Rule != nil {
			index.Upsert(*mutation.Rule)
		}
	case "remove":
		index.Remove(mutation.ID)
	case "bulk_load":
		index.BulkLoad(mutation.Rules)
	}
}

const (
	warmUpMaxAttempts    = 3
	warmUpInitialBackoff = 500 * time.Millisecond
	warmUpMaxBackoff     = 30 * time.Second
	warmUpBackoffFactor  = 2.0
)

// warmUpBackoff mirrors internal/ingestion.calculateBackoff's shape: the
// same exponential-backoff-from-retry-count formula, duplicated here because
// it belongs to an unexported helper in a different package.
func warmUpBackoff(attempt int) time.Duration {
	backoff := warmUpInitialBackoff
	for i := 0; i < attempt-1; i++ {
		backoff = time.Duration(float64(backoff) * warmUpBackoffFactor)
		if backoff > warmUpMaxBackoff {
			return warmUpMaxBackoff
		}
	}
	return backoff
}

func warmUpCandleSeries(ctx context.Context, logger *zap.Logger, candles *candlestore.Store, symbols []domain.Symbol, warmupDepth int) {
	for _, symbol := range symbols {
		for _, tf := range domain.AllTimeframes {
			var err error
			for attempt := 1; attempt <= warmUpMaxAttempts; attempt++ {
				if err = candles.WarmUp(ctx, symbol, tf, warmupDepth); err == nil {
					break
				}
				if attempt == warmUpMaxAttempts || ctx.Err() != nil {
					break
				}
				backoff := warmUpBackoff(attempt)
				logger.Warn("candle warm-up attempt failed, retrying",
					zap.String("symbol", symbol.String()), zap.String("timeframe", string(tf)),
					zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
				}
			}
			if err != nil {
				logger.Warn("candle warm-up failed after retries, starting cold",
					zap.String("symbol", symbol.String()), zap.String("timeframe", string(tf)),
					zap.Int("attempts", warmUpMaxAttempts), zap.Error(err))
			}
		}
	}
}
