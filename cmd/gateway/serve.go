package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"seat-gateway/allocation"
	"seat-gateway/allocation/application"
	"seat-gateway/allocation/broadcast"
	"seat-gateway/allocation/domain"
	"seat-gateway/allocation/infra"
	"seat-gateway/internal/config"
	"seat-gateway/internal/logging"
	"seat-gateway/middleware/ratelimit"
	rlinfra "seat-gateway/middleware/ratelimit/infra"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the allocation HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	journal, closeJournal, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeJournal()

	emitter := application.NewEmitter(
		application.WithEmitterLogger(logger.Named("emitter")),
		application.WithQueueSize(cfg.EventQueueSize),
	)
	engine, err := application.New(ctx, cfg.PoolCapacity,
		application.WithJournal(journal),
		application.WithPublisher(emitter),
		application.WithJournalTimeout(cfg.JournalTimeout),
		application.WithLogger(logger.Named("engine")),
	)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	snap := engine.Snapshot()
	logger.Info("pool ready",
		zap.String("pool", cfg.PoolName),
		zap.Int("capacity", snap.Capacity),
		zap.Int("remaining", snap.Remaining),
		zap.Uint64("last_sequence", snap.LastSequence),
	)

	var stats infra.MultiStatsStore

	reg := prometheus.NewRegistry()
	if cfg.MetricsEnabled {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics, err := infra.NewMetrics(reg, cfg.PoolName)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		metrics.Prime(snap)
		emitter.Subscribe("metrics", metrics)
		stats = append(stats, metrics)
	}

	hub := broadcast.NewHub(engine.Snapshot, broadcast.WithLogger(logger.Named("ws")))
	emitter.Subscribe("websocket", hub)

	if cfg.RedisEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping error: %w", err)
		}

		cache := infra.NewRedisAvailabilityCache(rdb, cfg.RedisPrefix, cfg.PoolName)
		if err := cache.Handle(ctx, snapshotEvent(snap)); err != nil {
			logger.Warn("availability cache prime failed", zap.Error(err))
		}
		emitter.Subscribe("redis", cache)

		stats = append(stats, infra.NewRedisStatsStore(rdb,
			infra.WithStatsPrefix(infra.PoolKeyPrefix(cfg.RedisPrefix, cfg.PoolName)+":stats"),
			infra.WithStatsTTL(cfg.StatsTTL),
			infra.WithStatsBucket(cfg.StatsBucket),
			infra.WithStatsTrackRequesters(cfg.StatsTrackKeys),
		))
	} else {
		stats = append(stats, infra.NewMemoryStatsStore(infra.WithTrackRequesters(cfg.StatsTrackKeys)))
	}

	mux := http.NewServeMux()
	api := allocation.Handler(engine, allocation.Options{
		Stats:      stats,
		Logger:     logger.Named("http"),
		Timeout:    cfg.AllocateTimeout,
		RetryAfter: cfg.RetryAfter,
	})
	mux.Handle("/allocations/", api)
	mux.Handle("/availability", api)
	mux.Handle("GET /ws", hub)
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := engine.Halted(); err != nil {
			http.Error(w, "halted", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})

	reject := rejectRecorder(stats, logger)
	store := rlinfra.NewStore(cfg.RateRPS, cfg.RateBurst, rlinfra.WithStoreLogger(logger.Named("ratelimit")))

	h := http.Handler(mux)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.ConcurrencyMax,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.ConcurrencyTimeout,
		FailFastReads:  cfg.FailFastReads,
		OnReject:       reject(domain.OutcomeOverloaded),
		Logger:         logger.Named("concurrency"),
	})(h)
	if cfg.RateEnabled {
		h = ratelimit.Middleware(ratelimit.Options{
			Store:               store,
			KeyFn:               ratelimit.PathKeyFunc("/allocations/", ratelimit.DefaultKeyFunc(cfg.RateKeyHeader, cfg.TrustXFF)),
			RejectStatus:        http.StatusTooManyRequests,
			RetryAfter:          cfg.RetryAfter,
			AddRateLimitHeaders: cfg.AddHeaders,
			ExemptReads:         cfg.RateExemptReads,
			OnReject:            reject(domain.OutcomeRateLimited),
			Logger:              logger.Named("ratelimit"),
		})(h)
	}
	h = allocation.RequestID(h)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	logger.Info("gateway listening", zap.String("addr", cfg.ListenAddr))
	logger.Info("rate",
		zap.Bool("enabled", cfg.RateEnabled),
		zap.Float64("rps", cfg.RateRPS),
		zap.Int("burst", cfg.RateBurst),
		zap.String("key_header", cfg.RateKeyHeader),
		zap.Bool("trust_xff", cfg.TrustXFF),
		zap.Bool("exempt_reads", cfg.RateExemptReads),
	)
	logger.Info("concurrency", zap.Int("max", cfg.ConcurrencyMax), zap.Duration("acquire_timeout", cfg.ConcurrencyTimeout), zap.Bool("fail_fast_reads", cfg.FailFastReads))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hub.Close()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.RateEnabled {
		g.Go(func() error { return store.RunJanitor(gctx) })
	}
	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := emitter.Close(closeCtx); err != nil {
		logger.Warn("emitter did not drain", zap.Error(err), zap.Int("pending", emitter.Pending()))
	}
	logger.Info("gateway stopped")
	return runErr
}

// openJournal usa Postgres quando há DSN; senão o journal vive só em memória.
func openJournal(ctx context.Context, cfg config.Config, logger *zap.Logger) (domain.Journal, func(), error) {
	if cfg.JournalDSN == "" {
		logger.Warn("JOURNAL_DSN not set: allocations will not survive a restart")
		return infra.NewMemoryJournal(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.JournalDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("journal connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("journal ping: %w", err)
	}

	j := infra.NewPostgresJournal(pool, infra.WithPoolName(cfg.PoolName))
	if err := j.EnsureSchema(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("journal schema: %w", err)
	}
	return j, pool.Close, nil
}

func snapshotEvent(s domain.Snapshot) domain.Event {
	return domain.Event{
		Type:      domain.EventTypeAvailability,
		Remaining: s.Remaining,
		Capacity:  s.Capacity,
		Sequence:  s.LastSequence,
		At:        time.Now().UTC(),
	}
}

// rejectRecorder conta em estatísticas as requisições barradas antes do motor.
func rejectRecorder(stats domain.StatsStore, logger *zap.Logger) func(domain.Outcome) ratelimit.RejectFunc {
	return func(o domain.Outcome) ratelimit.RejectFunc {
		return func(r *http.Request, key string) {
			err := stats.Record(r.Context(), domain.StatsEvent{
				RequesterID: requesterFromKey(key),
				Outcome:     o,
				Operation:   operationOf(r),
				At:          time.Now(),
			})
			if err != nil {
				logger.Debug("stats record failed", zap.Error(err))
			}
		}
	}
}

func requesterFromKey(key string) string {
	id, ok := strings.CutPrefix(key, "requester:")
	if !ok {
		return ""
	}
	return id
}

func operationOf(r *http.Request) string {
	if !strings.HasPrefix(r.URL.Path, "/allocations/") {
		return "query"
	}
	switch r.Method {
	case http.MethodPost:
		return "allocate"
	case http.MethodDelete:
		return "release"
	default:
		return "query"
	}
}
