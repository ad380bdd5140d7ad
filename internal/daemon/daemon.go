// Package daemon wires the relay components together and runs them until a
// shutdown signal arrives.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/al-bashkir/ipo-result-relay/internal/cache"
	"github.com/al-bashkir/ipo-result-relay/internal/config"
	"github.com/al-bashkir/ipo-result-relay/internal/httpserver"
	"github.com/al-bashkir/ipo-result-relay/internal/ipo"
	"github.com/al-bashkir/ipo-result-relay/internal/ratelimit"
	"github.com/al-bashkir/ipo-result-relay/internal/session"
	"github.com/al-bashkir/ipo-result-relay/internal/telemetry"
	"github.com/al-bashkir/ipo-result-relay/internal/upstream"
)

const (
	shutdownTimeout  = 30 * time.Second
	redisPingTimeout = 2 * time.Second
)

// Daemon represents the relay process.
type Daemon struct {
	cfg           *config.Config
	httpServer    *httpserver.Server
	sessions      *session.Store
	limiter       *ratelimit.FixedWindow
	memStats      *ratelimit.MemoryStatsStore // nil when Redis stats are used
	redis         *redis.Client
	traceShutdown func(context.Context) error
}

// New creates a new daemon with all components initialized.
func New(cfg *config.Config) (*Daemon, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	traceShutdown, err := telemetry.Setup(ctx, &cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if cfg.Telemetry.Endpoint != "" {
		slog.Info("tracing enabled", "endpoint", cfg.Telemetry.Endpoint)
	}

	d := &Daemon{
		cfg:           cfg,
		traceShutdown: traceShutdown,
	}

	stats, err := d.initStats(ctx)
	if err != nil {
		_ = traceShutdown(context.Background())
		return nil, err
	}

	client := upstream.NewClient(upstream.Config{
		BaseURL:       cfg.Upstream.BaseURL,
		UserAgent:     cfg.Upstream.UserAgent,
		Timeout:       cfg.UpstreamTimeout(),
		CheckPath:     cfg.Upstream.CheckPath,
		FormCheckPath: cfg.Upstream.FormCheckPath,
		RPS:           cfg.Upstream.RPS,
		Burst:         cfg.Upstream.Burst,
	})

	slog.Info("upstream client initialized",
		"base_url", cfg.Upstream.BaseURL,
		"protocol", cfg.Upstream.Protocol,
		"timeout", cfg.UpstreamTimeout(),
	)

	d.sessions = session.NewStore(client)
	results := cache.New[ipo.Result](cfg.CacheTTL())
	checker := ipo.NewChecker(client, d.sessions, results)
	d.limiter = ratelimit.NewFixedWindow(cfg.RateLimit.Max, cfg.RateLimitWindow())

	slog.Info("rate limiter initialized",
		"max", cfg.RateLimit.Max,
		"window", cfg.RateLimitWindow(),
		"cache_ttl", cfg.CacheTTL(),
	)

	d.httpServer, err = httpserver.NewServer(cfg, httpserver.Deps{
		Sessions: d.sessions,
		Checker:  checker,
		Limiter:  d.limiter,
		Stats:    stats,
	})
	if err != nil {
		d.closeBackends()
		return nil, fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return d, nil
}

// initStats picks the limiter statistics backend. A configured Redis that
// cannot be reached is a startup error.
func (d *Daemon) initStats(ctx context.Context) (ratelimit.StatsStore, error) {
	if d.cfg.Stats.RedisAddr == "" {
		d.memStats = ratelimit.NewMemoryStatsStore()
		return d.memStats, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     d.cfg.Stats.RedisAddr,
		Password: d.cfg.Stats.RedisPassword,
		DB:       d.cfg.Stats.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", d.cfg.Stats.RedisAddr, err)
	}

	slog.Info("rate limit stats stored in redis",
		"addr", d.cfg.Stats.RedisAddr,
		"prefix", d.cfg.Stats.Prefix,
	)

	d.redis = rdb
	return ratelimit.NewRedisStatsStore(rdb,
		ratelimit.WithStatsPrefix(d.cfg.Stats.Prefix),
		ratelimit.WithStatsTTL(d.cfg.StatsTTL()),
	), nil
}

// Run starts the relay and blocks until SIGINT or SIGTERM.
func (d *Daemon) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.run(ctx)
}

func (d *Daemon) run(ctx context.Context) error {
	slog.Info("starting IPO result relay")

	limiterCtx, stopLimiter := context.WithCancel(context.Background())
	defer stopLimiter()
	go d.limiter.Run(limiterCtx)

	// Start HTTP server in a goroutine (it blocks on ListenAndServe)
	httpErrCh := make(chan error, 1)
	go func() {
		if err := d.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
		close(httpErrCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil {
			slog.Error("HTTP server failed", "error", err)
			stopLimiter()
			d.closeBackends()
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error stopping HTTP server", "error", err)
	}

	stopLimiter()
	d.closeBackends()

	slog.Info("relay shutdown complete")
	return nil
}

// closeBackends flushes traces, reports in-memory stats and drops the
// Redis connection.
func (d *Daemon) closeBackends() {
	if d.memStats != nil {
		total := d.memStats.Total()
		slog.Info("rate limit totals",
			"allowed", total.Allowed,
			"denied", total.Denied,
		)
		for route, c := range d.memStats.ByRoute() {
			slog.Debug("rate limit route totals",
				"route", route,
				"allowed", c.Allowed,
				"denied", c.Denied,
			)
		}
	}

	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			slog.Error("error closing redis client", "error", err)
		}
	}

	if d.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.traceShutdown(ctx); err != nil {
			slog.Error("error flushing traces", "error", err)
		}
	}
}
