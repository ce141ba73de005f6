// Command gateway é um reverse proxy com controle de admissão por chave.
//
// Configuração por flags ou variáveis de ambiente (veja CLI); rotas com
// policy própria vêm de um arquivo YAML (RATE_ROUTES_FILE):
//
//	routes:
//	  - method: POST
//	    path: /login
//	    max: 5
//	    time_window: 1m
//	    ban: 3
//	  - path: /health
//	    disabled: true
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	var cli CLI
	kong.Parse(&cli,
		kong.Name("gateway"),
		kong.Description("Reverse proxy with per-key admission control."),
		kong.UsageOnError(),
	)

	logger := cli.Logger()
	slog.SetDefault(logger)

	if err := run(&cli, logger); err != nil {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(cli *CLI, logger *slog.Logger) error {
	target, err := url.Parse(cli.UpstreamURL)
	if err != nil {
		return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", "path", r.URL.Path, "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var rdb redis.UniversalClient
	if cli.RedisAddr != "" && (cli.RateStore == "redis" || cli.RateStats == "redis") {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    strings.Split(cli.RedisAddr, ","),
			Password: cli.RedisPassword,
			DB:       cli.RedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancelPing()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	mux := http.NewServeMux()
	if cli.RateStats == "prometheus" {
		mux.Handle(cli.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	if !cli.RateEnabled {
		mux.Handle("/", proxy)
	} else if err := mountLimited(ctx, cli, logger, mux, proxy, rdb, reg); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cli.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening", "addr", cli.ListenAddr, "upstream", target.String())
	logger.Info("rate limit",
		"enabled", cli.RateEnabled, "global", cli.RateGlobal, "max", cli.RateMax, "window", cli.RateWindow,
		"ban", cli.RateBan, "store", cli.RateStore, "stats", cli.RateStats, "keyHeader", cli.RateKeyHeader, "trustXFF", cli.TrustXFF)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// mountLimited registra o escopo global e as rotas do arquivo. Qualquer policy
// inválida aborta o start.
func mountLimited(ctx context.Context, cli *CLI, logger *slog.Logger, mux *http.ServeMux, next http.Handler, rdb redis.UniversalClient, reg prometheus.Registerer) error {
	policy, err := cli.GlobalPolicy()
	if err != nil {
		return err
	}
	routes, err := loadRoutes(cli.RateRoutesFile)
	if err != nil {
		return err
	}

	store, bans, err := buildBackend(ctx, cli, policy, rdb)
	if err != nil {
		return err
	}
	stats, err := buildStats(cli, rdb, reg)
	if err != nil {
		return err
	}

	limiter, err := ratelimit.New(ratelimit.Options{
		Policy:              policy,
		Store:               store,
		Bans:                bans,
		Cache:               cli.RateCache,
		Stats:               stats,
		KeyHeader:           cli.RateKeyHeader,
		TrustXForwardedFor:  cli.TrustXFF,
		AddRateLimitHeaders: cli.AddHeaders,
		DraftHeaders:        cli.DraftHeaders,
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	if ms, ok := stats.(*infra.MemoryStatsStore); ok {
		mux.Handle(cli.MetricsPath, memoryStatsHandler(ms))
	}

	catchAll := false
	for _, rc := range routes {
		catchAll = catchAll || rc.Pattern() == "/"
		method := rc.Method
		if method == "" {
			method = "*"
		}
		mw, err := limiter.Route(strings.ToUpper(method), rc.Path, rc.Override())
		if err != nil {
			return err
		}
		mux.Handle(rc.Pattern(), mw(next))
		logger.Info("rate limit route", "pattern", rc.Pattern(), "disabled", rc.Disabled)
	}
	if !catchAll {
		mux.Handle("/", limiter.Middleware()(next))
	}
	return nil
}

func memoryStatsHandler(ms *infra.MemoryStatsStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Total   infra.Counters            `json:"total"`
			ByRoute map[string]infra.Counters `json:"by_route"`
			ByKey   map[string]infra.Counters `json:"by_key,omitempty"`
		}{ms.Total(), ms.ByRoute(), ms.ByKey()})
	})
}

func buildBackend(ctx context.Context, cli *CLI, policy domain.Policy, rdb redis.UniversalClient) (domain.Store, domain.BanTracker, error) {
	if cli.RateStore == "redis" {
		store, err := infra.NewRedisStore(rdb, policy.TimeWindow,
			infra.WithKeyPrefix(cli.RedisPrefix),
			infra.WithRedisTimeout(cli.RedisTimeout),
		)
		if err != nil {
			return nil, nil, err
		}
		bans, err := infra.NewRedisBanTracker(rdb, domain.BanThreshold(policy), cli.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		return store, bans, nil
	}

	store, err := infra.NewLocalStore(policy.TimeWindow, infra.WithCapacity(cli.RateCache))
	if err != nil {
		return nil, nil, err
	}
	store.StartJanitor(ctx)
	bans, err := infra.NewMemoryBanTracker(domain.BanThreshold(policy), cli.RateCache)
	if err != nil {
		return nil, nil, err
	}
	return store, bans, nil
}

func buildStats(cli *CLI, rdb redis.UniversalClient, reg prometheus.Registerer) (domain.StatsStore, error) {
	switch cli.RateStats {
	case "memory":
		return infra.NewMemoryStatsStore(infra.WithTrackKeys(cli.RateStatsTrackKeys)), nil
	case "redis":
		return infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cli.RateStatsPrefix),
			infra.WithStatsTTL(cli.RateStatsTTL),
			infra.WithStatsBucket(cli.RateStatsBucket),
			infra.WithStatsTrackKeys(cli.RateStatsTrackKeys),
		), nil
	case "prometheus":
		ps, err := infra.NewPrometheusStatsStore(reg, "gateway")
		if err != nil {
			return nil, err
		}
		return ps, nil
	default:
		return nil, nil
	}
}
