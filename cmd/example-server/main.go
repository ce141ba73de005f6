package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
)

func main() {
	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := infra.NewLocalStore(10*time.Second, infra.WithCapacity(1000))
	if err != nil {
		logger.Error("store", "error", err)
		os.Exit(1)
	}
	store.StartJanitor(ctx)

	limiter, err := ratelimit.New(ratelimit.Options{
		Policy: domain.Policy{
			// chaves premium (header X-Plan) ganham mais requisições por janela
			Max: domain.ResolverFunc[int64](func(ctx context.Context, _ domain.Key) (int64, error) {
				if r, ok := ratelimit.RequestFromContext(ctx); ok && r.Header.Get("X-Plan") == "premium" {
					return 50, nil
				}
				return 5, nil
			}),
			TimeWindow: 10 * time.Second,
			AllowList:  domain.AllowKeys("127.0.0.1"),
			Global:     true,
		},
		Store:               store,
		KeyHeader:           "X-Api-Key", // ou vazio para usar IP
		TrustXForwardedFor:  true,
		AddRateLimitHeaders: true,
		Logger:              logger,
	})
	if err != nil {
		logger.Error("rate limiter", "error", err)
		os.Exit(1)
	}

	ok := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}

	login, err := limiter.Route(http.MethodPost, "/login", &domain.PolicyOverride{
		Max:          domain.Value[int64](3),
		TimeWindow:   domain.Ptr(time.Minute),
		BanThreshold: domain.Ptr(2),
		OnExceeded: func(_ context.Context, key domain.Key) {
			logger.Warn("client banned", "key", key)
		},
	})
	if err != nil {
		logger.Error("route /login", "error", err)
		os.Exit(1)
	}
	health, err := limiter.Route(http.MethodGet, "/health", &domain.PolicyOverride{Disabled: true})
	if err != nil {
		logger.Error("route /health", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /login", login(http.HandlerFunc(ok)))
	mux.Handle("GET /health", health(http.HandlerFunc(ok)))
	mux.Handle("/", limiter.Middleware()(http.HandlerFunc(ok)))

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
