package ratelimit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
)

type Options struct {
	// Policy é a policy global. Max nil e TimeWindow 0 recebem os defaults
	// (1000 por minuto). Global precisa ser ligado explicitamente.
	Policy domain.Policy
	// Store nil usa infra.LocalStore com capacidade Cache. Um store próprio
	// precisa ter sido criado com Policy.TimeWindow; New confere quando o store
	// expõe Window().
	Store domain.Store
	// Bans nil usa infra.MemoryBanTracker com capacidade Cache. Um tracker
	// próprio precisa usar o BanThreshold da policy (conferido via Threshold()).
	Bans domain.BanTracker
	// Cache é a capacidade dos defaults em memória (0 = infra.DefaultCapacity).
	Cache int

	Stats               domain.StatsStore
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	AddRateLimitHeaders bool
	// DraftHeaders troca X-RateLimit-* por RateLimit-*.
	DraftHeaders bool
	DenyStatus   int
	BanStatus    int
	Logger       *slog.Logger
}

// Limiter é o escopo global já montado. Rotas derivam dele via Route.
type Limiter struct {
	opts   Options
	global *application.RateLimiter
	logger *slog.Logger
}

func New(opts Options) (*Limiter, error) {
	if opts.DenyStatus == 0 {
		opts.DenyStatus = http.StatusTooManyRequests
	}
	if opts.BanStatus == 0 {
		opts.BanStatus = http.StatusForbidden
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Policy.Max == nil {
		opts.Policy.Max = domain.Value[int64](application.DefaultMax)
	}
	if opts.Policy.TimeWindow == 0 {
		opts.Policy.TimeWindow = application.DefaultTimeWindow
	}
	if err := application.ValidatePolicy(opts.Policy); err != nil {
		return nil, err
	}

	if err := checkBackend(opts); err != nil {
		return nil, err
	}

	if opts.Store == nil {
		store, err := infra.NewLocalStore(opts.Policy.TimeWindow, infra.WithCapacity(opts.Cache))
		if err != nil {
			return nil, err
		}
		opts.Store = store
	}
	if opts.Bans == nil {
		bans, err := infra.NewMemoryBanTracker(domain.BanThreshold(opts.Policy), opts.Cache)
		if err != nil {
			return nil, err
		}
		opts.Bans = bans
	}

	global, err := application.NewRateLimiter(opts.Policy, opts.Store, opts.Bans, application.WithLogger(opts.Logger))
	if err != nil {
		return nil, err
	}
	return &Limiter{opts: opts, global: global, logger: opts.Logger}, nil
}

// Middleware aplica o escopo global. Com Policy.Global desligado é um no-op:
// só rotas registradas com Route são limitadas.
func (l *Limiter) Middleware() func(next http.Handler) http.Handler {
	if !l.global.Policy().Global {
		return passthrough
	}
	return l.handler(l.global)
}

// Route registra uma rota. override nil numa policy global compartilha os
// contadores globais; override não nil cria um escopo próprio (contadores e
// bans isolados). Policy inválida falha aqui, nunca por requisição.
func (l *Limiter) Route(method, path string, override *domain.PolicyOverride) (func(next http.Handler) http.Handler, error) {
	policy, limited, err := application.ResolveRoute(l.global.Policy(), override)
	if err != nil {
		return nil, fmt.Errorf("route %s %s: %w", method, path, err)
	}
	if !limited {
		return passthrough, nil
	}
	if override == nil {
		return l.handler(l.global), nil
	}

	scope, err := l.global.Child(method, path, policy)
	if err != nil {
		return nil, fmt.Errorf("route %s %s: %w", method, path, err)
	}
	return l.handler(scope), nil
}

// checkBackend rejeita store e tracker montados com janela ou limite de ban
// diferentes da policy, que contariam em silêncio sobre outra regra.
func checkBackend(opts Options) error {
	if ws, ok := opts.Store.(interface{ Window() time.Duration }); ok && ws.Window() != opts.Policy.TimeWindow {
		return &domain.ConfigError{
			Field:   "Store",
			Message: fmt.Sprintf("window %s differs from policy TimeWindow %s", ws.Window(), opts.Policy.TimeWindow),
		}
	}
	if tb, ok := opts.Bans.(interface{ Threshold() int }); ok && tb.Threshold() != domain.BanThreshold(opts.Policy) {
		return &domain.ConfigError{
			Field:   "Bans",
			Message: fmt.Sprintf("threshold %d differs from policy BanThreshold %d", tb.Threshold(), domain.BanThreshold(opts.Policy)),
		}
	}
	return nil
}

func passthrough(next http.Handler) http.Handler { return next }

func (l *Limiter) handler(rl *application.RateLimiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := l.opts.KeyFn(r)

			dec, err := rl.Evaluate(WithRequest(r.Context(), r), domain.Key(key))
			if err != nil {
				l.logger.Error("rate limit evaluation failed",
					"key", key, "method", r.Method, "path", r.URL.Path,
					"store_error", errors.Is(err, domain.ErrStore), "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			l.record(r, key, dec)

			if l.opts.AddRateLimitHeaders {
				writeRateHeaders(w.Header(), dec, l.opts.DraftHeaders)
			}

			switch dec.Outcome {
			case domain.OutcomeDeny:
				w.Header().Set("Retry-After", formatInt(ceilSeconds(dec.TTL)))
				writeError(w, l.opts.DenyStatus, "Rate limit exceeded, retry in "+dec.After)
				return
			case domain.OutcomeBan:
				writeError(w, l.opts.BanStatus, "Rate limit exceeded, client banned")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (l *Limiter) record(r *http.Request, key string, dec domain.Decision) {
	if l.opts.Stats == nil {
		return
	}
	err := l.opts.Stats.Record(r.Context(), domain.StatsEvent{
		Key:     domain.Key(key),
		Outcome: dec.Outcome,
		Method:  r.Method,
		Path:    r.URL.Path,
		At:      time.Now(),
	})
	if err != nil {
		l.logger.Warn("rate limit stats record failed", "error", err)
	}
}

type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    message,
	})
}
