package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// RateLimiter orquestra um escopo (global ou rota): allow-list, Store,
// BanTracker e callbacks. Não sabe nada de HTTP, apenas retorna uma decisão.
//
// É seguro para uso concorrente: a sincronização por chave fica no Store e no
// BanTracker, nunca aqui.
type RateLimiter struct {
	policy domain.Policy
	store  domain.Store
	bans   domain.BanTracker

	logger   *slog.Logger
	errorLog *rate.Sometimes
}

type Option func(*RateLimiter)

func WithLogger(l *slog.Logger) Option {
	return func(r *RateLimiter) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithErrorLogInterval limita com que frequência falhas absorvidas por
// SkipOnError são logadas.
func WithErrorLogInterval(d time.Duration) Option {
	return func(r *RateLimiter) { r.errorLog = &rate.Sometimes{First: 1, Interval: d} }
}

// NewRateLimiter valida a policy e monta o escopo. bans pode ser nil quando o
// escopo nunca bane.
func NewRateLimiter(policy domain.Policy, store domain.Store, bans domain.BanTracker, opts ...Option) (*RateLimiter, error) {
	if err := ValidatePolicy(policy); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("rate limiter: store is required")
	}
	r := &RateLimiter{
		policy:   policy,
		store:    store,
		bans:     bans,
		logger:   slog.Default(),
		errorLog: &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *RateLimiter) Policy() domain.Policy { return r.policy }

// Child deriva o escopo de uma rota: store e ban tracker filhos, com a policy
// já mesclada. Deve ser chamado no registro da rota, não por requisição.
func (r *RateLimiter) Child(method, path string, policy domain.Policy) (*RateLimiter, error) {
	if err := ValidatePolicy(policy); err != nil {
		return nil, err
	}
	route := domain.RouteInfo{Method: method, Path: path, Policy: policy}

	child := &RateLimiter{
		policy:   policy,
		store:    r.store.Child(route),
		logger:   r.logger.With("route", method+" "+path),
		errorLog: &rate.Sometimes{First: r.errorLog.First, Interval: r.errorLog.Interval},
	}
	if r.bans != nil {
		child.bans = r.bans.Child(route)
	}
	return child, nil
}

// Evaluate decide sobre uma requisição já identificada por key.
//
// Ordem: ban -> allow-list -> max -> Store -> comparação -> ban tracker.
// Erros de infraestrutura viram Allow quando SkipOnError está ligado; limite
// excedido nunca é erro.
func (r *RateLimiter) Evaluate(ctx context.Context, key domain.Key) (domain.Decision, error) {
	p := r.policy

	if r.bans != nil {
		banned, err := r.bans.IsBanned(ctx, key)
		if err != nil {
			return r.storeFailure(ctx, key, err)
		}
		if banned {
			return domain.Ban(), nil
		}
	}

	exempt, err := isAllowListed(ctx, p, key)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("allow-list for %q: %w", key, err)
	}

	max, err := resolveMax(ctx, p, key)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("max for %q: %w", key, err)
	}
	if exempt {
		return domain.Exempted(max), nil
	}

	rec, err := r.store.Increment(ctx, key)
	if err != nil {
		if p.SkipOnError {
			r.logSkipped(key, err)
			return domain.Allow(max, max, 0), nil
		}
		return domain.Decision{}, err
	}

	if rec.Current <= max {
		return domain.Allow(max, max-rec.Current, rec.TTL), nil
	}

	r.notify(ctx, "on_exceeding", p.OnExceeding, key)

	if r.bans != nil {
		banned, err := r.bans.RecordExceed(ctx, key)
		if err != nil {
			// o contador já avançou; sem o ban tracker a resposta mais fiel é Deny
			if !p.SkipOnError {
				return domain.Decision{}, err
			}
			r.logSkipped(key, err)
		} else if banned {
			r.notify(ctx, "on_exceeded", p.OnExceeded, key)
			return domain.Ban(), nil
		}
	}

	return domain.Deny(max, rec.TTL, humanizeTTL(rec.TTL)), nil
}

func (r *RateLimiter) storeFailure(ctx context.Context, key domain.Key, err error) (domain.Decision, error) {
	if !r.policy.SkipOnError {
		return domain.Decision{}, err
	}
	r.logSkipped(key, err)
	max, rerr := resolveMax(ctx, r.policy, key)
	if rerr != nil {
		return domain.Decision{}, fmt.Errorf("max for %q: %w", key, rerr)
	}
	return domain.Allow(max, max, 0), nil
}

func (r *RateLimiter) logSkipped(key domain.Key, err error) {
	r.errorLog.Do(func() {
		r.logger.Warn("rate limit store failure, allowing request", "key", string(key), "error", err)
	})
}

// notify chama o callback sem deixar que ele influencie a decisão.
func (r *RateLimiter) notify(ctx context.Context, name string, fn domain.Notify, key domain.Key) {
	if fn == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("rate limit callback panicked", "callback", name, "key", string(key), "panic", rec)
		}
	}()
	fn(ctx, key)
}
