package application

import (
	"context"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

const (
	DefaultMax        = 1000
	DefaultTimeWindow = time.Minute
)

// DefaultPolicy é a policy usada quando nada é configurado.
func DefaultPolicy() domain.Policy {
	return domain.Policy{
		Max:        domain.Value[int64](DefaultMax),
		TimeWindow: DefaultTimeWindow,
		Global:     true,
	}
}

// ResolvePolicy mescla campo a campo: o que a rota declara substitui o global,
// o resto é herdado. O bool indica se o escopo resultante é limitado.
func ResolvePolicy(global domain.Policy, override *domain.PolicyOverride) (domain.Policy, bool) {
	if override == nil {
		return global, global.Global
	}
	if override.Disabled {
		return global, false
	}

	p := global
	if override.Max != nil {
		p.Max = override.Max
	}
	if override.TimeWindow != nil {
		p.TimeWindow = *override.TimeWindow
	}
	if override.BanThreshold != nil {
		p.BanThreshold = override.BanThreshold
	}
	if override.AllowList != nil {
		p.AllowList = override.AllowList
	}
	if override.SkipOnError != nil {
		p.SkipOnError = *override.SkipOnError
	}
	if override.OnExceeding != nil {
		p.OnExceeding = override.OnExceeding
	}
	if override.OnExceeded != nil {
		p.OnExceeded = override.OnExceeded
	}
	return p, true
}

// ValidatePolicy rejeita policies que não podem ser avaliadas.
// Max dinâmico só é checado por requisição (valores negativos viram 0).
func ValidatePolicy(p domain.Policy) error {
	if p.Max == nil {
		return &domain.ConfigError{Field: "Max", Message: "is required"}
	}
	if c, ok := p.Max.(domain.Constant[int64]); ok && c.V < 0 {
		return &domain.ConfigError{Field: "Max", Message: "must be >= 0"}
	}
	if p.TimeWindow <= 0 {
		return &domain.ConfigError{Field: "TimeWindow", Message: "must be > 0"}
	}
	if p.BanThreshold != nil && *p.BanThreshold <= 0 {
		return &domain.ConfigError{Field: "BanThreshold", Message: "must be > 0 when set"}
	}
	return nil
}

// ResolveRoute é o que roda no registro de uma rota: mescla e valida uma vez.
func ResolveRoute(global domain.Policy, override *domain.PolicyOverride) (domain.Policy, bool, error) {
	p, limited := ResolvePolicy(global, override)
	if !limited {
		return p, false, nil
	}
	if err := ValidatePolicy(p); err != nil {
		return domain.Policy{}, false, err
	}
	return p, true, nil
}

func resolveMax(ctx context.Context, p domain.Policy, key domain.Key) (int64, error) {
	max, err := p.Max.Resolve(ctx, key)
	if err != nil {
		return 0, err
	}
	if max < 0 {
		max = 0
	}
	return max, nil
}

func isAllowListed(ctx context.Context, p domain.Policy, key domain.Key) (bool, error) {
	if p.AllowList == nil {
		return false, nil
	}
	return p.AllowList.Resolve(ctx, key)
}
