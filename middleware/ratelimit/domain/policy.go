package domain

import (
	"context"
	"time"
)

// Resolver produz um valor por requisição. Pode ser constante (Value) ou uma
// função que bloqueia esperando I/O (ResolverFunc); o orquestrador trata os
// dois casos da mesma forma.
type Resolver[T any] interface {
	Resolve(ctx context.Context, key Key) (T, error)
}

// ResolverFunc adapta uma função para Resolver.
type ResolverFunc[T any] func(ctx context.Context, key Key) (T, error)

func (f ResolverFunc[T]) Resolve(ctx context.Context, key Key) (T, error) {
	return f(ctx, key)
}

// Constant é a variante estática de Resolver.
type Constant[T any] struct {
	V T
}

func (c Constant[T]) Resolve(context.Context, Key) (T, error) { return c.V, nil }

// Value devolve um Resolver que sempre retorna v.
func Value[T any](v T) Resolver[T] { return Constant[T]{V: v} }

// AllowKeys monta uma allow-list estática. A comparação é sensível a caixa.
func AllowKeys(keys ...string) Resolver[bool] {
	set := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		set[Key(k)] = struct{}{}
	}
	return ResolverFunc[bool](func(_ context.Context, key Key) (bool, error) {
		_, ok := set[key]
		return ok, nil
	})
}

// Notify é um callback de notificação (onExceeding/onExceeded).
// Nada que ele faça altera a decisão.
type Notify func(ctx context.Context, key Key)

// Policy é a configuração efetiva de um escopo (global ou rota).
// Depois de resolvida não deve ser alterada.
type Policy struct {
	Max        Resolver[int64]
	TimeWindow time.Duration
	// BanThreshold nil desabilita o banimento.
	BanThreshold *int
	// AllowList nil significa nenhuma chave isenta.
	AllowList   Resolver[bool]
	SkipOnError bool
	OnExceeding Notify
	OnExceeded  Notify
	// Global indica que toda rota do escopo é limitada, exceto as que optam
	// por sair. Com false só rotas com policy própria são limitadas.
	Global bool
}

// PolicyOverride é a policy declarada por uma rota. Campos nil herdam do global.
type PolicyOverride struct {
	Max          Resolver[int64]
	TimeWindow   *time.Duration
	BanThreshold *int
	AllowList    Resolver[bool]
	SkipOnError  *bool
	OnExceeding  Notify
	OnExceeded   Notify
	// Disabled tira a rota do rate limit mesmo com policy global.
	Disabled bool
}

// Ptr ajuda a preencher campos opcionais de PolicyOverride.
func Ptr[T any](v T) *T { return &v }
