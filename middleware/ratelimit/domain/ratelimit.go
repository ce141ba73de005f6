package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"time"
)

type Key string

// ClientRecord é o estado de contagem de uma chave como visto pelo Store.
type ClientRecord struct {
	// Current inclui a chamada que acabou de ser contada.
	Current int64
	// TTL é o tempo restante até a janela atual expirar.
	TTL time.Duration
}

// RouteInfo identifica um escopo de rota para Store.Child e BanTracker.Child.
// Policy já vem mesclada (global + override da rota).
type RouteInfo struct {
	Method string
	Path   string
	Policy Policy
}

// Store é o primitivo atômico de incremento com expiração por chave.
//
// Implementações devem serializar incrementos concorrentes da mesma chave:
// dentro de uma janela a sequência de Current é crescente e sem lacunas.
// Falhas internas retornam *StoreError, nunca uma contagem incorreta.
type Store interface {
	Increment(ctx context.Context, key Key) (ClientRecord, error)
	// Child cria um store com namespace isolado para a rota, reaproveitando o
	// recurso do pai (mesmo client Redis, mesma capacidade, etc).
	Child(route RouteInfo) Store
}

// BanTracker conta estouros por chave, separado do contador principal.
//
// Threshold <= 0 desabilita o banimento: RecordExceed sempre retorna false e
// IsBanned também.
type BanTracker interface {
	IsBanned(ctx context.Context, key Key) (bool, error)
	// RecordExceed registra um estouro e informa se a chave está banida após ele.
	RecordExceed(ctx context.Context, key Key) (bool, error)
	Child(route RouteInfo) BanTracker
}

// BanState é a máquina de estados Clean -> Exceeding(n) -> Banned.
// Banned é terminal.
type BanState struct {
	ExceedCount int
	Banned      bool
}

// Exceed aplica uma transição. Com threshold <= 0 o estado não muda.
func (s BanState) Exceed(threshold int) BanState {
	if threshold <= 0 || s.Banned {
		return s
	}
	n := s.ExceedCount + 1
	return BanState{ExceedCount: n, Banned: n > threshold}
}

// BanThreshold extrai o limiar efetivo de uma policy (0 = desabilitado).
func BanThreshold(p Policy) int {
	if p.BanThreshold == nil {
		return 0
	}
	return *p.BanThreshold
}
