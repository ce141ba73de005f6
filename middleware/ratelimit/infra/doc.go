// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - LocalStore: janela fixa por chave em um cache LRU limitado (hashicorp/golang-lru)
//   - RedisStore: janela fixa compartilhada entre instâncias (INCR + PEXPIRE atômico via Lua)
//   - MemoryBanTracker / RedisBanTracker: contadores de estouro para banimento
//   - *StatsStore: estatísticas das decisões (memória, Redis, Prometheus)
package infra
