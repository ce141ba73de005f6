// Package ratelimit fornece o adapter HTTP (net/http) do controle de admissão.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (merge de policies, decisão allow/deny/ban) sem net/http
//   - infra: implementações concretas (LRU local, Redis, ban trackers, estatísticas)
//   - ratelimit (este pacote): middlewares HTTP + registro de escopos/rotas +
//     extração de chave + tradução da decisão para status/headers
//
// Fluxo por requisição:
//
//  1. Extrai a chave do cliente (IP/header/XFF)
//  2. Chama o RateLimiter do escopo (global ou da rota) para obter a decisão
//  3. Deny responde 429 com Retry-After, Ban responde 403, erro de store 500
//  4. Allow chama o próximo handler (ex: reverse proxy)
//
// Escopos são montados uma vez: New cria o global e Route deriva o de cada rota
// (store e ban tracker filhos). Nada disso acontece por requisição.
package ratelimit
