// Package application contém os casos de uso do controle de admissão.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: ResolveRoute mescla a policy global com a da rota no registro, e
// RateLimiter.Evaluate(ctx, key) devolve uma Decision (allow/deny/ban).
package application
