// Package ratelimit fornece middlewares HTTP (net/http) que protegem a API de reservas:
// rate limit por chave e limite de requisições simultâneas.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos (sem dependência de net/http)
//   - application: casos de uso (decisão allow/deny, acquire/timeout)
//   - infra: token bucket por chave (golang.org/x/time/rate)
//   - ratelimit (este pacote): middlewares + extração de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a chave (requisitante no path, header ou IP) e a ação (leitura ou escrita)
//  2. Chama a camada application para obter a decisão; leituras podem ser isentas
//     do token bucket e desistir na hora quando não há vaga
//  3. Se bloqueado, responde 429 (rate limit) ou 503 (concorrência) e chama OnReject
//  4. Se permitido, chama o próximo handler (API de reservas)
//
// O gateway (cmd/gateway) liga isso a RATE_RPS, RATE_BURST, RATE_EXEMPT_READS,
// CONCURRENCY_MAX, CONCURRENCY_TIMEOUT e CONCURRENCY_FAIL_FAST_READS.
package ratelimit
