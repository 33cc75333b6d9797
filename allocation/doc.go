// Package allocation fornece o adapter HTTP (net/http) do motor de alocação de assentos.
//
// Visão geral (camadas):
//
//   - domain: Pool, resultados, eventos e contratos (sem net/http)
//   - application: Engine (seção exclusiva, decisão, commit) e Emitter (eventos em ordem)
//   - infra: journal Postgres/memória, cache Redis, estatísticas, métricas Prometheus
//   - broadcast: fan-out WebSocket dos eventos de disponibilidade
//   - allocation (este pacote): rotas HTTP + tradução de Outcome para status
//
// Rotas:
//
//	POST   /allocations/{requester}   reserva
//	DELETE /allocations/{requester}   libera
//	GET    /allocations/{requester}   consulta
//	GET    /availability              snapshot
//
// O usuário final vê só: booked, sold out, already booked, ou "try again later"
// para qualquer falha interna ou timeout.
package allocation
