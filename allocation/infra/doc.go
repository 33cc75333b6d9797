// Package infra contém implementações concretas para os contratos de allocation/domain.
//
// Exemplos:
//   - MemoryJournal / PostgresJournal: colaborador de durabilidade (pgx)
//   - RedisAvailabilityCache: assinante que mantém restante em cache e publica via pub/sub
//   - MemoryStatsStore / RedisStatsStore: estatísticas de desfecho por requisição
//   - Metrics: assinante + StatsStore exportando para Prometheus
package infra
