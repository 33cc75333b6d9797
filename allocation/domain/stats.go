package domain

import (
	"context"
	"time"
)

// Motivos de rejeição que não chegam ao motor, usados só em estatísticas.
const (
	OutcomeInvalid     Outcome = "INVALID_REQUEST"
	OutcomeRateLimited Outcome = "RATE_LIMITED"
	OutcomeOverloaded  Outcome = "OVERLOADED"
	OutcomeFailed      Outcome = "FAILED"
)

// StatsEvent representa o desfecho de uma requisição na borda.
//
// Observação: cuidado com cardinalidade ao guardar RequesterID
// (pode explodir o número de chaves no Redis).
type StatsEvent struct {
	RequesterID string
	Outcome     Outcome
	Operation   string
	At          time.Time
}

// StatsStore é best-effort: erro é logado, nunca derruba a requisição.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
