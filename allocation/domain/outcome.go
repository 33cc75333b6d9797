package domain

import "time"

// Outcome é o resultado de negócio de uma operação. Não é erro: o chamador ramifica nele.
type Outcome string

const (
	OutcomeConfirmed        Outcome = "CONFIRMED"
	OutcomeAlreadyAllocated Outcome = "ALREADY_ALLOCATED"
	OutcomeSoldOut          Outcome = "SOLD_OUT"
	OutcomeReleased         Outcome = "RELEASED"
	OutcomeNotFound         Outcome = "NOT_FOUND"
)

// Record é a alocação confirmada de um requisitante.
type Record struct {
	RequesterID string    `json:"requester_id"`
	AllocatedAt time.Time `json:"allocated_at"`
	Sequence    uint64    `json:"sequence"`
}

// Result é o que Allocate/Release devolvem.
//
// Record vem preenchido em CONFIRMED, ALREADY_ALLOCATED (registro existente) e RELEASED
// (registro removido). Remaining é o valor observado dentro da seção exclusiva.
type Result struct {
	Outcome   Outcome `json:"outcome"`
	Record    *Record `json:"record,omitempty"`
	Remaining int     `json:"remaining"`
	Capacity  int     `json:"capacity"`
}

// Committed informa se o resultado mudou o estado do pool.
func (r Result) Committed() bool {
	return r.Outcome == OutcomeConfirmed || r.Outcome == OutcomeReleased
}

// Snapshot é uma leitura do pool em um único instante.
type Snapshot struct {
	Capacity     int    `json:"capacity"`
	Remaining    int    `json:"remaining"`
	Allocated    int    `json:"allocated"`
	LastSequence uint64 `json:"last_sequence"`
}
