package domain

import "time"

// Key identifica quem está sendo limitado: requisitante, header ou IP.
type Key string

// Action separa o que altera o pool (reservar/liberar) do que só consulta.
type Action uint8

const (
	ActionWrite Action = iota
	ActionRead
)

func (a Action) String() string {
	if a == ActionRead {
		return "read"
	}
	return "write"
}

// Limiter decide se uma ação é permitida agora.
//
// A camada de infra usa golang.org/x/time/rate (token bucket).
type Limiter interface {
	Allow() bool
}

// Delayer é opcional: um Limiter que sabe quanto falta para o próximo token.
type Delayer interface {
	Delay() time.Duration
}

// LimiterStore obtém um limiter por chave. A implementação mantém cache e TTL.
type LimiterStore interface {
	Get(Key) Limiter
}

type Decision struct {
	Key     Key
	Action  Action
	Allowed bool
	// Exempt indica que a decisão nem consultou o limiter.
	Exempt bool
	// RetryAfter só é preenchido quando Allowed=false.
	RetryAfter time.Duration
}
