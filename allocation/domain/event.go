package domain

import (
	"context"
	"time"
)

const EventTypeAvailability = "availability"

// Event é publicado depois de cada commit (CONFIRMED ou RELEASED).
//
// Assinantes podem receber o mesmo Sequence mais de uma vez (at-least-once)
// e devem tolerar duplicatas.
type Event struct {
	Type      string     `json:"type"`
	Remaining int        `json:"remaining"`
	Capacity  int        `json:"capacity"`
	Sequence  uint64     `json:"sequence"`
	Kind      CommitKind `json:"kind"`
	At        time.Time  `json:"at"`
}

// Subscriber recebe eventos em ordem crescente de Sequence.
type Subscriber interface {
	Handle(ctx context.Context, ev Event) error
}

type SubscriberFunc func(ctx context.Context, ev Event) error

func (f SubscriberFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }
