package application

import (
	"time"

	"go.uber.org/zap"

	"seat-gateway/allocation/domain"
)

// Publisher recebe eventos depois que a seção exclusiva foi liberada.
// *Emitter implementa.
type Publisher interface {
	Publish(ev domain.Event)
	Skip(seq uint64)
}

type Option func(*Engine)

// WithJournal liga o colaborador de durabilidade. New reaplica o journal na criação.
func WithJournal(j domain.Journal) Option {
	return func(e *Engine) { e.journal = j }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithJournalTimeout limita cada tentativa de Append. O prazo é independente do ctx do chamador.
func WithJournalTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.journalTimeout = d
		}
	}
}

// WithJournalRetries define quantas tentativas cada Append recebe antes de o
// commit ficar indeciso. n=0 mantém o padrão (3).
func WithJournalRetries(n uint) Option {
	return func(e *Engine) {
		if n > 0 {
			e.journalTries = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
