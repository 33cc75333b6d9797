package domain

import (
	"fmt"
	"time"
)

// Pool guarda capacidade, restante e o conjunto de alocações confirmadas.
//
// Invariantes (antes e depois de cada operação composta pelo motor):
//  1. 0 <= remaining <= capacity
//  2. remaining == capacity - len(allocations)
//  3. cada requesterID aparece no máximo uma vez (garantido pelo map)
//  4. sequências são únicas e estritamente crescentes (ClaimSequence)
type Pool struct {
	capacity     int
	remaining    int
	allocations  map[string]Record
	lastSequence uint64
}

func NewPool(capacity int) (*Pool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	return &Pool{
		capacity:    capacity,
		remaining:   capacity,
		allocations: make(map[string]Record, capacity),
	}, nil
}

func (p *Pool) Capacity() int        { return p.capacity }
func (p *Pool) Remaining() int       { return p.remaining }
func (p *Pool) Len() int             { return len(p.allocations) }
func (p *Pool) LastSequence() uint64 { return p.lastSequence }

func (p *Pool) Has(requesterID string) bool {
	_, ok := p.allocations[requesterID]
	return ok
}

func (p *Pool) Lookup(requesterID string) (Record, bool) {
	rec, ok := p.allocations[requesterID]
	return rec, ok
}

// TryDecrement consome uma unidade. Retorna false se não houver restante.
func (p *Pool) TryDecrement() bool {
	if p.remaining == 0 {
		return false
	}
	p.remaining--
	return true
}

// IncrementBack devolve uma unidade. Não passa da capacidade.
func (p *Pool) IncrementBack() bool {
	if p.remaining >= p.capacity {
		return false
	}
	p.remaining++
	return true
}

// InsertRecord grava o registro. Sobrescreve se já existir: validar duplicidade é do motor.
func (p *Pool) InsertRecord(rec Record) {
	p.allocations[rec.RequesterID] = rec
}

func (p *Pool) RemoveRecord(requesterID string) (Record, bool) {
	rec, ok := p.allocations[requesterID]
	if ok {
		delete(p.allocations, requesterID)
	}
	return rec, ok
}

// PeekSequence retorna a próxima sequência sem consumi-la.
func (p *Pool) PeekSequence() uint64 { return p.lastSequence + 1 }

// ClaimSequence consome seq. seq precisa ser maior que a última consumida;
// lacunas são permitidas (journal compartilhado ou editado fora do motor).
func (p *Pool) ClaimSequence(seq uint64) error {
	if seq <= p.lastSequence {
		return fmt.Errorf("%w: sequence %d not greater than last %d", ErrInvariantViolation, seq, p.lastSequence)
	}
	p.lastSequence = seq
	return nil
}

// Check verifica as invariantes 1 e 2 (a 3 é estrutural).
func (p *Pool) Check() error {
	if p.remaining < 0 || p.remaining > p.capacity {
		return fmt.Errorf("%w: remaining %d out of [0,%d]", ErrInvariantViolation, p.remaining, p.capacity)
	}
	if p.remaining != p.capacity-len(p.allocations) {
		return fmt.Errorf("%w: remaining %d != capacity %d - allocations %d",
			ErrInvariantViolation, p.remaining, p.capacity, len(p.allocations))
	}
	return nil
}

func (p *Pool) Snapshot() Snapshot {
	return Snapshot{
		Capacity:     p.capacity,
		Remaining:    p.remaining,
		Allocated:    len(p.allocations),
		LastSequence: p.lastSequence,
	}
}

// Apply aplica um commit já gravado no journal, tanto no replay quanto depois de um
// Append confirmado. Qualquer inconsistência é violação.
func (p *Pool) Apply(c Commit) error {
	if err := p.ClaimSequence(c.Sequence); err != nil {
		return err
	}
	switch c.Kind {
	case CommitAllocate:
		if p.Has(c.RequesterID) {
			return fmt.Errorf("%w: commit allocates %q twice (sequence %d)", ErrInvariantViolation, c.RequesterID, c.Sequence)
		}
		if !p.TryDecrement() {
			return fmt.Errorf("%w: commit exceeds capacity at sequence %d", ErrInvariantViolation, c.Sequence)
		}
		p.InsertRecord(Record{RequesterID: c.RequesterID, AllocatedAt: c.At, Sequence: c.Sequence})
	case CommitRelease:
		if _, ok := p.RemoveRecord(c.RequesterID); !ok {
			return fmt.Errorf("%w: commit releases unknown %q (sequence %d)", ErrInvariantViolation, c.RequesterID, c.Sequence)
		}
		p.IncrementBack()
	default:
		return fmt.Errorf("%w: unknown commit kind %q", ErrInvariantViolation, c.Kind)
	}
	return p.Check()
}

// NewRecord monta o registro de uma alocação confirmada.
func NewRecord(requesterID string, seq uint64, at time.Time) Record {
	return Record{RequesterID: requesterID, AllocatedAt: at, Sequence: seq}
}
