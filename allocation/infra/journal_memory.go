package infra

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"seat-gateway/allocation/domain"
)

var ErrSequenceConflict = domain.ErrSequenceConflict

// MemoryJournal guarda commits em memória. Útil para testes e desenvolvimento:
// não sobrevive a reinício.
type MemoryJournal struct {
	mu    sync.Mutex
	bySeq map[uint64]domain.Commit
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{bySeq: make(map[uint64]domain.Commit)}
}

func (j *MemoryJournal) Append(_ context.Context, c domain.Commit) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if prev, ok := j.bySeq[c.Sequence]; ok {
		if sameCommit(prev, c) {
			return nil
		}
		return fmt.Errorf("%w: %d", ErrSequenceConflict, c.Sequence)
	}
	j.bySeq[c.Sequence] = c
	return nil
}

func (j *MemoryJournal) Load(_ context.Context) ([]domain.Commit, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]domain.Commit, 0, len(j.bySeq))
	for _, c := range j.bySeq {
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Sequence < out[b].Sequence })
	return out, nil
}

func (j *MemoryJournal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.bySeq)
}

func sameCommit(a, b domain.Commit) bool {
	return a.Sequence == b.Sequence && a.Kind == b.Kind && a.RequesterID == b.RequesterID
}
