package infra

import (
	"context"
	"sync"

	"seat-gateway/allocation/domain"
)

// Counters conta desfechos por Outcome.
type Counters map[domain.Outcome]int64

func (c Counters) clone() Counters {
	out := make(Counters, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu          sync.Mutex
	total       Counters
	byOperation map[string]Counters
	byRequester map[string]Counters

	trackRequesters bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackRequesters(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackRequesters = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		total:       make(Counters),
		byOperation: make(map[string]Counters),
		byRequester: make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total[ev.Outcome]++
	bump(s.byOperation, ev.Operation, ev.Outcome)
	if s.trackRequesters && ev.RequesterID != "" {
		bump(s.byRequester, ev.RequesterID, ev.Outcome)
	}
	return nil
}

func bump(m map[string]Counters, key string, o domain.Outcome) {
	c, ok := m[key]
	if !ok {
		c = make(Counters)
		m[key] = c
	}
	c[o]++
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total.clone()
}

func (s *MemoryStatsStore) ByOperation() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byOperation))
	for k, v := range s.byOperation {
		out[k] = v.clone()
	}
	return out
}

func (s *MemoryStatsStore) ByRequester() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byRequester))
	for k, v := range s.byRequester {
		out[k] = v.clone()
	}
	return out
}
