package infra

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"seat-gateway/middleware/ratelimit/domain"
)

// Store é um token bucket (x/time/rate) por chave, com limpeza periódica
// das chaves inativas. Com chave por requisitante, o número de entradas cresce
// com o público do evento: o janitor é obrigatório em produção.
type Store struct {
	mu           sync.Mutex
	entries      map[string]*storeEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
	logger       *zap.Logger
}

type storeEntry struct {
	lim      *bucket
	lastSeen time.Time
}

// bucket implementa domain.Limiter e domain.Delayer.
type bucket struct {
	*rate.Limiter
}

// Delay estima quanto falta para o próximo token, sem consumir nenhum.
func (b *bucket) Delay() time.Duration {
	tokens := b.Tokens()
	if tokens >= 1 || b.Limit() <= 0 || b.Limit() == rate.Inf {
		return 0
	}
	return time.Duration((1 - tokens) / float64(b.Limit()) * float64(time.Second))
}

type StoreOption func(*Store)

func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *Store) { s.cleanupEvery = d }
}

func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewStore(rps float64, burst int, opts ...StoreOption) *Store {
	s := &Store{
		entries:      make(map[string]*storeEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) RPS() float64 { return float64(s.rps) }
func (s *Store) Burst() int   { return s.burst }

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Get implementa domain.LimiterStore.
func (s *Store) Get(key domain.Key) domain.Limiter {
	now := time.Now()
	k := string(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[k]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := &bucket{Limiter: rate.NewLimiter(s.rps, s.burst)}
	s.entries[k] = &storeEntry{lim: lim, lastSeen: now}
	return lim
}

// Cleanup remove chaves sem uso há mais de idleTTL e retorna quantas saíram.
func (s *Store) Cleanup() int {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// RunJanitor limpa chaves inativas periodicamente até o ctx encerrar.
// Bloqueia: rode numa goroutine (ou errgroup).
func (s *Store) RunJanitor(ctx context.Context) error {
	if s.cleanupEvery <= 0 {
		<-ctx.Done()
		return nil
	}

	t := time.NewTicker(s.cleanupEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := s.Cleanup(); n > 0 {
				s.logger.Debug("rate limit keys evicted", zap.Int("removed", n), zap.Int("remaining", s.Len()))
			}
		}
	}
}
