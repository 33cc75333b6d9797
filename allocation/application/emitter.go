package application

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"seat-gateway/allocation/domain"
)

// Emitter entrega eventos aos assinantes em ordem estritamente crescente de Sequence.
//
// Publish pode ser chamado fora de ordem (cada chamador publica depois de sair da
// seção exclusiva); eventos adiantados ficam retidos até a sequência esperada chegar
// via Publish ou Skip. Cada assinante tem fila e goroutine próprias: um assinante lento
// não atrasa o motor nem os outros. A fila é limitada; cheia, o evento mais antigo é descartado.
type Emitter struct {
	logger        *zap.Logger
	maxTries      uint
	newBackOff    func() backoff.BackOff
	handleTimeout time.Duration
	queueSize     int

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	next    uint64
	pending map[uint64]pendingEntry
	subs    []*subscription
	closed  bool
}

type pendingEntry struct {
	ev   domain.Event
	skip bool
}

type EmitterOption func(*Emitter)

func WithEmitterLogger(l *zap.Logger) EmitterOption {
	return func(e *Emitter) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMaxTries limita as tentativas por evento e assinante (1 = sem retry).
func WithMaxTries(n uint) EmitterOption {
	return func(e *Emitter) {
		if n > 0 {
			e.maxTries = n
		}
	}
}

func WithBackOff(fn func() backoff.BackOff) EmitterOption {
	return func(e *Emitter) {
		if fn != nil {
			e.newBackOff = fn
		}
	}
}

func WithHandleTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) { e.handleTimeout = d }
}

// WithQueueSize limita a fila de cada assinante. Eventos são snapshots do
// restante, então o assinante atrasado perde os mais antigos e fica com os recentes.
func WithQueueSize(n int) EmitterOption {
	return func(e *Emitter) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

func NewEmitter(opts ...EmitterOption) *Emitter {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Emitter{
		logger:        zap.NewNop(),
		maxTries:      5,
		newBackOff:    defaultBackOff,
		handleTimeout: 5 * time.Second,
		queueSize:     1024,
		ctx:           ctx,
		cancel:        cancel,
		next:          1,
		pending:       make(map[uint64]pendingEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// StartAfter alinha o emissor com um pool recuperado: a próxima sequência
// esperada passa a ser seq+1. Retidos com sequência <= seq são descartados.
func (e *Emitter) StartAfter(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next = seq + 1
	for s := range e.pending {
		if s <= seq {
			delete(e.pending, s)
		}
	}
	e.flushLocked()
}

// Subscribe registra um assinante. Ele recebe apenas eventos entregues depois do registro.
func (e *Emitter) Subscribe(name string, sub domain.Subscriber) {
	s := newSubscription(name, sub, e.queueSize)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.logger.Warn("subscribe after close ignored", zap.String("subscriber", name))
		return
	}
	e.subs = append(e.subs, s)
	e.mu.Unlock()

	go s.run(e)
}

// Publish nunca bloqueia além do mutex interno.
func (e *Emitter) Publish(ev domain.Event) {
	if ev.Type == "" {
		ev.Type = domain.EventTypeAvailability
	}
	e.offer(ev.Sequence, pendingEntry{ev: ev})
}

// Skip avança a sequência esperada sem entregar evento
// (sequência consumida por um commit que não aconteceu).
func (e *Emitter) Skip(seq uint64) {
	e.offer(seq, pendingEntry{skip: true})
}

func (e *Emitter) offer(seq uint64, entry pendingEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	if seq < e.next {
		e.logger.Debug("late event dropped", zap.Uint64("sequence", seq), zap.Uint64("next", e.next))
		return
	}
	e.pending[seq] = entry
	e.flushLocked()
}

func (e *Emitter) flushLocked() {
	for {
		entry, ok := e.pending[e.next]
		if !ok {
			return
		}
		delete(e.pending, e.next)
		e.next++
		if entry.skip {
			continue
		}
		for _, s := range e.subs {
			if dropped, ok := s.enqueue(entry.ev); ok {
				e.logger.Warn("subscriber queue full, oldest event dropped",
					zap.String("subscriber", s.name),
					zap.Uint64("sequence", dropped.Sequence))
			}
		}
	}
}

// Pending retorna quantos eventos estão retidos aguardando uma sequência anterior.
func (e *Emitter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Close para de aceitar eventos e espera as filas esvaziarem.
// Se ctx encerrar antes, as entregas em andamento são canceladas.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	subs := e.subs
	if n := len(e.pending); n > 0 {
		e.logger.Warn("closing with held events", zap.Int("pending", n), zap.Uint64("next", e.next))
	}
	e.mu.Unlock()

	for _, s := range subs {
		s.close()
	}

	done := make(chan struct{})
	go func() {
		for _, s := range subs {
			<-s.done
		}
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}
}

func (e *Emitter) deliver(s *subscription, ev domain.Event) {
	op := func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(e.ctx, e.handleTimeout)
		defer cancel()
		return struct{}{}, s.sub.Handle(ctx, ev)
	}

	_, err := backoff.Retry(e.ctx, op,
		backoff.WithBackOff(e.newBackOff()),
		backoff.WithMaxTries(e.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			e.logger.Debug("subscriber retry",
				zap.String("subscriber", s.name),
				zap.Uint64("sequence", ev.Sequence),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)
	if err != nil {
		e.logger.Warn("subscriber dropped event",
			zap.String("subscriber", s.name),
			zap.Uint64("sequence", ev.Sequence),
			zap.Error(err))
	}
}

type subscription struct {
	name string
	sub  domain.Subscriber

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []domain.Event
	limit  int
	closed bool
	done   chan struct{}
}

func newSubscription(name string, sub domain.Subscriber, limit int) *subscription {
	s := &subscription{name: name, sub: sub, limit: limit, done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// enqueue devolve o evento descartado quando a fila está cheia.
func (s *subscription) enqueue(ev domain.Event) (dropped domain.Event, ok bool) {
	s.mu.Lock()
	if s.limit > 0 && len(s.queue) >= s.limit {
		dropped, ok = s.queue[0], true
		s.queue[0] = domain.Event{}
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.cond.Signal()
	return dropped, ok
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *subscription) run(e *Emitter) {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue[0] = domain.Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		e.deliver(s, ev)
	}
}
