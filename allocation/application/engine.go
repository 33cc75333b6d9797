package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"seat-gateway/allocation/domain"
	"seat-gateway/internal/slot"
)

const maxRequesterIDLen = 256

// Engine é o único caminho de mutação do domain.Pool.
//
// Escritores passam por um gate de uma vaga (a seção exclusiva). A espera pelo gate
// respeita o ctx do chamador; uma vez dentro, a decisão roda até o fim com um ctx
// desacoplado, então um chamador que desiste nunca deixa o pool pela metade.
//
// O RWMutex protege o pool contra leitores: escritores só o seguram durante a
// aplicação em memória (O(1)); o Append do journal acontece dentro do gate mas fora dele.
//
// Append é reenviado com backoff (é idempotente por sequência). Se mesmo assim falhar,
// o commit fica indeciso e bloqueia novas mutações até o journal confirmá-lo.
type Engine struct {
	gate *slot.ChanPool

	mu     sync.RWMutex
	pool   *domain.Pool
	halted error

	// undecided é o commit cujo Append falhou sem resposta definitiva.
	// Só é lido e escrito por quem segura o gate.
	undecided *domain.Commit

	journal        domain.Journal
	journalTimeout time.Duration
	journalTries   uint
	publisher      Publisher
	logger         *zap.Logger
	now            func() time.Time
}

// emission é o que sai da seção exclusiva para o Publisher.
type emission struct {
	event *domain.Event
	skip  uint64
}

// New cria o motor. Com journal, os commits persistidos são reaplicados antes de
// aceitar requisições; um journal inconsistente retorna ErrInvariantViolation.
func New(ctx context.Context, capacity int, opts ...Option) (*Engine, error) {
	pool, err := domain.NewPool(capacity)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		gate:           slot.NewChanPool(1),
		pool:           pool,
		journalTimeout: 3 * time.Second,
		journalTries:   3,
		logger:         zap.NewNop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.journal != nil {
		if err := e.recover(ctx); err != nil {
			return nil, err
		}
	}

	if a, ok := e.publisher.(interface{ StartAfter(uint64) }); ok {
		a.StartAfter(e.pool.LastSequence())
	}
	return e, nil
}

func (e *Engine) recover(ctx context.Context) error {
	commits, err := e.journal.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: load: %w", domain.ErrJournal, err)
	}
	for _, c := range commits {
		if err := e.pool.Apply(c); err != nil {
			e.logger.Error("journal replay failed", zap.Uint64("sequence", c.Sequence), zap.Error(err))
			return err
		}
	}
	snap := e.pool.Snapshot()
	e.logger.Info("pool recovered from journal",
		zap.Int("commits", len(commits)),
		zap.Int("capacity", snap.Capacity),
		zap.Int("remaining", snap.Remaining),
		zap.Uint64("last_sequence", snap.LastSequence))
	return nil
}

// Allocate tenta reservar uma unidade para requesterID.
//
// Ordem de decisão: já alocado → ALREADY_ALLOCATED; sem restante → SOLD_OUT;
// senão CONFIRMED com a sequência atribuída. Resultados de negócio nunca são erro.
func (e *Engine) Allocate(ctx context.Context, requesterID string) (domain.Result, error) {
	if err := validateRequester(requesterID); err != nil {
		return domain.Result{}, err
	}

	release, ok := e.gate.Acquire(ctx)
	if !ok {
		return domain.Result{}, fmt.Errorf("%w: %w", domain.ErrAbandoned, ctx.Err())
	}
	res, ems, err := e.allocateLocked(context.WithoutCancel(ctx), requesterID)
	release()

	e.emit(ems)
	return res, err
}

// Release devolve a unidade de requesterID: NOT_FOUND ou RELEASED.
func (e *Engine) Release(ctx context.Context, requesterID string) (domain.Result, error) {
	if err := validateRequester(requesterID); err != nil {
		return domain.Result{}, err
	}

	release, ok := e.gate.Acquire(ctx)
	if !ok {
		return domain.Result{}, fmt.Errorf("%w: %w", domain.ErrAbandoned, ctx.Err())
	}
	res, ems, err := e.releaseLocked(context.WithoutCancel(ctx), requesterID)
	release()

	e.emit(ems)
	return res, err
}

func (e *Engine) allocateLocked(ctx context.Context, requesterID string) (domain.Result, []emission, error) {
	if e.halted != nil {
		return domain.Result{}, nil, fmt.Errorf("%w: %w", domain.ErrPoolHalted, e.halted)
	}
	ems, err := e.reconcileLocked(ctx)
	if err != nil {
		return domain.Result{}, ems, err
	}
	if rec, ok := e.pool.Lookup(requesterID); ok {
		return e.resultLocked(domain.OutcomeAlreadyAllocated, &rec), ems, nil
	}
	if e.pool.Remaining() == 0 {
		return e.resultLocked(domain.OutcomeSoldOut, nil), ems, nil
	}

	c := domain.Commit{
		Sequence:    e.pool.PeekSequence(),
		Kind:        domain.CommitAllocate,
		RequesterID: requesterID,
		At:          e.now(),
	}
	em, snap, err := e.commitLocked(ctx, c)
	if em != nil {
		ems = append(ems, *em)
	}
	if err != nil {
		return domain.Result{}, ems, err
	}

	rec := domain.NewRecord(requesterID, c.Sequence, c.At)
	e.logger.Debug("allocation confirmed",
		zap.String("requester", requesterID),
		zap.Uint64("sequence", c.Sequence),
		zap.Int("remaining", snap.Remaining))

	return domain.Result{
		Outcome:   domain.OutcomeConfirmed,
		Record:    &rec,
		Remaining: snap.Remaining,
		Capacity:  snap.Capacity,
	}, ems, nil
}

func (e *Engine) releaseLocked(ctx context.Context, requesterID string) (domain.Result, []emission, error) {
	if e.halted != nil {
		return domain.Result{}, nil, fmt.Errorf("%w: %w", domain.ErrPoolHalted, e.halted)
	}
	ems, err := e.reconcileLocked(ctx)
	if err != nil {
		return domain.Result{}, ems, err
	}
	rec, ok := e.pool.Lookup(requesterID)
	if !ok {
		return e.resultLocked(domain.OutcomeNotFound, nil), ems, nil
	}

	c := domain.Commit{
		Sequence:    e.pool.PeekSequence(),
		Kind:        domain.CommitRelease,
		RequesterID: requesterID,
		At:          e.now(),
	}
	em, snap, err := e.commitLocked(ctx, c)
	if em != nil {
		ems = append(ems, *em)
	}
	if err != nil {
		return domain.Result{}, ems, err
	}

	e.logger.Debug("allocation released",
		zap.String("requester", requesterID),
		zap.Uint64("sequence", c.Sequence),
		zap.Int("remaining", snap.Remaining))

	return domain.Result{
		Outcome:   domain.OutcomeReleased,
		Record:    &rec,
		Remaining: snap.Remaining,
		Capacity:  snap.Capacity,
	}, ems, nil
}

// reconcileLocked resolve o commit indeciso antes de qualquer nova decisão.
// Enquanto o journal não confirmar, nenhuma mutação avança.
func (e *Engine) reconcileLocked(ctx context.Context) ([]emission, error) {
	if e.undecided == nil {
		return nil, nil
	}
	c := *e.undecided
	if err := e.appendJournal(ctx, c); err != nil {
		if errors.Is(err, domain.ErrSequenceConflict) {
			return e.conflictLocked(c, err)
		}
		e.logger.Warn("undecided commit still unconfirmed",
			zap.Uint64("sequence", c.Sequence),
			zap.String("requester", c.RequesterID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: commit %d undecided: %w", domain.ErrJournal, c.Sequence, err)
	}

	e.undecided = nil
	em, snap, err := e.applyLocked(c)
	if err != nil {
		return []emission{*em}, err
	}
	e.logger.Info("undecided commit confirmed by journal",
		zap.Uint64("sequence", c.Sequence),
		zap.String("kind", string(c.Kind)),
		zap.String("requester", c.RequesterID),
		zap.Int("remaining", snap.Remaining))
	return []emission{*em}, nil
}

// commitLocked grava c no journal e aplica em memória.
//
// Um Append com erro não diz se o commit chegou ao journal. Nesse caso c fica
// indeciso: nada é aplicado, a sequência não é consumida e a próxima mutação
// reenvia o mesmo commit antes de decidir qualquer outra coisa.
func (e *Engine) commitLocked(ctx context.Context, c domain.Commit) (*emission, domain.Snapshot, error) {
	if err := e.appendJournal(ctx, c); err != nil {
		if errors.Is(err, domain.ErrSequenceConflict) {
			ems, err := e.conflictLocked(c, err)
			return &ems[0], domain.Snapshot{}, err
		}
		e.undecided = &c
		e.logger.Warn("journal append failed, commit undecided",
			zap.Uint64("sequence", c.Sequence),
			zap.String("requester", c.RequesterID),
			zap.Error(err))
		return nil, domain.Snapshot{}, fmt.Errorf("%w: %w", domain.ErrJournal, err)
	}
	return e.applyLocked(c)
}

func (e *Engine) applyLocked(c domain.Commit) (*emission, domain.Snapshot, error) {
	e.mu.Lock()
	err := e.pool.Apply(c)
	if err != nil {
		e.haltLocked(err)
		e.mu.Unlock()
		return &emission{skip: c.Sequence}, domain.Snapshot{}, err
	}
	snap := e.pool.Snapshot()
	e.mu.Unlock()

	return &emission{event: &domain.Event{
		Type:      domain.EventTypeAvailability,
		Remaining: snap.Remaining,
		Capacity:  snap.Capacity,
		Sequence:  c.Sequence,
		Kind:      c.Kind,
		At:        c.At,
	}}, snap, nil
}

// conflictLocked: o journal tem outro commit nesta sequência, o pool divergiu dele.
func (e *Engine) conflictLocked(c domain.Commit, cause error) ([]emission, error) {
	err := fmt.Errorf("%w: journal diverged at sequence %d: %w", domain.ErrInvariantViolation, c.Sequence, cause)
	e.mu.Lock()
	e.undecided = nil
	e.haltLocked(err)
	e.mu.Unlock()
	return []emission{{skip: c.Sequence}}, err
}

func (e *Engine) appendJournal(ctx context.Context, c domain.Commit) error {
	if e.journal == nil {
		return nil
	}
	op := func() (struct{}, error) {
		actx, cancel := context.WithTimeout(ctx, e.journalTimeout)
		defer cancel()
		err := e.journal.Append(actx, c)
		if errors.Is(err, domain.ErrSequenceConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(e.journalBackOff()),
		backoff.WithMaxTries(e.journalTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			e.logger.Debug("journal append retry",
				zap.Uint64("sequence", c.Sequence),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)
	return err
}

func (e *Engine) journalBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	return b
}

// haltLocked exige e.mu em escrita.
func (e *Engine) haltLocked(err error) {
	e.halted = err
	e.logger.Error("invariant violation, pool halted", zap.Error(err))
}

// resultLocked lê o pool sem e.mu: só quem segura o gate escreve nele.
func (e *Engine) resultLocked(o domain.Outcome, rec *domain.Record) domain.Result {
	return domain.Result{
		Outcome:   o,
		Record:    rec,
		Remaining: e.pool.Remaining(),
		Capacity:  e.pool.Capacity(),
	}
}

func (e *Engine) emit(ems []emission) {
	if e.publisher == nil {
		return
	}
	for _, em := range ems {
		switch {
		case em.event != nil:
			e.publisher.Publish(*em.event)
		case em.skip != 0:
			e.publisher.Skip(em.skip)
		}
	}
}

func validateRequester(id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.ErrInvalidRequest
	}
	if len(id) > maxRequesterIDLen {
		return fmt.Errorf("%w: longer than %d bytes", domain.ErrInvalidRequest, maxRequesterIDLen)
	}
	return nil
}
