package application

import (
	"context"
	"time"

	"seat-gateway/internal/slot"
	"seat-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService limita requisições em andamento na API de reservas,
// sem saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           slot.Pool
	AcquireTimeout time.Duration
	// FailFastReads faz consultas desistirem na hora quando não há vaga,
	// deixando a espera para quem está reservando ou liberando.
	FailFastReads bool
}

// Acquire tenta adquirir uma vaga.
//   - leitura com FailFastReads: não espera.
//   - AcquireTimeout <= 0: espera até o ctx encerrar.
//   - AcquireTimeout > 0: espera no máximo o timeout.
//
// Se ok=false, nenhuma vaga foi adquirida e release é nil.
func (s ConcurrencyService) Acquire(ctx context.Context, action domain.Action) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}
	if action == domain.ActionRead && s.FailFastReads {
		if ctx.Err() != nil {
			return nil, false
		}
		return s.Pool.TryAcquire()
	}

	if s.AcquireTimeout <= 0 {
		return s.Pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
	defer cancel()
	return s.Pool.Acquire(acqCtx)
}
