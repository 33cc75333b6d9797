// Package slot implementa semáforos baseados em channel com aquisição sensível a contexto.
//
// É usado em dois lugares:
//   - como limite de requisições simultâneas na borda HTTP (ratelimit.ConcurrencyMiddleware);
//   - como seção exclusiva (capacidade 1) do motor de alocação, onde a espera respeita
//     o ctx do chamador mas, uma vez dentro, o trabalho sempre roda até o fim.
package slot

import "context"

// Pool representa um recurso com capacidade finita.
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type Pool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	TryAcquire() (release func(), ok bool)
}

// ChanPool é um semáforo simples com capacidade fixa.
type ChanPool struct {
	sem chan struct{}
}

// NewChanPool cria um pool com capacidade `max`. max <= 0 é tratado como 1.
func NewChanPool(max int) *ChanPool {
	if max <= 0 {
		max = 1
	}
	return &ChanPool{sem: make(chan struct{}, max)}
}

// Acquire implementa Pool.
//
// Se o ctx já estiver encerrado, nunca adquire, mesmo havendo vaga livre.
func (p *ChanPool) Acquire(ctx context.Context) (func(), bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	select {
	case p.sem <- struct{}{}:
		return p.release, true
	case <-ctx.Done():
		return nil, false
	}
}

// TryAcquire não bloqueia.
func (p *ChanPool) TryAcquire() (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return p.release, true
	default:
		return nil, false
	}
}

// InUse retorna quantas vagas estão ocupadas agora.
func (p *ChanPool) InUse() int { return len(p.sem) }

// Cap retorna a capacidade total.
func (p *ChanPool) Cap() int { return cap(p.sem) }

func (p *ChanPool) release() { <-p.sem }
