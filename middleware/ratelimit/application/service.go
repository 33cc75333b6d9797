package application

import (
	"time"

	"seat-gateway/middleware/ratelimit/domain"
)

// Service decide se uma requisição passa pelo limite da sua chave.
//
// Não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Store domain.LimiterStore
	// RetryAfter fixo. Se 0, usa o tempo até o próximo token (quando o
	// limiter souber informar) ou 1s.
	RetryAfter time.Duration
	// ExemptReads deixa consultas passarem sem gastar token.
	ExemptReads bool
}

func (s Service) Decide(key domain.Key, action domain.Action) domain.Decision {
	dec := domain.Decision{Key: key, Action: action, Allowed: true}
	if s.Store == nil {
		return dec
	}
	if action == domain.ActionRead && s.ExemptReads {
		dec.Exempt = true
		return dec
	}

	lim := s.Store.Get(key)
	if lim == nil || lim.Allow() {
		return dec
	}
	dec.Allowed = false
	dec.RetryAfter = s.retryAfter(lim)
	return dec
}

func (s Service) retryAfter(lim domain.Limiter) time.Duration {
	if s.RetryAfter > 0 {
		return s.RetryAfter
	}
	if d, ok := lim.(domain.Delayer); ok {
		if wait := d.Delay(); wait > 0 {
			return wait
		}
	}
	return time.Second
}
