package application

import "seat-gateway/allocation/domain"

// Consultas de status. Todas leem sob o mesmo RLock, então nunca misturam
// remaining e alocações de estados diferentes, e nunca esperam pelo journal.

func (e *Engine) Snapshot() domain.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pool.Snapshot()
}

func (e *Engine) Remaining() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pool.Remaining()
}

func (e *Engine) IsAllocated(requesterID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pool.Has(requesterID)
}

func (e *Engine) Lookup(requesterID string) (domain.Record, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pool.Lookup(requesterID)
}

// Halted retorna a violação que parou o pool, ou nil.
func (e *Engine) Halted() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.halted
}
