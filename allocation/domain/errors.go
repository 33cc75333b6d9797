package domain

import "errors"

var (
	// ErrInvalidRequest: identificador de requisitante vazio ou só com espaços.
	// Rejeitado antes de qualquer acesso ao estado.
	ErrInvalidRequest = errors.New("invalid request: requester id must be non-empty")

	// ErrAbandoned: o chamador desistiu (ctx encerrado) antes de entrar na seção exclusiva.
	// Nenhuma mutação aconteceu.
	ErrAbandoned = errors.New("request abandoned before entering the exclusive section")

	// ErrJournal: o colaborador de durabilidade não confirmou o commit. Nada foi aplicado
	// em memória, mas o commit pode ter sido gravado: o motor o reenvia antes da próxima mutação.
	ErrJournal = errors.New("journal append failed")

	// ErrSequenceConflict: o journal já tem outro commit nesta sequência.
	ErrSequenceConflict = errors.New("sequence already journaled with different content")

	// ErrInvariantViolation indica bug no controle de concorrência. Fatal para o pool.
	ErrInvariantViolation = errors.New("internal invariant violation")

	// ErrPoolHalted é retornado para qualquer mutação depois de uma violação de invariante.
	ErrPoolHalted = errors.New("pool halted after invariant violation")

	ErrInvalidCapacity = errors.New("capacity must be > 0")
)
