package domain

import (
	"context"
	"time"
)

type CommitKind string

const (
	CommitAllocate CommitKind = "allocate"
	CommitRelease  CommitKind = "release"
)

// Commit é a unidade persistida pelo colaborador de durabilidade.
// Sequence é o marcador de idempotência usado no replay.
type Commit struct {
	Sequence    uint64
	Kind        CommitKind
	RequesterID string
	At          time.Time
}

// Journal é a estratégia de durabilidade (Postgres, memória, ...).
//
// Append é chamado dentro da seção exclusiva, antes da aplicação em memória.
// Reanexar um commit com a mesma Sequence não deve duplicá-lo.
// Load devolve os commits em ordem crescente de Sequence.
type Journal interface {
	Append(ctx context.Context, c Commit) error
	Load(ctx context.Context) ([]Commit, error)
}
