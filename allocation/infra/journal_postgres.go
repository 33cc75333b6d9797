package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"seat-gateway/allocation/domain"
)

// PostgresJournal persiste commits numa tabela append-only.
//
// A chave primária (pool_name, sequence) é o marcador de idempotência:
// reanexar o mesmo commit é no-op; reanexar a sequência com conteúdo diferente
// retorna ErrSequenceConflict.
type PostgresJournal struct {
	pool     *pgxpool.Pool
	table    string
	poolName string
}

type PostgresJournalOption func(*PostgresJournal)

func WithJournalTable(name string) PostgresJournalOption {
	return func(j *PostgresJournal) {
		if name != "" {
			j.table = name
		}
	}
}

// WithPoolName separa pools diferentes (um Engine por pool) na mesma tabela.
func WithPoolName(name string) PostgresJournalOption {
	return func(j *PostgresJournal) {
		if name != "" {
			j.poolName = name
		}
	}
}

func NewPostgresJournal(pool *pgxpool.Pool, opts ...PostgresJournalOption) *PostgresJournal {
	j := &PostgresJournal{
		pool:     pool,
		table:    "allocation_journal",
		poolName: "default",
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *PostgresJournal) ident() string { return pgx.Identifier{j.table}.Sanitize() }

// EnsureSchema cria a tabela se não existir.
func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	_, err := j.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+j.ident()+` (
		pool_name    TEXT        NOT NULL,
		sequence     BIGINT      NOT NULL,
		kind         TEXT        NOT NULL,
		requester_id TEXT        NOT NULL,
		committed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (pool_name, sequence)
	)`)
	if err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Append(ctx context.Context, c domain.Commit) error {
	tag, err := j.pool.Exec(ctx,
		`INSERT INTO `+j.ident()+` (pool_name, sequence, kind, requester_id, committed_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (pool_name, sequence) DO NOTHING`,
		j.poolName, int64(c.Sequence), string(c.Kind), c.RequesterID, c.At.UTC())
	if err != nil {
		return fmt.Errorf("journal append %d: %w", c.Sequence, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// conflito: só é idempotente se o conteúdo for o mesmo
	var kind, requester string
	err = j.pool.QueryRow(ctx,
		`SELECT kind, requester_id FROM `+j.ident()+` WHERE pool_name = $1 AND sequence = $2`,
		j.poolName, int64(c.Sequence)).Scan(&kind, &requester)
	if err != nil {
		return fmt.Errorf("journal append %d: read existing: %w", c.Sequence, err)
	}
	if domain.CommitKind(kind) != c.Kind || requester != c.RequesterID {
		return fmt.Errorf("%w: %d", ErrSequenceConflict, c.Sequence)
	}
	return nil
}

func (j *PostgresJournal) Load(ctx context.Context) ([]domain.Commit, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT sequence, kind, requester_id, committed_at FROM `+j.ident()+`
		 WHERE pool_name = $1 ORDER BY sequence`, j.poolName)
	if err != nil {
		return nil, fmt.Errorf("journal load: %w", err)
	}

	commits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Commit, error) {
		var (
			seq       int64
			kind      string
			requester string
			at        time.Time
		)
		if err := row.Scan(&seq, &kind, &requester, &at); err != nil {
			return domain.Commit{}, err
		}
		if seq <= 0 {
			return domain.Commit{}, errors.New("non-positive sequence in journal")
		}
		return domain.Commit{Sequence: uint64(seq), Kind: domain.CommitKind(kind), RequesterID: requester, At: at}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal load: %w", err)
	}
	return commits, nil
}
