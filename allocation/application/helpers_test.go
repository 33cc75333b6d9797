package application

import (
	"context"
	"errors"
	"sync"

	"seat-gateway/allocation/domain"
)

// sliceJournal é idempotente por sequência, como os journals de infra.
//   - failN: os próximos N Appends falham sem gravar.
//   - persistThenFailN: os próximos N Appends gravam e mesmo assim retornam erro
//     (ex.: timeout depois do COMMIT).
type sliceJournal struct {
	mu               sync.Mutex
	commits          []domain.Commit
	failN            int
	persistThenFailN int
	appends          int
}

func (j *sliceJournal) Append(_ context.Context, c domain.Commit) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.appends++
	if j.failN > 0 {
		j.failN--
		return errors.New("disk on fire")
	}
	for _, prev := range j.commits {
		if prev.Sequence != c.Sequence {
			continue
		}
		if prev.Kind != c.Kind || prev.RequesterID != c.RequesterID {
			return domain.ErrSequenceConflict
		}
		return nil
	}
	j.commits = append(j.commits, c)
	if j.persistThenFailN > 0 {
		j.persistThenFailN--
		return errors.New("timeout waiting for commit ack")
	}
	return nil
}

func (j *sliceJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.commits)
}

func (j *sliceJournal) Load(context.Context) ([]domain.Commit, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.Commit(nil), j.commits...), nil
}

// gatedJournal segura o Append até proceed fechar.
type gatedJournal struct {
	entered chan struct{}
	proceed chan struct{}
	ctxErr  error
}

func (j *gatedJournal) Append(ctx context.Context, _ domain.Commit) error {
	close(j.entered)
	<-j.proceed
	j.ctxErr = ctx.Err()
	return nil
}

func (j *gatedJournal) Load(context.Context) ([]domain.Commit, error) { return nil, nil }

type collector struct {
	mu     sync.Mutex
	events []domain.Event
	got    chan struct{}
}

func newCollector() *collector { return &collector{got: make(chan struct{}, 4096)} }

func (c *collector) Handle(_ context.Context, ev domain.Event) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.got <- struct{}{}
	return nil
}

func (c *collector) snapshot() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}
