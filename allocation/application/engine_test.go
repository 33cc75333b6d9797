package application

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seat-gateway/allocation/domain"
)

func newTestEngine(t *testing.T, capacity int, opts ...Option) *Engine {
	t.Helper()
	e, err := New(context.Background(), capacity, opts...)
	require.NoError(t, err)
	return e
}

func Test_New_RejectsInvalidCapacity(t *testing.T) {
	_, err := New(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidCapacity)
}

func Test_Allocate_CapacityExactness(t *testing.T) {
	// setup
	e := newTestEngine(t, 100)
	var confirmed, soldOut atomic.Int32
	var wg sync.WaitGroup

	// act
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Allocate(context.Background(), fmt.Sprintf("user-%d", i))
			if !assert.NoError(t, err) {
				return
			}
			switch res.Outcome {
			case domain.OutcomeConfirmed:
				confirmed.Add(1)
			case domain.OutcomeSoldOut:
				soldOut.Add(1)
			default:
				t.Errorf("unexpected outcome %s", res.Outcome)
			}
		}(i)
	}
	wg.Wait()

	// assert
	assert.Equal(t, int32(100), confirmed.Load())
	assert.Equal(t, int32(50), soldOut.Load())
	assert.Equal(t, domain.Snapshot{Capacity: 100, Remaining: 0, Allocated: 100, LastSequence: 100}, e.Snapshot())
}

func Test_Allocate_SoldOutBoundaryWithCapacityOne(t *testing.T) {
	for round := 0; round < 200; round++ {
		e := newTestEngine(t, 1)
		results := make([]domain.Result, 2)
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				res, err := e.Allocate(context.Background(), fmt.Sprintf("r%d", i))
				assert.NoError(t, err)
				results[i] = res
			}(i)
		}
		close(start)
		wg.Wait()

		outcomes := []domain.Outcome{results[0].Outcome, results[1].Outcome}
		require.ElementsMatch(t, []domain.Outcome{domain.OutcomeConfirmed, domain.OutcomeSoldOut}, outcomes, "round %d", round)
		require.Equal(t, 0, e.Remaining())
	}
}

func Test_Allocate_IsIdempotentPerRequester(t *testing.T) {
	e := newTestEngine(t, 10)

	first, err := e.Allocate(context.Background(), "u1")
	require.NoError(t, err)
	second, err := e.Allocate(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeConfirmed, first.Outcome)
	assert.Equal(t, domain.OutcomeAlreadyAllocated, second.Outcome)
	require.NotNil(t, second.Record)
	assert.Equal(t, first.Record.Sequence, second.Record.Sequence, "existing record is returned")
	assert.Equal(t, 9, e.Remaining())
}

func Test_Allocate_ConcurrentSameRequesterConfirmsOnce(t *testing.T) {
	e := newTestEngine(t, 5)
	var confirmed, already atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Allocate(context.Background(), "same")
			assert.NoError(t, err)
			switch res.Outcome {
			case domain.OutcomeConfirmed:
				confirmed.Add(1)
			case domain.OutcomeAlreadyAllocated:
				already.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), confirmed.Load())
	assert.Equal(t, int32(63), already.Load())
	assert.Equal(t, 4, e.Remaining())
}

func Test_Release_RoundTrip(t *testing.T) {
	e := newTestEngine(t, 3)
	ctx := context.Background()
	before := e.Remaining()

	first, err := e.Allocate(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeConfirmed, first.Outcome)

	rel, err := e.Release(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeReleased, rel.Outcome)
	assert.Equal(t, before, e.Remaining())
	assert.False(t, e.IsAllocated("u1"))

	again, err := e.Allocate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConfirmed, again.Outcome)
	assert.Greater(t, again.Record.Sequence, first.Record.Sequence)
}

func Test_Release_UnknownRequesterIsNotFound(t *testing.T) {
	e := newTestEngine(t, 3)

	res, err := e.Release(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNotFound, res.Outcome)
	assert.Equal(t, 3, res.Remaining)
}

func Test_InvalidRequesterIsRejectedBeforeStateAccess(t *testing.T) {
	e := newTestEngine(t, 1)

	// gate ocupado: se a validação tocasse no estado, o teste travaria
	release, ok := e.gate.TryAcquire()
	require.True(t, ok)
	defer release()

	for _, id := range []string{"", "   ", string(make([]byte, maxRequesterIDLen+1))} {
		_, err := e.Allocate(context.Background(), id)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		_, err = e.Release(context.Background(), id)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	}
}

func Test_Allocate_AbandonedWhileWaitingLeavesStateUntouched(t *testing.T) {
	e := newTestEngine(t, 2)

	release, ok := e.gate.TryAcquire()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Allocate(ctx, "late")
	release()

	assert.ErrorIs(t, err, domain.ErrAbandoned)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.Snapshot{Capacity: 2, Remaining: 2}, e.Snapshot())
}

func Test_Allocate_CallerCancelInsideSectionStillCommits(t *testing.T) {
	j := &gatedJournal{entered: make(chan struct{}), proceed: make(chan struct{})}
	e := newTestEngine(t, 1, WithJournal(j))

	ctx, cancel := context.WithCancel(context.Background())
	type out struct {
		res domain.Result
		err error
	}
	done := make(chan out, 1)
	go func() {
		res, err := e.Allocate(ctx, "u1")
		done <- out{res, err}
	}()

	<-j.entered
	cancel()
	close(j.proceed)

	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, domain.OutcomeConfirmed, got.res.Outcome)
	assert.NoError(t, j.ctxErr, "journal must not see the caller's cancellation")
	assert.True(t, e.IsAllocated("u1"))
	assert.Equal(t, 0, e.Remaining())
}

func Test_Allocate_JournalRetriesResolveAmbiguousAppend(t *testing.T) {
	j := &sliceJournal{persistThenFailN: 1}
	e := newTestEngine(t, 2, WithJournal(j))

	res, err := e.Allocate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConfirmed, res.Outcome)
	assert.Equal(t, uint64(1), res.Record.Sequence)
	assert.Equal(t, 1, j.len(), "the retried append must not duplicate the commit")
}

func Test_Allocate_UndecidedCommitIsReconciledBeforeNextDecision(t *testing.T) {
	j := &sliceJournal{persistThenFailN: 1}
	e := newTestEngine(t, 1, WithJournal(j), WithJournalRetries(1))
	ctx := context.Background()

	_, err := e.Allocate(ctx, "u1")
	require.ErrorIs(t, err, domain.ErrJournal)
	assert.False(t, e.IsAllocated("u1"), "an undecided commit is not applied")
	assert.Equal(t, 1, e.Remaining())

	// o cliente tenta de novo: o commit gravado é reconhecido, não duplicado
	res, err := e.Allocate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyAllocated, res.Outcome)
	assert.Equal(t, uint64(1), res.Record.Sequence)

	res, err = e.Allocate(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSoldOut, res.Outcome)
	assert.Equal(t, 1, j.len())

	restarted, err := New(ctx, 1, WithJournal(j))
	require.NoError(t, err, "the journal must stay replayable")
	assert.Equal(t, e.Snapshot(), restarted.Snapshot())
	assert.True(t, restarted.IsAllocated("u1"))
}

func Test_Allocate_UnwrittenUndecidedCommitIsResentByNextMutation(t *testing.T) {
	j := &sliceJournal{failN: 1}
	e := newTestEngine(t, 3, WithJournal(j), WithJournalRetries(1))
	ctx := context.Background()

	_, err := e.Allocate(ctx, "u1")
	require.ErrorIs(t, err, domain.ErrJournal)
	assert.Equal(t, 0, j.len())

	res, err := e.Allocate(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConfirmed, res.Outcome)
	assert.Equal(t, uint64(2), res.Record.Sequence)
	assert.True(t, e.IsAllocated("u1"), "the re-sent commit is applied once the journal confirms it")
	assert.Equal(t, 1, e.Remaining())

	commits, err := j.Load(ctx)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "u1", commits[0].RequesterID)
	assert.Equal(t, uint64(1), commits[0].Sequence)
}

func Test_Allocate_JournalOutageBlocksMutationsWithoutApplying(t *testing.T) {
	j := &sliceJournal{failN: 100}
	e := newTestEngine(t, 3, WithJournal(j), WithJournalRetries(1))
	ctx := context.Background()

	_, err := e.Allocate(ctx, "u1")
	require.ErrorIs(t, err, domain.ErrJournal)
	_, err = e.Allocate(ctx, "u2")
	require.ErrorIs(t, err, domain.ErrJournal)
	_, err = e.Release(ctx, "u1")
	require.ErrorIs(t, err, domain.ErrJournal)

	assert.Equal(t, domain.Snapshot{Capacity: 3, Remaining: 3}, e.Snapshot())
	assert.NoError(t, e.Halted(), "an outage is not an invariant violation")
}

func Test_Allocate_JournalConflictHaltsPool(t *testing.T) {
	j := &sliceJournal{commits: []domain.Commit{
		{Sequence: 1, Kind: domain.CommitAllocate, RequesterID: "a"},
	}}
	e := newTestEngine(t, 3, WithJournal(j))
	// outro processo gravou na mesma partição depois do replay
	j.mu.Lock()
	j.commits = append(j.commits, domain.Commit{Sequence: 2, Kind: domain.CommitAllocate, RequesterID: "intruder"})
	j.mu.Unlock()

	_, err := e.Allocate(context.Background(), "u1")
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	assert.ErrorIs(t, err, domain.ErrSequenceConflict)
	assert.False(t, e.IsAllocated("u1"))

	_, err = e.Allocate(context.Background(), "u2")
	assert.ErrorIs(t, err, domain.ErrPoolHalted)
}

func Test_New_RecoversFromJournal(t *testing.T) {
	j := &sliceJournal{}
	ctx := context.Background()

	first := newTestEngine(t, 3, WithJournal(j))
	for _, id := range []string{"a", "b", "c"} {
		_, err := first.Allocate(ctx, id)
		require.NoError(t, err)
	}
	_, err := first.Release(ctx, "b")
	require.NoError(t, err)

	second := newTestEngine(t, 3, WithJournal(j))

	assert.Equal(t, first.Snapshot(), second.Snapshot())
	assert.True(t, second.IsAllocated("a"))
	assert.False(t, second.IsAllocated("b"))

	res, err := second.Allocate(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), res.Record.Sequence)
}

func Test_New_RejectsCorruptJournal(t *testing.T) {
	j := &sliceJournal{commits: []domain.Commit{
		{Sequence: 1, Kind: domain.CommitAllocate, RequesterID: "a"},
		{Sequence: 2, Kind: domain.CommitAllocate, RequesterID: "a"},
	}}

	_, err := New(context.Background(), 5, WithJournal(j))
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func Test_HaltedPoolRejectsMutations(t *testing.T) {
	e := newTestEngine(t, 2)
	_, err := e.Allocate(context.Background(), "u1")
	require.NoError(t, err)

	e.mu.Lock()
	e.haltLocked(fmt.Errorf("%w: injected", domain.ErrInvariantViolation))
	e.mu.Unlock()

	_, err = e.Allocate(context.Background(), "u2")
	assert.ErrorIs(t, err, domain.ErrPoolHalted)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
	_, err = e.Release(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrPoolHalted)

	// leituras continuam servindo o último estado consistente
	assert.True(t, e.IsAllocated("u1"))
	assert.Error(t, e.Halted())
}

func Test_InvariantsHoldUnderConcurrentAllocateAndRelease(t *testing.T) {
	const (
		capacity   = 50
		requesters = 200
		workers    = 32
		opsEach    = 500
	)
	e := newTestEngine(t, capacity)
	ctx := context.Background()

	stop := make(chan struct{})
	readerDone := make(chan struct{})
	var torn atomic.Int32
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := e.Snapshot()
			if s.Remaining != s.Capacity-s.Allocated || s.Remaining < 0 || s.Remaining > s.Capacity {
				torn.Add(1)
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < opsEach; i++ {
				id := fmt.Sprintf("r%d", rnd.Intn(requesters))
				var err error
				if rnd.Intn(3) == 0 {
					_, err = e.Release(ctx, id)
				} else {
					_, err = e.Allocate(ctx, id)
				}
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}(int64(w))
	}
	wg.Wait()
	close(stop)
	<-readerDone

	require.NoError(t, e.Halted())
	assert.Zero(t, torn.Load(), "snapshot mixed two states")

	s := e.Snapshot()
	held := 0
	for i := 0; i < requesters; i++ {
		if e.IsAllocated(fmt.Sprintf("r%d", i)) {
			held++
		}
	}
	assert.Equal(t, s.Allocated, held)
	assert.Equal(t, s.Capacity-s.Allocated, s.Remaining)
}
