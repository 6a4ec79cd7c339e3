package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"dispatch/internal/service/dispatch/domain"
	"dispatch/internal/service/dispatch/domain/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTrigger(gw *fakeGateway, store *fakeStore, notices *noticeRecorder) *AutoBatchTrigger {
	g := NewBatchGrouper(gw, nil, 1, testTracer)
	return NewAutoBatchTrigger(g, store, nil, notices, &memRuns{}, testTracer)
}

func TestSignatureIsSortedAndPipeJoined(t *testing.T) {
	orders := []domain.Order{{ID: "c"}, {ID: "a"}, {ID: "b"}}
	assert.Equal(t, "a|b|c", Signature(orders))
	assert.Equal(t, "", Signature(nil))
}

func TestTriggerIdempotentUnderUnchangedSignature(t *testing.T) {
	gw := newFakeGateway()
	store := &fakeStore{}
	notices := &noticeRecorder{}
	tr := newTrigger(gw, store, notices)
	ctx := context.Background()

	first := tr.Evaluate(ctx, scenarioOrders())
	second := tr.Evaluate(ctx, scenarioOrders())

	assert.Equal(t, OutcomeBatched, first.Outcome)
	assert.Equal(t, OutcomeUnchanged, second.Outcome)
	assert.Len(t, gw.calls(), 2, "one create call per group, from the first evaluation only")
	assert.Equal(t, "A|B|C", store.get())
	assert.Equal(t, []domain.NoticeKind{domain.NoticeAutoBatched}, notices.kinds())
}

func TestTriggerFiresAgainWhenSetChanges(t *testing.T) {
	gw := newFakeGateway()
	store := &fakeStore{}
	tr := newTrigger(gw, store, nil)
	ctx := context.Background()

	tr.Evaluate(ctx, scenarioOrders())

	grown := append(scenarioOrders(), order("F", "2024-08-17T08:00:00Z", ""))
	report := tr.Evaluate(ctx, grown)
	assert.Equal(t, OutcomeBatched, report.Outcome)
	assert.Equal(t, "A|B|C|F", report.Signature)

	shrunk := scenarioOrders()[:2]
	report = tr.Evaluate(ctx, shrunk)
	assert.Equal(t, OutcomeBatched, report.Outcome)
	assert.Equal(t, "A|B", store.get())
}

func TestTriggerClearsSignatureWhenNothingUnbatched(t *testing.T) {
	gw := newFakeGateway()
	store := &fakeStore{value: "A|B"}
	tr := newTrigger(gw, store, nil)

	batched := []domain.Order{order("A", "2024-08-15T09:00:00Z", "S1"), order("E", "", "")}
	report := tr.Evaluate(context.Background(), batched)

	assert.Equal(t, OutcomeReset, report.Outcome)
	assert.Equal(t, "", store.get())
	assert.Empty(t, gw.calls())
}

func TestTriggerFailureIsNotSticky(t *testing.T) {
	gw := newFakeGateway()
	gw.failFor["A"] = errors.New("down")
	gw.failFor["C"] = errors.New("down")
	store := &fakeStore{}
	notices := &noticeRecorder{}
	tr := newTrigger(gw, store, notices)
	ctx := context.Background()

	report := tr.Evaluate(ctx, scenarioOrders())
	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.ErrorIs(t, report.Err, domain.ErrBatchingFailed)
	assert.Equal(t, "", store.get())
	assert.False(t, tr.InProgress())

	delete(gw.failFor, "A")
	delete(gw.failFor, "C")
	report = tr.Evaluate(ctx, scenarioOrders())
	assert.Equal(t, OutcomeBatched, report.Outcome)
	assert.Equal(t, []domain.NoticeKind{domain.NoticeAutoBatchFailed, domain.NoticeAutoBatched}, notices.kinds())
}

func TestTriggerBusyWhileBatchInFlight(t *testing.T) {
	gw := newFakeGateway()
	gw.block = make(chan struct{})
	gw.started = make(chan struct{}, 4)
	store := &fakeStore{}
	tr := newTrigger(gw, store, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	var first TriggerReport
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = tr.Evaluate(ctx, scenarioOrders())
	}()

	<-gw.started
	assert.True(t, tr.InProgress())
	changed := append(scenarioOrders(), order("F", "2024-08-17T08:00:00Z", ""))
	assert.Equal(t, OutcomeBusy, tr.Evaluate(ctx, changed).Outcome)

	close(gw.block)
	wg.Wait()
	assert.Equal(t, OutcomeBatched, first.Outcome)
	assert.False(t, tr.InProgress())
}

func TestTriggerRespectsCrossInstanceLock(t *testing.T) {
	gw := newFakeGateway()
	store := &fakeStore{}
	g := NewBatchGrouper(gw, nil, 1, testTracer)

	held := NewAutoBatchTrigger(g, store, heldLock{}, nil, nil, testTracer)
	report := held.Evaluate(context.Background(), scenarioOrders())
	assert.Equal(t, OutcomeBusy, report.Outcome)
	assert.Equal(t, "", store.get())
	assert.Empty(t, gw.calls())

	lock := &countingLock{}
	free := NewAutoBatchTrigger(g, store, lock, nil, nil, testTracer)
	report = free.Evaluate(context.Background(), scenarioOrders())
	assert.Equal(t, OutcomeBatched, report.Outcome)
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 1, lock.released)
}

func TestTriggerDoesNotBatchWhenSignatureUnreadable(t *testing.T) {
	gw := newFakeGateway()
	store := &fakeStore{loadErr: errors.New("redis down")}
	tr := newTrigger(gw, store, nil)

	report := tr.Evaluate(context.Background(), scenarioOrders())
	assert.Equal(t, OutcomeFailed, report.Outcome)
	require.Error(t, report.Err)
	assert.Empty(t, gw.calls())
}

func TestTriggerReset(t *testing.T) {
	store := &fakeStore{value: "A|B"}
	tr := newTrigger(newFakeGateway(), store, nil)
	require.NoError(t, tr.Reset(context.Background()))
	assert.Equal(t, "", store.get())
}

func TestTriggerRechecksSignatureAfterLock(t *testing.T) {
	gw := newFakeGateway()
	store := &fakeStore{}
	g := NewBatchGrouper(gw, nil, 1, testTracer)
	ctx := context.Background()

	other := NewAutoBatchTrigger(g, store, &countingLock{}, nil, nil, testTracer)
	lock := &interleavingLock{before: func() {
		assert.Equal(t, OutcomeBatched, other.Evaluate(ctx, scenarioOrders()).Outcome)
	}}
	late := NewAutoBatchTrigger(g, store, lock, nil, nil, testTracer)

	report := late.Evaluate(ctx, scenarioOrders())
	assert.Equal(t, OutcomeUnchanged, report.Outcome)
	assert.Len(t, gw.calls(), 2, "only the first instance creates shipments")
	assert.False(t, late.InProgress())
	assert.Equal(t, "A|B|C", store.get())
}

func TestRunExclusiveRejectsWhileBatchInFlight(t *testing.T) {
	gw := newFakeGateway()
	gw.block = make(chan struct{})
	gw.started = make(chan struct{}, 4)
	tr := newTrigger(gw, &fakeStore{}, nil)
	ctx := context.Background()

	done := make(chan TriggerReport, 1)
	go func() { done <- tr.Evaluate(ctx, scenarioOrders()) }()
	<-gw.started

	ran := false
	err := tr.RunExclusive(ctx, func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrBatchInProgress)
	assert.False(t, ran)

	close(gw.block)
	assert.Equal(t, OutcomeBatched, (<-done).Outcome)

	require.NoError(t, tr.RunExclusive(ctx, func(context.Context) error {
		ran = true
		assert.True(t, tr.InProgress())
		return nil
	}))
	assert.True(t, ran)
	assert.False(t, tr.InProgress())
}

func TestRunExclusiveReportsHeldLockAsBusy(t *testing.T) {
	g := NewBatchGrouper(newFakeGateway(), nil, 1, testTracer)
	tr := NewAutoBatchTrigger(g, &fakeStore{}, heldLock{}, nil, nil, testTracer)

	err := tr.RunExclusive(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, domain.ErrBatchInProgress)
	assert.ErrorIs(t, err, port.ErrLockHeld)
}
