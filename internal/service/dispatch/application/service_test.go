package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"dispatch/internal/service/dispatch/domain"
	"dispatch/internal/service/dispatch/domain/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	svc     *DispatchApplicationService
	gw      *fakeGateway
	catalog *fakeCatalog
	store   *fakeStore
	notices *noticeRecorder
	runs    *memRuns
	kicks   *kickCounter
}

func newServiceFixture() *serviceFixture {
	gw := newFakeGateway()
	catalog := &fakeCatalog{pages: map[int][]domain.Order{1: scenarioOrders()}, totalPages: 1}
	store := &fakeStore{}
	notices := &noticeRecorder{}
	runs := &memRuns{}
	grouper := NewBatchGrouper(gw, nil, 1, testTracer)
	trigger := NewAutoBatchTrigger(grouper, store, nil, notices, runs, testTracer)
	svc := NewDispatchApplicationService(catalog, gw, grouper, trigger, notices, runs, testTracer, Options{PageSize: 10, MaxPages: 3})
	kicks := &kickCounter{}
	svc.SetRefresher(kicks)
	return &serviceFixture{svc: svc, gw: gw, catalog: catalog, store: store, notices: notices, runs: runs, kicks: kicks}
}

func TestBulkUpdateStatusIssuesSingleCall(t *testing.T) {
	f := newServiceFixture()

	err := f.svc.BulkUpdateStatus(context.Background(), &BulkStatusRequest{
		ShipmentIDs: []string{"S1", "S2"},
		Status:      "Delivered",
	})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"S1", "S2"}}, f.gw.bulkCalls)
	assert.Empty(t, f.gw.updates, "no per-shipment calls")
	assert.Empty(t, f.gw.getCalls, "no optimistic refetch per shipment")
	assert.Equal(t, 1, f.kicks.count())
}

func TestBulkUpdateStatusValidates(t *testing.T) {
	f := newServiceFixture()
	err := f.svc.BulkUpdateStatus(context.Background(), &BulkStatusRequest{ShipmentIDs: []string{" "}, Status: "Delivered"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Empty(t, f.gw.bulkCalls)
}

func TestUpdateShipmentStatusRefetches(t *testing.T) {
	f := newServiceFixture()
	f.gw.shipments["S1"] = &domain.Shipment{ID: "S1", Status: "pending", OrderIDs: []string{"A", "B"}}

	got, err := f.svc.UpdateShipmentStatus(context.Background(), "S1", &StatusUpdateRequest{Status: "in_transit", Location: "Hub 3"})
	require.NoError(t, err)

	assert.Equal(t, "in_transit", got.Status)
	assert.Equal(t, domain.StatusUpdate{Status: "in_transit", Location: "Hub 3"}, f.gw.updates["S1"])
	assert.Equal(t, []string{"S1"}, f.gw.getCalls)
	assert.Equal(t, []domain.NoticeKind{domain.NoticeStatusUpdated}, f.notices.kinds())
}

func TestUpdateShipmentStatusPropagatesUpstreamError(t *testing.T) {
	f := newServiceFixture()
	f.gw.updateErr = domain.ErrUnauthorized

	_, err := f.svc.UpdateShipmentStatus(context.Background(), "S1", &StatusUpdateRequest{Status: "delivered"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Empty(t, f.gw.getCalls)
}

func TestLoadWorkingSetFetchesAllPages(t *testing.T) {
	f := newServiceFixture()
	f.catalog.pages = map[int][]domain.Order{
		1: {order("A", "2024-08-15T09:00:00Z", "")},
		2: {order("B", "2024-08-15T22:00:00Z", "")},
		3: {order("C", "2024-08-16T01:00:00Z", "")},
		4: {order("X", "2024-08-16T01:00:00Z", "")},
	}
	f.catalog.totalPages = 4

	orders, err := f.svc.LoadWorkingSet(context.Background(), port.ListQuery{})
	require.NoError(t, err)

	var ids []string
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"A", "B", "C"}, ids, "capped at MaxPages")
}

func TestRefreshAndTriggerBatchesOnceAndKicks(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	report, err := f.svc.RefreshAndTrigger(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBatched, report.Outcome)
	assert.Equal(t, 1, f.kicks.count())

	report, err = f.svc.RefreshAndTrigger(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, report.Outcome)
	assert.Len(t, f.gw.calls(), 2)

	require.Len(t, f.runs.runs, 1)
	assert.Equal(t, domain.TriggerAuto, f.runs.runs[0].Trigger)
	assert.Equal(t, "A|B|C", f.runs.runs[0].Signature)
}

func TestRefreshAndTriggerSkipsOnListFailure(t *testing.T) {
	f := newServiceFixture()
	f.catalog.listErr = domain.ErrNetwork

	_, err := f.svc.RefreshAndTrigger(context.Background())
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.Empty(t, f.gw.calls())
}

func TestRunManualBatchSubset(t *testing.T) {
	f := newServiceFixture()

	resp, err := f.svc.RunManualBatch(context.Background(), &ManualBatchRequest{OrderIDs: []string{"C"}})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"C"}}, f.gw.calls())
	assert.Equal(t, 1, resp.Created)
	assert.Equal(t, "created 1 of 1 shipments", resp.Message)
	assert.Equal(t, []domain.NoticeKind{domain.NoticeManualBatchSucceeded}, f.notices.kinds())
	assert.Equal(t, "", f.store.get(), "manual batching leaves the auto-batch signature alone")
}

func TestRunManualBatchNoEligible(t *testing.T) {
	f := newServiceFixture()
	f.catalog.pages[1] = []domain.Order{order("D", "2024-08-15T09:00:00Z", "S1")}

	_, err := f.svc.RunManualBatch(context.Background(), &ManualBatchRequest{})
	assert.ErrorIs(t, err, domain.ErrNoEligibleOrders)
	assert.Empty(t, f.notices.kinds())
	assert.Empty(t, f.runs.runs)
}

func TestRunManualBatchTotalFailure(t *testing.T) {
	f := newServiceFixture()
	f.gw.failFor["A"] = domain.ErrNetwork
	f.gw.failFor["C"] = domain.ErrNetwork

	resp, err := f.svc.RunManualBatch(context.Background(), &ManualBatchRequest{})
	assert.ErrorIs(t, err, domain.ErrBatchingFailed)
	require.NotNil(t, resp)
	assert.Equal(t, 2, resp.Failed)
	assert.Equal(t, []domain.NoticeKind{domain.NoticeManualBatchFailed}, f.notices.kinds())
}

func TestHandleShipmentStatusChangedRefetchesOnly(t *testing.T) {
	f := newServiceFixture()
	f.gw.shipments["S1"] = &domain.Shipment{ID: "S1", Status: "Delivered"}

	err := f.svc.HandleShipmentStatusChanged(context.Background(), &domain.ShipmentStatusChanged{ShipmentID: "S1", Status: "delivered"})
	require.NoError(t, err)

	assert.Equal(t, []string{"S1"}, f.gw.getCalls)
	assert.Empty(t, f.gw.updates)
	assert.Equal(t, 1, f.kicks.count())

	err = f.svc.HandleShipmentStatusChanged(context.Background(), &domain.ShipmentStatusChanged{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestUpdateOrderStatus(t *testing.T) {
	f := newServiceFixture()
	require.NoError(t, f.svc.UpdateOrderStatus(context.Background(), "A", &OrderStatusRequest{Status: "cancelled"}))
	assert.Equal(t, "cancelled", f.catalog.statusUpdates["A"])

	err := f.svc.UpdateOrderStatus(context.Background(), "A", &OrderStatusRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestRefetchShipmentCollapsesConcurrentCalls(t *testing.T) {
	f := newServiceFixture()
	f.gw.shipments["S1"] = &domain.Shipment{ID: "S1", Status: "In Transit"}
	f.gw.getGate = make(chan struct{})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*domain.Shipment, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := f.svc.RefetchShipment(context.Background(), "S1")
			assert.NoError(t, err)
			results[i] = s
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.gw.getGate)
	wg.Wait()

	f.gw.mu.Lock()
	calls := len(f.gw.getCalls)
	f.gw.mu.Unlock()
	assert.Less(t, calls, callers)
	for _, s := range results {
		require.NotNil(t, s)
		assert.Equal(t, "In Transit", s.Status)
	}
}

func TestRunManualBatchRejectedWhileAutoBatchInFlight(t *testing.T) {
	f := newServiceFixture()
	f.gw.block = make(chan struct{})
	f.gw.started = make(chan struct{}, 4)
	ctx := context.Background()

	done := make(chan TriggerReport, 1)
	go func() {
		report, err := f.svc.RefreshAndTrigger(ctx)
		assert.NoError(t, err)
		done <- report
	}()
	<-f.gw.started
	require.True(t, f.svc.trigger.InProgress())

	resp, err := f.svc.RunManualBatch(ctx, &ManualBatchRequest{})
	assert.ErrorIs(t, err, domain.ErrBatchInProgress)
	assert.Nil(t, resp)

	close(f.gw.block)
	assert.Equal(t, OutcomeBatched, (<-done).Outcome)
	assert.Len(t, f.gw.calls(), 2, "no duplicate shipments for the same orders")
	assert.Len(t, f.runs.runs, 1)
	assert.NotContains(t, f.notices.kinds(), domain.NoticeManualBatchFailed)
}

func TestRefetchShipmentSurvivesCallerCancel(t *testing.T) {
	f := newServiceFixture()
	f.gw.shipments["S1"] = &domain.Shipment{ID: "S1", Status: "Delivered"}
	f.gw.getGate = make(chan struct{})

	cancelled, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.svc.RefetchShipment(cancelled, "S1")
		first <- err
	}()
	second := make(chan *domain.Shipment, 1)
	go func() {
		s, err := f.svc.RefetchShipment(context.Background(), "S1")
		assert.NoError(t, err)
		second <- s
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(f.gw.getGate)
	s := <-second
	require.NotNil(t, s)
	assert.Equal(t, "Delivered", s.Status)
}

func TestListShipmentsAppliesPagingDefaults(t *testing.T) {
	f := newServiceFixture()
	f.gw.shipments["S1"] = &domain.Shipment{ID: "S1", Status: "Pending"}

	page, err := f.svc.ListShipments(context.Background(), port.ListQuery{Status: "pending"})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, port.ListQuery{Page: 1, Limit: 10, Status: "pending"}, f.gw.listQuery)
}
