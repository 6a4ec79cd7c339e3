package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dispatch/internal/service/dispatch/domain"
	"dispatch/internal/service/dispatch/domain/port"

	"go.opentelemetry.io/otel/trace/noop"
)

var testTracer = noop.NewTracerProvider().Tracer("test")

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func order(id, departure, shipmentID string) domain.Order {
	o := domain.Order{ID: id, ShipmentID: shipmentID, Status: "pending"}
	if departure != "" {
		o.DepartureDate = at(departure)
	}
	return o
}

type fakeGateway struct {
	mu          sync.Mutex
	createCalls [][]string
	failFor     map[string]error
	block       chan struct{}
	started     chan struct{}
	nextID      int

	updates   map[string]domain.StatusUpdate
	bulkCalls [][]string
	getCalls  []string
	getGate   chan struct{}
	listQuery port.ListQuery
	shipments map[string]*domain.Shipment
	updateErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		failFor:   map[string]error{},
		updates:   map[string]domain.StatusUpdate{},
		shipments: map[string]*domain.Shipment{},
	}
}

func (f *fakeGateway) ListShipments(ctx context.Context, q port.ListQuery) (port.Page[domain.Shipment], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listQuery = q
	page := port.Page[domain.Shipment]{TotalPages: 1}
	for _, s := range f.shipments {
		page.Items = append(page.Items, *s)
	}
	return page, nil
}

func (f *fakeGateway) GetShipment(ctx context.Context, id string) (*domain.Shipment, error) {
	if f.getGate != nil {
		<-f.getGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls = append(f.getCalls, id)
	s, ok := f.shipments[id]
	if !ok {
		return nil, domain.ErrShipmentNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeGateway) CreateFromOrders(ctx context.Context, orderIDs []string) (*domain.Shipment, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, append([]string(nil), orderIDs...))
	for _, id := range orderIDs {
		if err, ok := f.failFor[id]; ok {
			return nil, err
		}
	}
	f.nextID++
	return &domain.Shipment{ID: fmt.Sprintf("S%d", f.nextID), OrderIDs: orderIDs}, nil
}

func (f *fakeGateway) UpdateShipment(ctx context.Context, id string, update domain.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates[id] = update
	if s, ok := f.shipments[id]; ok {
		s.Status = update.Status
	}
	return nil
}

func (f *fakeGateway) BulkUpdateStatus(ctx context.Context, ids []string, update domain.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls = append(f.bulkCalls, append([]string(nil), ids...))
	return nil
}

func (f *fakeGateway) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.createCalls...)
}

type fakeCatalog struct {
	mu            sync.Mutex
	pages         map[int][]domain.Order
	totalPages    int
	listErr       error
	statusUpdates map[string]string
}

func (f *fakeCatalog) ListOrders(ctx context.Context, q port.ListQuery) (port.Page[domain.Order], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return port.Page[domain.Order]{}, f.listErr
	}
	return port.Page[domain.Order]{Items: f.pages[q.Page], TotalPages: f.totalPages}, nil
}

func (f *fakeCatalog) UpdateOrderStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusUpdates == nil {
		f.statusUpdates = map[string]string{}
	}
	f.statusUpdates[id] = status
	return nil
}

type fakeStore struct {
	mu      sync.Mutex
	value   string
	loadErr error
	saves   int
}

func (s *fakeStore) Load(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.loadErr
}

func (s *fakeStore) Save(ctx context.Context, sig string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = sig
	s.saves++
	return nil
}

func (s *fakeStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = ""
	return nil
}

func (s *fakeStore) ClearIf(ctx context.Context, expected string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == expected {
		s.value = ""
	}
	return nil
}

func (s *fakeStore) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (r *noticeRecorder) Publish(ctx context.Context, n domain.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return nil
}

func (r *noticeRecorder) kinds() []domain.NoticeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []domain.NoticeKind
	for _, n := range r.notices {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

type heldLock struct{}

func (heldLock) TryAcquire(ctx context.Context) (func(), error) {
	return nil, port.ErrLockHeld
}

type countingLock struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (l *countingLock) TryAcquire(ctx context.Context) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired++
	return func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, nil
}

// interleavingLock 在授予锁之前先让另一个实例跑完一整轮
type interleavingLock struct {
	before func()
}

func (l *interleavingLock) TryAcquire(ctx context.Context) (func(), error) {
	if l.before != nil {
		l.before()
		l.before = nil
	}
	return func() {}, nil
}

type kickCounter struct {
	mu    sync.Mutex
	kicks int
}

func (k *kickCounter) Kick() {
	k.mu.Lock()
	k.kicks++
	k.mu.Unlock()
}

func (k *kickCounter) count() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.kicks
}

type branchFilter string

func (b branchFilter) Match(o *domain.Order) (bool, error) {
	if o.BranchID == "broken" {
		return false, errors.New("rule error")
	}
	return o.BranchID == string(b), nil
}

type memRuns struct {
	mu   sync.Mutex
	runs []*domain.BatchRun
}

func (m *memRuns) Save(ctx context.Context, run *domain.BatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memRuns) ListRecent(ctx context.Context, limit int) ([]*domain.BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.BatchRun(nil), m.runs...), nil
}
