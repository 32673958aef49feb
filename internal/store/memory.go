package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"reservation-service/internal/apperrors"
	"reservation-service/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// MemoryStore is an in-process ledger store with the same semantics as Store.
// It backs local runs without DATABASE_URL and the service tests.
type MemoryStore struct {
	mu           sync.Mutex
	now          func() time.Time
	seq          int64
	reservations map[string]models.Reservation
	tasks        map[string]memTask
	transactions map[string]memTx
	properties   map[string]models.Property
	users        map[string]models.User
	processed    map[string]models.ProcessedEvent
	journal      []models.StepRecord
}

type memTask struct {
	seq  int64
	task models.Task
}

type memTx struct {
	seq int64
	tx  models.Transaction
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:          time.Now,
		reservations: make(map[string]models.Reservation),
		tasks:        make(map[string]memTask),
		transactions: make(map[string]memTx),
		properties:   make(map[string]models.Property),
		users:        make(map[string]models.User),
		processed:    make(map[string]models.ProcessedEvent),
	}
}

// SetClock overrides the timestamp source.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) CreateReservation(_ context.Context, r *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := m.reservations[r.ID]; exists {
		return apperrors.Conflict("reservation already exists: %s", r.ID)
	}
	now := m.now()
	r.Version = 1
	r.CreatedAt, r.UpdatedAt = now, now
	m.reservations[r.ID] = *r
	return nil
}

func (m *MemoryStore) FindReservation(_ context.Context, id string) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, apperrors.NotFound("reservation", id)
	}
	return &r, nil
}

func (m *MemoryStore) UpdateReservation(_ context.Context, id string, expectedVersion int64, patch models.ReservationPatch) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, apperrors.NotFound("reservation", id)
	}
	if r.Version != expectedVersion {
		return nil, apperrors.StaleVersion("reservation", id, expectedVersion, r.Version)
	}
	patch.Apply(&r)
	r.Version++
	r.UpdatedAt = m.now()
	m.reservations[id] = r
	return &r, nil
}

func (m *MemoryStore) FindOverlappingReservations(_ context.Context, propertyID string, checkIn, checkOut time.Time, excludeID string, statuses []models.ReservationStatus) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Reservation
	for _, r := range m.reservations {
		if r.PropertyID != propertyID || r.ID == excludeID || !contains(statuses, r.Status) {
			continue
		}
		if !r.CheckIn.After(checkOut) && !r.CheckOut.Before(checkIn) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckIn.Before(out[j].CheckIn) })
	return out, nil
}

func (m *MemoryStore) ListReservationsDueForCompletion(_ context.Context, before time.Time) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Reservation
	for _, r := range m.reservations {
		if r.Status == models.ReservationStatusCheckedIn && !r.CheckOut.After(before) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckOut.Before(out[j].CheckOut) })
	return out, nil
}

func (m *MemoryStore) CreateTask(_ context.Context, t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Tags == nil {
		t.Tags = pq.StringArray{}
	}
	now := m.now()
	t.CreatedAt, t.UpdatedAt = now, now
	m.seq++
	m.tasks[t.ID] = memTask{seq: m.seq, task: *t}
	return nil
}

func (m *MemoryStore) UpdateTask(_ context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.tasks[id]
	if !ok {
		return nil, apperrors.NotFound("task", id)
	}
	patch.Apply(&entry.task)
	entry.task.UpdatedAt = m.now()
	m.tasks[id] = entry
	t := entry.task
	return &t, nil
}

func (m *MemoryStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[id]; !ok {
		return apperrors.NotFound("task", id)
	}
	delete(m.tasks, id)
	return nil
}

func (m *MemoryStore) ListTasks(_ context.Context, filter models.TaskFilter) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []memTask
	for _, e := range m.tasks {
		t := e.task
		if filter.ReservationID != "" && (t.ReservationID == nil || *t.ReservationID != filter.ReservationID) {
			continue
		}
		if len(filter.Types) > 0 && !contains(filter.Types, t.Type) {
			continue
		}
		if len(filter.Statuses) > 0 && !contains(filter.Statuses, t.Status) {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.task.ScheduledDate.Equal(b.task.ScheduledDate) {
			return a.task.ScheduledDate.Before(b.task.ScheduledDate)
		}
		return a.seq < b.seq
	})

	out := make([]models.Task, len(entries))
	for i, e := range entries {
		out[i] = e.task
	}
	return out, nil
}

func (m *MemoryStore) BulkCancelTasks(_ context.Context, reservationID string, fromStatuses []models.TaskStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	now := m.now()
	for id, e := range m.tasks {
		t := e.task
		if t.ReservationID == nil || *t.ReservationID != reservationID || !contains(fromStatuses, t.Status) {
			continue
		}
		e.task.Status = models.TaskStatusCancelled
		e.task.UpdatedAt = now
		m.tasks[id] = e
		n++
	}
	return n, nil
}

func (m *MemoryStore) CreateTransaction(_ context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := m.now()
	tx.CreatedAt, tx.UpdatedAt = now, now
	m.seq++
	m.transactions[tx.ID] = memTx{seq: m.seq, tx: *tx}
	return nil
}

func (m *MemoryStore) FindTransaction(_ context.Context, id string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.transactions[id]
	if !ok {
		return nil, apperrors.NotFound("transaction", id)
	}
	tx := e.tx
	return &tx, nil
}

func (m *MemoryStore) UpdateTransaction(_ context.Context, id string, patch models.TransactionPatch) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.transactions[id]
	if !ok {
		return nil, apperrors.NotFound("transaction", id)
	}
	if patch.ExpectStatus != nil && e.tx.Status != *patch.ExpectStatus {
		return nil, apperrors.InvalidState("transaction %s is %s, expected %s", id, e.tx.Status, *patch.ExpectStatus)
	}
	patch.Apply(&e.tx)
	e.tx.UpdatedAt = m.now()
	m.transactions[id] = e
	tx := e.tx
	return &tx, nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, filter models.TransactionFilter) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.selectTransactions(func(tx models.Transaction) bool {
		if filter.ReservationID != "" && tx.ReservationID != filter.ReservationID {
			return false
		}
		if len(filter.Types) > 0 && !contains(filter.Types, tx.Type) {
			return false
		}
		return len(filter.Statuses) == 0 || contains(filter.Statuses, tx.Status)
	}), nil
}

func (m *MemoryStore) ListPendingPayouts(_ context.Context, olderThan time.Time) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.selectTransactions(func(tx models.Transaction) bool {
		return tx.Type == models.TransactionTypeOwnerPayout &&
			tx.Status == models.TransactionStatusPending &&
			!tx.CreatedAt.After(olderThan)
	}), nil
}

// selectTransactions must be called with m.mu held.
func (m *MemoryStore) selectTransactions(match func(models.Transaction) bool) []models.Transaction {
	var entries []memTx
	for _, e := range m.transactions {
		if match(e.tx) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]models.Transaction, len(entries))
	for i, e := range entries {
		out[i] = e.tx
	}
	return out
}

func (m *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = m.now()
	m.users[u.ID] = *u
	return nil
}

func (m *MemoryStore) FindUser(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	return &u, nil
}

func (m *MemoryStore) CreateProperty(_ context.Context, p *models.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = m.now()
	m.properties[p.ID] = *p
	return nil
}

func (m *MemoryStore) FindProperty(_ context.Context, id string) (*models.Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.properties[id]
	if !ok {
		return nil, apperrors.NotFound("property", id)
	}
	return &p, nil
}

func (m *MemoryStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *MemoryStore) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.processed[eventID]; !ok {
		m.processed[eventID] = models.ProcessedEvent{EventID: eventID, EventType: eventType, ProcessedAt: m.now()}
	}
	return nil
}

func (m *MemoryStore) RecordStep(_ context.Context, rec models.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.journal = append(m.journal, rec)
	return nil
}

func (m *MemoryStore) ListSteps(_ context.Context, executionID string) ([]models.StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.StepRecord
	for _, rec := range m.journal {
		if rec.ExecutionID == executionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func contains[T comparable](values []T, v T) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
