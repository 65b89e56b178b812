// Package ledgertest provides in-process ledger backends for tests and
// local tooling.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aifitworld/aifitworld-api/internal/domain/ledger"
)

// Store is an in-process ledger.Store. The user lock is a per-user mutex;
// appends of one WithUserLock call are staged and published together, after
// the unique constraints are checked.
type Store struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*memUser
	// committed entries in commit order
	entries  []ledger.Transaction
	byRef    map[string]int
	byKey    map[string]int // user_id + "/" + key
	byRefund map[uuid.UUID]int
	clock    time.Time

	failMu    sync.Mutex
	failures  []error
	afterSum  func(userID uuid.UUID)
}

var _ ledger.Store = (*Store)(nil)

type memUser struct {
	lock   sync.Mutex
	cached int64
}

func NewStore() *Store {
	return &Store{
		users:    make(map[uuid.UUID]*memUser),
		byRef:    make(map[string]int),
		byKey:    make(map[string]int),
		byRefund: make(map[uuid.UUID]int),
		clock:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// AddUser registers a new user with a zero counter and returns its id.
func (m *Store) AddUser() uuid.UUID {
	id := uuid.New()
	m.mu.Lock()
	m.users[id] = &memUser{}
	m.mu.Unlock()
	return id
}

// SetCounter overwrites the cached counter, simulating drift.
func (m *Store) SetCounter(userID uuid.UUID, v int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.cached = v
	}
}

// Counter returns the cached counter.
func (m *Store) Counter(userID uuid.UUID) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[userID]; ok {
		return u.cached
	}
	return 0
}

// FailNext makes the next store calls return the given errors, in order.
func (m *Store) FailNext(errs ...error) {
	m.failMu.Lock()
	m.failures = append(m.failures, errs...)
	m.failMu.Unlock()
}

// Count returns the number of committed entries for the user.
func (m *Store) Count(userID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if e.UserID == userID {
			n++
		}
	}
	return n
}

// AfterSum runs fn once Sum has read its total and before it returns, so
// a test can commit a change the caller has not seen.
func (m *Store) AfterSum(fn func(userID uuid.UUID)) {
	m.failMu.Lock()
	m.afterSum = fn
	m.failMu.Unlock()
}

func (m *Store) injected() error {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return err
}

func (m *Store) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(tx ledger.StoreTx) error) error {
	if err := m.injected(); err != nil {
		return err
	}
	m.mu.RLock()
	u, ok := m.users[userID]
	m.mu.RUnlock()
	if !ok {
		return ledger.ErrUserNotFound
	}

	u.lock.Lock()
	defer u.lock.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: lock user: %w", ledger.ErrPersistence, err)
	}

	m.mu.RLock()
	tx := &memTx{store: m, userID: userID, cached: u.cached}
	m.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(u, tx)
}

func (m *Store) commit(u *memUser, tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range tx.staged {
		if e.ExternalRef != nil {
			if _, dup := m.byRef[*e.ExternalRef]; dup {
				return ledger.ErrDuplicate
			}
		}
		if e.IdempotencyKey != nil {
			if _, dup := m.byKey[e.UserID.String()+"/"+*e.IdempotencyKey]; dup {
				return ledger.ErrDuplicate
			}
		}
		if e.RefundOf.Valid {
			if _, dup := m.byRefund[e.RefundOf.UUID]; dup {
				return ledger.ErrDuplicate
			}
		}
	}

	for _, e := range tx.staged {
		m.clock = m.clock.Add(time.Millisecond)
		e.CreatedAt = m.clock
		idx := len(m.entries)
		m.entries = append(m.entries, e)
		if e.ExternalRef != nil {
			m.byRef[*e.ExternalRef] = idx
		}
		if e.IdempotencyKey != nil {
			m.byKey[e.UserID.String()+"/"+*e.IdempotencyKey] = idx
		}
		if e.RefundOf.Valid {
			m.byRefund[e.RefundOf.UUID] = idx
		}
	}
	u.cached = tx.cached
	return nil
}

func (m *Store) Sum(ctx context.Context, userID uuid.UUID) (int64, error) {
	if err := m.injected(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	sum := m.sumLocked(userID)
	m.mu.RUnlock()

	m.failMu.Lock()
	hook := m.afterSum
	m.failMu.Unlock()
	if hook != nil {
		hook(userID)
	}
	return sum, nil
}

func (m *Store) sumLocked(userID uuid.UUID) int64 {
	var sum int64
	for _, e := range m.entries {
		if e.UserID == userID {
			sum += e.Amount
		}
	}
	return sum
}

func (m *Store) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]ledger.Transaction, error) {
	if err := m.injected(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := []ledger.Transaction{}
	skipped := 0
	for i := len(m.entries) - 1; i >= 0 && len(items) < limit; i-- {
		if m.entries[i].UserID != userID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		items = append(items, m.entries[i])
	}
	return items, nil
}

func (m *Store) FindByExternalRef(ctx context.Context, externalRef string) (*ledger.Transaction, error) {
	if err := m.injected(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx, ok := m.byRef[externalRef]; ok {
		e := m.entries[idx]
		return &e, nil
	}
	return nil, nil
}

func (m *Store) UserIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	if err := m.injected(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.users))
	for id := range m.users {
		if id.String() > after.String() {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type memTx struct {
	store  *Store
	userID uuid.UUID
	cached int64
	staged []ledger.Transaction
}

func (t *memTx) Sum(ctx context.Context) (int64, error) {
	t.store.mu.RLock()
	sum := t.store.sumLocked(t.userID)
	t.store.mu.RUnlock()
	for _, e := range t.staged {
		sum += e.Amount
	}
	return sum, nil
}

func (t *memTx) CachedBalance() int64 { return t.cached }

func (t *memTx) SetCachedBalance(ctx context.Context, balance int64) error {
	t.cached = balance
	return nil
}

func (t *memTx) find(match func(e *ledger.Transaction) bool) *ledger.Transaction {
	for i := range t.staged {
		if match(&t.staged[i]) {
			e := t.staged[i]
			return &e
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for i := range t.store.entries {
		if match(&t.store.entries[i]) {
			e := t.store.entries[i]
			return &e
		}
	}
	return nil
}

func (t *memTx) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	return t.find(func(e *ledger.Transaction) bool { return e.UserID == t.userID && e.ID == id }), nil
}

func (t *memTx) FindByExternalRef(ctx context.Context, externalRef string) (*ledger.Transaction, error) {
	return t.find(func(e *ledger.Transaction) bool { return e.ExternalRef != nil && *e.ExternalRef == externalRef }), nil
}

func (t *memTx) FindByIdempotencyKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	return t.find(func(e *ledger.Transaction) bool {
		return e.UserID == t.userID && e.IdempotencyKey != nil && *e.IdempotencyKey == key
	}), nil
}

func (t *memTx) FindRefundOf(ctx context.Context, spendID uuid.UUID) (*ledger.Transaction, error) {
	return t.find(func(e *ledger.Transaction) bool { return e.RefundOf.Valid && e.RefundOf.UUID == spendID }), nil
}

func (t *memTx) Append(ctx context.Context, e *ledger.Transaction) error {
	if e.UserID != t.userID {
		return ledger.ErrInvalidEntry
	}
	t.staged = append(t.staged, *e)
	t.cached += e.Amount
	return nil
}
