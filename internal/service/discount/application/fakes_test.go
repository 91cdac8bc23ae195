package application

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"cafeteria/internal/service/discount/domain"
	"cafeteria/internal/service/discount/port"
)

var errStoreDown = errors.New("store unreachable")

// memoryStore is an in-memory TransactionStore, CafeteriaStore and UserStore.
// Setting a fail* field makes the matching call return errStoreDown.
type memoryStore struct {
	mu sync.Mutex

	users        map[int64]*domain.User
	cafeterias   map[int64]*domain.Cafeteria
	rules        map[int64]*domain.CafeteriaDiscountRule
	statuses     map[int64]*domain.UserDiscountStatus
	transactions []*domain.DiscountTransaction

	failReads         bool
	failWrite         bool
	failSetTagging    bool
	failSetActivation bool
	removed           int
	// onRemove runs inside RemoveTransaction, without the store mutex held.
	onRemove func()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:      map[int64]*domain.User{},
		cafeterias: map[int64]*domain.Cafeteria{},
		rules:      map[int64]*domain.CafeteriaDiscountRule{},
		statuses:   map[int64]*domain.UserDiscountStatus{},
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (m *memoryStore) GetUserDiscountStatus(_ context.Context, userID int64) (*domain.UserDiscountStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads {
		return nil, errStoreDown
	}
	s, ok := m.statuses[userID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memoryStore) GetCafeteriaDiscountRule(_ context.Context, cafeteriaID int64) (*domain.CafeteriaDiscountRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads {
		return nil, errStoreDown
	}
	return m.rules[cafeteriaID], nil
}

func (m *memoryStore) GetTodaysTransactions(_ context.Context, userID int64, now time.Time) ([]*domain.DiscountTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads {
		return nil, errStoreDown
	}
	var out []*domain.DiscountTransaction
	for _, tx := range m.transactions {
		if tx.UserID == userID && sameDay(tx.Timestamp, now) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *memoryStore) WriteTransaction(_ context.Context, tx *domain.DiscountTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errStoreDown
	}
	for _, existing := range m.transactions {
		if existing.UserID == tx.UserID && existing.CafeteriaID == tx.CafeteriaID && sameDay(existing.Timestamp, tx.Timestamp) {
			return errors.Wrap(domain.ErrTransactionExists, "write discount transaction")
		}
	}
	cp := *tx
	cp.ID = int64(len(m.transactions) + 1)
	m.transactions = append(m.transactions, &cp)
	return nil
}

func (m *memoryStore) RemoveTransaction(_ context.Context, tx *domain.DiscountTransaction) error {
	if m.onRemove != nil {
		m.onRemove()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.transactions[:0]
	for _, existing := range m.transactions {
		if existing.UserID == tx.UserID && existing.CafeteriaID == tx.CafeteriaID && sameDay(existing.Timestamp, tx.Timestamp) {
			m.removed++
			continue
		}
		kept = append(kept, existing)
	}
	m.transactions = kept
	return nil
}

func (m *memoryStore) SetLastActivation(_ context.Context, userID int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSetActivation {
		return errStoreDown
	}
	s := m.statusLocked(userID)
	s.LastBarcodeActivation = &now
	return nil
}

func (m *memoryStore) SetLastTagging(_ context.Context, userID int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSetTagging {
		return errStoreDown
	}
	s := m.statusLocked(userID)
	s.LastBarcodeTagging = &now
	return nil
}

func (m *memoryStore) statusLocked(userID int64) *domain.UserDiscountStatus {
	s, ok := m.statuses[userID]
	if !ok {
		s = &domain.UserDiscountStatus{UserID: userID}
		m.statuses[userID] = s
	}
	return s
}

func (m *memoryStore) GetCafeteriaByID(_ context.Context, id int64) (*domain.Cafeteria, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads {
		return nil, errStoreDown
	}
	return m.cafeterias[id], nil
}

func (m *memoryStore) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads {
		return nil, errStoreDown
	}
	return m.users[id], nil
}

func (m *memoryStore) transactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

// fakeRuleEngine evaluates nothing; it returns the configured answer.
type fakeRuleEngine struct {
	result bool
	err    error
	facts  []domain.RuleFact
}

func (f *fakeRuleEngine) Evaluate(_ string, fact domain.RuleFact) (bool, error) {
	f.facts = append(f.facts, fact)
	return f.result, f.err
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []port.DiscountEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event *port.DiscountEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, string(e.Type))
	}
	return out
}

func (p *recordingPublisher) last() port.DiscountEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

func int64Ptr(v int64) *int64 { return &v }

func mealPtr(m domain.MealType) *domain.MealType { return &m }
