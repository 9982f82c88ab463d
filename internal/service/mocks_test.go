package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"tradebroker/internal/models"
	"tradebroker/internal/provider"
	"tradebroker/internal/repository"
)

// ============ Mock Provider ============

type MockProvider struct {
	calls int32

	mu       sync.Mutex
	gate     chan struct{} // если задан, Establish ждёт его закрытия
	failures []error       // ошибки для первых вызовов
	sessions []*MockSession
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (m *MockProvider) Establish(ctx context.Context, login, password string) (provider.Session, error) {
	n := atomic.AddInt32(&m.calls, 1)

	m.mu.Lock()
	gate := m.gate
	var failure error
	if int(n) <= len(m.failures) {
		failure = m.failures[n-1]
	}
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if failure != nil {
		return nil, failure
	}

	session := NewMockSession(login)
	session.password = password

	m.mu.Lock()
	m.sessions = append(m.sessions, session)
	m.mu.Unlock()

	return session, nil
}

func (m *MockProvider) Calls() int {
	return int(atomic.LoadInt32(&m.calls))
}

func (m *MockProvider) Block() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
	return m.gate
}

func (m *MockProvider) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// ============ Mock Session ============

type MockSession struct {
	login    string
	password string

	mu             sync.Mutex
	subs           map[int]*MockSubscription
	nextID         int
	subscribeCalls int
	subscribeErr   error

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func NewMockSession(login string) *MockSession {
	return &MockSession{
		login: login,
		subs:  make(map[int]*MockSubscription),
		done:  make(chan struct{}),
	}
}

func (m *MockSession) Identity() string { return m.login }

func (m *MockSession) Done() <-chan struct{} { return m.done }

func (m *MockSession) SubscribePositionUpdates(handler provider.PositionHandler) (provider.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribeCalls++
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}

	m.nextID++
	sub := &MockSubscription{
		id:      m.nextID,
		session: m,
		handler: handler,
		errCh:   make(chan error, 1),
	}
	m.subs[sub.id] = sub
	return sub, nil
}

func (m *MockSession) Close() error {
	m.closed.Store(true)
	return nil
}

// Kill имитирует окончательную потерю фида
func (m *MockSession) Kill() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *MockSession) IsClosed() bool { return m.closed.Load() }

func (m *MockSession) SubscribeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribeCalls
}

func (m *MockSession) ActiveSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Emit синхронно доставляет обновление активным подпискам; возвращает число доставок
func (m *MockSession) Emit(update *provider.PositionUpdate) int {
	m.mu.Lock()
	subs := make([]*MockSubscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.handler(update)
	}
	return len(subs)
}

// FailSubscriptions отдаёт ошибку всем активным подпискам
func (m *MockSession) FailSubscriptions(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		s.errCh <- err
	}
}

type MockSubscription struct {
	id      int
	session *MockSession
	handler provider.PositionHandler
	errCh   chan error

	unsubscribed atomic.Int32
}

func (s *MockSubscription) Unsubscribe() {
	s.unsubscribed.Add(1)
	s.session.mu.Lock()
	delete(s.session.subs, s.id)
	s.session.mu.Unlock()
}

func (s *MockSubscription) Err() <-chan error { return s.errCh }

// ============ Mock ResultRepository ============

type MockResultRepository struct {
	mu        sync.Mutex
	records   map[string][]*models.SettledRecord
	nextID    int64
	appendErr error
	queryErr  error
	appended  chan *models.SettledRecord

	lastOwner string
	queries   []string
}

func NewMockResultRepository() *MockResultRepository {
	return &MockResultRepository{
		records:  make(map[string][]*models.SettledRecord),
		appended: make(chan *models.SettledRecord, 100),
	}
}

func (m *MockResultRepository) Append(ctx context.Context, namespace string, record *models.SettledRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.appendErr != nil {
		m.appended <- nil
		return m.appendErr
	}

	m.nextID++
	record.ID = m.nextID
	m.records[namespace] = append(m.records[namespace], record)
	m.appended <- record
	return nil
}

func (m *MockResultRepository) QueryByOwner(ctx context.Context, namespace, owner string) ([]*models.SettledRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, "owner")
	m.lastOwner = owner
	if m.queryErr != nil {
		return nil, m.queryErr
	}

	records, ok := m.records[namespace]
	if !ok {
		return nil, repository.ErrNamespaceNotFound
	}
	var result []*models.SettledRecord
	for _, r := range records {
		if r.Owner == owner {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *MockResultRepository) QueryAll(ctx context.Context, namespace string) ([]*models.SettledRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, "all")
	if m.queryErr != nil {
		return nil, m.queryErr
	}

	records, ok := m.records[namespace]
	if !ok {
		return nil, repository.ErrNamespaceNotFound
	}
	return append([]*models.SettledRecord(nil), records...), nil
}

func (m *MockResultRepository) Count(namespace string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[namespace])
}

func (m *MockResultRepository) Seed(namespace string, records ...*models.SettledRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[namespace] = append(m.records[namespace], records...)
}

var errProviderDown = errors.New("provider is down")
