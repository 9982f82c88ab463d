package handlers

import (
	"context"
	"sync"

	"tradebroker/internal/models"
	"tradebroker/internal/provider"
	"tradebroker/internal/service"
)

// ============ Mock Session ============

type mockSession struct {
	login string
}

func (m *mockSession) Identity() string { return m.login }

func (m *mockSession) SubscribePositionUpdates(provider.PositionHandler) (provider.Subscription, error) {
	return nil, provider.ErrSessionClosed
}

func (m *mockSession) Done() <-chan struct{} { return nil }

func (m *mockSession) Close() error { return nil }

// ============ Mock SessionService ============

type MockSessionService struct {
	mu         sync.Mutex
	acquireErr error
	acquired   []string
	live       map[string]bool
}

func NewMockSessionService() *MockSessionService {
	return &MockSessionService{live: make(map[string]bool)}
}

func (m *MockSessionService) AcquireSession(ctx context.Context, identity, secret string) (provider.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.acquired = append(m.acquired, identity)
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	m.live[identity] = true
	return &mockSession{login: identity}, nil
}

func (m *MockSessionService) ReleaseSession(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.live[identity] {
		return false
	}
	delete(m.live, identity)
	return true
}

// ============ Mock SettlementService ============

type MockSettlementService struct {
	record  *models.SettledRecord
	err     error
	lastReq service.SettlementRequest
	calls   int
}

func (m *MockSettlementService) AwaitSettlement(ctx context.Context, req service.SettlementRequest) (*models.SettledRecord, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.record, nil
}

// ============ Mock HistoryService ============

type MockHistoryService struct {
	groups    []*models.AggregateGroup
	stats     *models.GlobalStatistics
	err       error
	lastOwner string
}

func (m *MockHistoryService) History(ctx context.Context, namespace, owner string) ([]*models.AggregateGroup, error) {
	m.lastOwner = owner
	if m.err != nil {
		return nil, m.err
	}
	return m.groups, nil
}

func (m *MockHistoryService) GlobalStatistics(ctx context.Context, namespace string) (*models.GlobalStatistics, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stats, nil
}
