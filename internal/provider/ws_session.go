package provider

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// wsSession - сессия провайдера поверх WebSocket фида
type wsSession struct {
	login  string
	feed   *FeedManager
	logger *zap.Logger

	mu      sync.Mutex
	subs    map[uint64]*subscription
	nextID  uint64
	retired bool

	done     chan struct{}
	doneOnce sync.Once
	feedOnce sync.Once
}

func newWSSession(login string, logger *zap.Logger) *wsSession {
	return &wsSession{
		login:  login,
		logger: logger,
		subs:   make(map[uint64]*subscription),
		done:   make(chan struct{}),
	}
}

func (s *wsSession) Identity() string {
	return s.login
}

func (s *wsSession) Done() <-chan struct{} {
	return s.done
}

// SubscribePositionUpdates регистрирует handler. Фид уже подписан на
// portfolio.position-changed при подключении, здесь только локальная регистрация.
func (s *wsSession) SubscribePositionUpdates(handler PositionHandler) (Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("nil position handler")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return nil, ErrSessionClosed
	default:
	}

	s.nextID++
	sub := &subscription{
		id:      s.nextID,
		session: s,
		handler: handler,
		errCh:   make(chan error, 1),
	}
	s.subs[sub.id] = sub

	return sub, nil
}

// Close выводит сессию из оборота. Пока есть подписчики, фид продолжает
// доставлять им события; последний Unsubscribe закрывает фид.
func (s *wsSession) Close() error {
	s.mu.Lock()
	s.retired = true
	remaining := len(s.subs)
	s.mu.Unlock()

	if remaining == 0 {
		s.shutdown()
	} else {
		s.logger.Debug("session retired with active subscriptions", zap.Int("subscriptions", remaining))
	}
	return nil
}

func (s *wsSession) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *wsSession) shutdown() {
	s.markDone()
	s.feedOnce.Do(func() {
		if s.feed != nil {
			if err := s.feed.Close(); err != nil {
				s.logger.Debug("feed close error", zap.Error(err))
			}
		}
	})
}

func (s *wsSession) remove(id uint64) {
	s.mu.Lock()
	delete(s.subs, id)
	closeNow := s.retired && len(s.subs) == 0
	s.mu.Unlock()

	if closeNow {
		s.shutdown()
	}
}

func (s *wsSession) snapshot() []*subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	return subs
}

// dispatch разбирает сообщение фида и раздаёт обновление подписчикам.
// Handler'ы вызываются вне lock'а: они могут отписываться прямо из callback.
func (s *wsSession) dispatch(raw []byte) {
	update, ok, err := decodePosition(raw)
	if err != nil {
		s.logger.Debug("undecodable feed message", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	for _, sub := range s.snapshot() {
		sub.deliver(update)
	}
}

// feedLost вызывается, когда фид не удалось восстановить
func (s *wsSession) feedLost(cause error) {
	err := fmt.Errorf("%w: %v", ErrFeedLost, cause)

	// done закрывается под lock'ом: новые подписки после этого момента невозможны
	s.mu.Lock()
	s.markDone()
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fail(err)
	}
	s.shutdown()
}

// subscription - подписка на обновления позиций одной сессии
type subscription struct {
	id      uint64
	session *wsSession
	handler PositionHandler
	errCh   chan error

	once     sync.Once
	inactive atomic.Bool
}

// deliver вызывает handler, если подписка ещё активна.
// Доставка, начавшаяся до Unsubscribe из другой горутины, может завершиться после него.
func (sub *subscription) deliver(update *PositionUpdate) {
	if sub.inactive.Load() {
		return
	}
	sub.handler(update)
}

func (sub *subscription) fail(err error) {
	select {
	case sub.errCh <- err:
	default:
	}
}

func (sub *subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.inactive.Store(true)
		sub.session.remove(sub.id)
	})
}

func (sub *subscription) Err() <-chan error {
	return sub.errCh
}
