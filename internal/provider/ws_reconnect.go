package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FeedConfig конфигурация WebSocket фида и его переподключения
type FeedConfig struct {
	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка (после exponential backoff)
	MaxDelay time.Duration
	// Максимальное количество попыток (0 = бесконечно)
	MaxRetries int
	// Таймаут подключения и аутентификации
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Таймаут ожидания pong
	PongTimeout time.Duration
}

// DefaultFeedConfig возвращает конфигурацию по умолчанию: 1s, 2s, 4s ... 16s, до 6 попыток
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		InitialDelay:   time.Second,
		MaxDelay:       16 * time.Second,
		MaxRetries:     6,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   20 * time.Second,
		PongTimeout:    10 * time.Second,
	}
}

// FeedState состояние WebSocket соединения
type FeedState int32

const (
	FeedStateDisconnected FeedState = iota
	FeedStateConnecting
	FeedStateConnected
	FeedStateReconnecting
	FeedStateClosed
)

func (s FeedState) String() string {
	switch s {
	case FeedStateDisconnected:
		return "disconnected"
	case FeedStateConnecting:
		return "connecting"
	case FeedStateConnected:
		return "connected"
	case FeedStateReconnecting:
		return "reconnecting"
	case FeedStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var errFeedClosed = errors.New("feed is closed")

// FeedManager держит WebSocket фид одной сессии провайдера.
//
// При разрыве переподключается с exponential backoff, заново проходит
// аутентификацию и восстанавливает подписки. Если попытки исчерпаны,
// вызывает onLost и больше не переподключается.
type FeedManager struct {
	name   string
	wsURL  string
	config FeedConfig
	logger *zap.Logger

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex // gorilla/websocket допускает только одного писателя

	state int32 // atomic FeedState

	ctx    context.Context
	cancel context.CancelFunc

	onMessage  func([]byte)
	onLost     func(error)
	callbackMu sync.RWMutex

	authFunc func(*websocket.Conn) error

	subscriptions   []interface{}
	subscriptionsMu sync.RWMutex
}

// NewFeedManager создаёт менеджер фида. name используется только в логах.
func NewFeedManager(name, wsURL string, config FeedConfig, logger *zap.Logger) *FeedManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &FeedManager{
		name:          name,
		wsURL:         wsURL,
		config:        config,
		logger:        logger.With(zap.String("feed", name)),
		ctx:           ctx,
		cancel:        cancel,
		subscriptions: make([]interface{}, 0),
	}
}

// SetOnMessage устанавливает callback для входящих сообщений
func (m *FeedManager) SetOnMessage(handler func([]byte)) {
	m.callbackMu.Lock()
	m.onMessage = handler
	m.callbackMu.Unlock()
}

// SetOnLost устанавливает callback окончательной потери фида
func (m *FeedManager) SetOnLost(handler func(error)) {
	m.callbackMu.Lock()
	m.onLost = handler
	m.callbackMu.Unlock()
}

// SetAuthFunc устанавливает функцию аутентификации, выполняемую после каждого dial
func (m *FeedManager) SetAuthFunc(authFunc func(*websocket.Conn) error) {
	m.authFunc = authFunc
}

// AddSubscription добавляет подписку, отправляемую после каждого подключения
func (m *FeedManager) AddSubscription(sub interface{}) {
	m.subscriptionsMu.Lock()
	m.subscriptions = append(m.subscriptions, sub)
	m.subscriptionsMu.Unlock()
}

// GetState возвращает текущее состояние соединения
func (m *FeedManager) GetState() FeedState {
	return FeedState(atomic.LoadInt32(&m.state))
}

// IsConnected проверяет, установлено ли соединение
func (m *FeedManager) IsConnected() bool {
	return m.GetState() == FeedStateConnected
}

// Connect устанавливает первое соединение
func (m *FeedManager) Connect(ctx context.Context) error {
	if m.ctx.Err() != nil {
		return errFeedClosed
	}

	atomic.StoreInt32(&m.state, int32(FeedStateConnecting))

	conn, err := m.dial(ctx)
	if err != nil {
		atomic.CompareAndSwapInt32(&m.state, int32(FeedStateConnecting), int32(FeedStateDisconnected))
		return err
	}

	if !atomic.CompareAndSwapInt32(&m.state, int32(FeedStateConnecting), int32(FeedStateConnected)) {
		// Close() успел отработать во время dial
		conn.Close()
		return errFeedClosed
	}

	go m.readPump(conn)
	go m.pingPump(conn)

	m.logger.Info("feed connected", zap.String("url", m.wsURL))

	return nil
}

// dial подключается, аутентифицируется и восстанавливает подписки
func (m *FeedManager) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, m.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial error: %w", err)
	}

	if m.authFunc != nil {
		deadline, _ := ctx.Deadline()
		conn.SetReadDeadline(deadline)
		if err := m.authFunc(conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("auth error: %w", err)
		}
	}

	m.extendReadDeadline(conn)
	conn.SetPongHandler(func(string) error {
		m.extendReadDeadline(conn)
		return nil
	})

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	if err := m.resubscribe(conn); err != nil {
		m.connMu.Lock()
		m.conn = nil
		m.connMu.Unlock()
		conn.Close()
		return nil, err
	}

	return conn, nil
}

func (m *FeedManager) extendReadDeadline(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(m.config.PingInterval + m.config.PongTimeout))
}

// resubscribe отправляет все подписки в новое соединение
func (m *FeedManager) resubscribe(conn *websocket.Conn) error {
	m.subscriptionsMu.RLock()
	subs := make([]interface{}, len(m.subscriptions))
	copy(subs, m.subscriptions)
	m.subscriptionsMu.RUnlock()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	for _, sub := range subs {
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("resubscribe error: %w", err)
		}
	}

	if len(subs) > 0 {
		m.logger.Debug("feed subscriptions sent", zap.Int("count", len(subs)))
	}

	return nil
}

// readPump читает сообщения текущего соединения
func (m *FeedManager) readPump(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}

		m.callbackMu.RLock()
		onMessage := m.onMessage
		m.callbackMu.RUnlock()

		if onMessage != nil {
			onMessage(message)
		}
	}
}

// pingPump отправляет ping, пока соединение актуально
func (m *FeedManager) pingPump(conn *websocket.Conn) {
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if m.currentConn() != conn {
				return
			}

			deadline := time.Now().Add(m.config.PongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				m.logger.Warn("feed ping failed", zap.Error(err))
				m.handleDisconnect(conn, err)
				return
			}
		}
	}
}

func (m *FeedManager) currentConn() *websocket.Conn {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.conn
}

// handleDisconnect обрабатывает разрыв соединения conn.
// Повторные вызовы для того же соединения (readPump и pingPump) игнорируются.
func (m *FeedManager) handleDisconnect(conn *websocket.Conn, err error) {
	if m.ctx.Err() != nil {
		return
	}

	if !atomic.CompareAndSwapInt32(&m.state, int32(FeedStateConnected), int32(FeedStateReconnecting)) {
		return
	}

	m.connMu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.connMu.Unlock()
	conn.Close()

	m.logger.Warn("feed disconnected", zap.Error(err))

	go m.reconnectLoop()
}

// reconnectLoop переподключается с exponential backoff
func (m *FeedManager) reconnectLoop() {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.config.InitialDelay
	policy.MaxInterval = m.config.MaxDelay
	policy.MaxElapsedTime = 0

	var b backoff.BackOff = policy
	if m.config.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(m.config.MaxRetries))
	}

	var conn *websocket.Conn
	attempt := 0
	operation := func() error {
		attempt++
		c, err := m.dial(m.ctx)
		if err != nil {
			if errors.Is(err, ErrInvalidCredentials) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		m.logger.Warn("feed reconnect failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", next),
			zap.Error(err))
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(b, m.ctx), notify)
	if m.ctx.Err() != nil {
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		atomic.StoreInt32(&m.state, int32(FeedStateDisconnected))
		m.logger.Error("feed lost", zap.Int("attempts", attempt), zap.Error(err))

		m.callbackMu.RLock()
		onLost := m.onLost
		m.callbackMu.RUnlock()

		if onLost != nil {
			onLost(err)
		}
		return
	}

	if !atomic.CompareAndSwapInt32(&m.state, int32(FeedStateReconnecting), int32(FeedStateConnected)) {
		conn.Close()
		return
	}

	m.logger.Info("feed reconnected", zap.Int("attempts", attempt))

	go m.readPump(conn)
	go m.pingPump(conn)
}

// Send отправляет сообщение в текущее соединение
func (m *FeedManager) Send(msg interface{}) error {
	if m.GetState() != FeedStateConnected {
		return fmt.Errorf("not connected (state: %s)", m.GetState())
	}

	conn := m.currentConn()
	if conn == nil {
		return fmt.Errorf("no connection")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// Close закрывает соединение и останавливает переподключение
func (m *FeedManager) Close() error {
	if m.ctx.Err() != nil {
		return nil
	}
	m.cancel()

	atomic.StoreInt32(&m.state, int32(FeedStateClosed))

	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.conn != nil {
		m.writeMu.Lock()
		m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		m.writeMu.Unlock()

		err := m.conn.Close()
		m.conn = nil
		return err
	}

	return nil
}
