package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradebroker/internal/metrics"
	"tradebroker/internal/models"
	"tradebroker/internal/provider"
	"tradebroker/internal/repository"
)

// persistTimeout ограничивает одну запись результата
const persistTimeout = 10 * time.Second

// SettlementConfig - параметры ожидания закрытия ордеров
type SettlementConfig struct {
	Timeout   time.Duration // общий для процесса дедлайн ожидания
	Workers   int           // воркеры фоновой записи
	QueueSize int           // ёмкость очереди записи
}

// SettlementRequest - запрос на ожидание закрытия ордера
type SettlementRequest struct {
	Session       provider.Session
	OrderID       string // числовой id, приходит строкой
	CorrelationID string // пусто - запись без группы
	Namespace     string
}

// SettlementService ждёт закрытия ордеров в фиде позиций сессии и сохраняет результат.
//
// Каждое ожидание завершается ровно один раз: RESOLVED, TIMED_OUT или FAILED.
// Запись результата фоновая: ошибка записи логируется и не влияет на ответ.
type SettlementService struct {
	repo   ResultRepositoryInterface
	config SettlementConfig
	logger *zap.Logger

	queue     chan *models.SettledRecord
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
	mu        sync.RWMutex // защищает closed и отправку в queue
	closed    bool
}

// NewSettlementService создает сервис. Воркеры записи запускает Start.
func NewSettlementService(repo ResultRepositoryInterface, config SettlementConfig, logger *zap.Logger) *SettlementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}
	return &SettlementService{
		repo:   repo,
		config: config,
		logger: logger.Named("settlement"),
		queue:  make(chan *models.SettledRecord, config.QueueSize),
	}
}

// settlementWaiter - состояние одного ожидания. Переход из PENDING выигрывает
// ровно один источник: событие фида, таймер, ошибка подписки или отмена.
type settlementWaiter struct {
	orderID int64

	mu       sync.Mutex
	state    string
	update   *provider.PositionUpdate
	resolved chan struct{}
}

func newSettlementWaiter(orderID int64) *settlementWaiter {
	return &settlementWaiter{
		orderID:  orderID,
		state:    models.SettlementPending,
		resolved: make(chan struct{}),
	}
}

// transition переводит ожидание в терминальное состояние; false - уже завершено
func (w *settlementWaiter) transition(to string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !CanTransition(w.state, to) {
		return false
	}
	w.state = to
	return true
}

func (w *settlementWaiter) currentState() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// matches - закрытая digital-опционная позиция, содержащая ордер
func (w *settlementWaiter) matches(u *provider.PositionUpdate) bool {
	return u.InstrumentType == provider.InstrumentDigitalOption &&
		u.Status == provider.PositionStatusClosed &&
		u.HasOrder(w.orderID)
}

// onUpdate вызывается горутиной чтения фида. Совпадения после завершения игнорируются.
func (w *settlementWaiter) onUpdate(u *provider.PositionUpdate) {
	if !w.matches(u) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !CanTransition(w.state, models.SettlementResolved) {
		return
	}
	w.state = models.SettlementResolved
	w.update = u
	close(w.resolved)
}

// ParseOrderID разбирает числовой id ордера
func ParseOrderID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Join(ErrInvalidArgument, fmt.Errorf("order id %q is not a valid positive integer", raw))
	}
	return id, nil
}

// AwaitSettlement подписывается на фид сессии и ждёт закрытия ордера.
//
// Возвращает ErrInvalidArgument до подписки, ErrSettlementTimeout по дедлайну,
// ErrUpstreamFailure при ошибке подписки или фида, ошибку ctx при отмене.
func (s *SettlementService) AwaitSettlement(ctx context.Context, req SettlementRequest) (*models.SettledRecord, error) {
	orderID, err := ParseOrderID(req.OrderID)
	if err != nil {
		return nil, err
	}
	if !repository.ValidNamespace(req.Namespace) {
		return nil, errors.Join(ErrInvalidArgument, fmt.Errorf("invalid collection %q", req.Namespace))
	}
	if req.Session == nil {
		return nil, errors.Join(ErrInvalidArgument, errors.New("session is required"))
	}

	logger := s.logger.With(
		zap.Int64("order_id", orderID),
		zap.String("login", req.Session.Identity()),
		zap.String("collection", req.Namespace))

	waiter := newSettlementWaiter(orderID)
	sub, err := req.Session.SubscribePositionUpdates(waiter.onUpdate)
	if err != nil {
		logger.Warn("position subscription failed", zap.Error(err))
		s.observe(models.SettlementFailed, 0)
		return nil, errors.Join(ErrUpstreamFailure, err)
	}

	start := time.Now()
	timer := time.NewTimer(s.config.Timeout)
	metrics.SettlementsPending.Inc()

	// таймер и подписка всегда снимаются вместе, повторный вызов безопасен
	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			timer.Stop()
			sub.Unsubscribe()
			metrics.SettlementsPending.Dec()
		})
	}
	defer cleanup()

	logger.Debug("waiting for settlement", zap.Duration("timeout", s.config.Timeout))

	var failure error
	select {
	case <-waiter.resolved:
	case <-timer.C:
		if waiter.transition(models.SettlementTimedOut) {
			failure = fmt.Errorf("%w: order %d not closed within %v", ErrSettlementTimeout, orderID, s.config.Timeout)
		}
	case subErr := <-sub.Err():
		if waiter.transition(models.SettlementFailed) {
			failure = errors.Join(ErrUpstreamFailure, subErr)
		}
	case <-ctx.Done():
		if waiter.transition(models.SettlementFailed) {
			failure = ctx.Err()
		}
	}
	cleanup()

	state := waiter.currentState()
	s.observe(state, time.Since(start))

	if failure != nil {
		logger.Info("settlement not resolved", zap.String("state", state), zap.Error(failure))
		return nil, failure
	}

	// сюда попадаем и при проигранной таймером гонке: событие уже в waiter.update
	<-waiter.resolved
	record := &models.SettledRecord{
		Namespace:     req.Namespace,
		CorrelationID: strings.TrimSpace(req.CorrelationID),
		OrderID:       orderID,
		Owner:         req.Session.Identity(),
		Payload:       NormalizePosition(waiter.update),
	}

	logger.Info("order settled",
		zap.Float64("pnl", record.Payload.Pnl),
		zap.Float64("invest", record.Payload.Invest),
		zap.Duration("waited", time.Since(start)))

	persisted := *record
	s.enqueue(&persisted)

	return record, nil
}

func (s *SettlementService) observe(state string, waited time.Duration) {
	metrics.Settlements.WithLabelValues(state).Inc()
	if waited > 0 {
		metrics.SettlementWait.WithLabelValues(state).Observe(waited.Seconds())
	}
}

// NormalizePosition приводит позицию фида к сохраняемому виду (времена в UTC)
func NormalizePosition(u *provider.PositionUpdate) models.SettlementPayload {
	payload := models.SettlementPayload{
		ActiveID:       u.ActiveID,
		CloseQuote:     u.CloseQuote,
		CurrentQuote:   u.CurrentQuote,
		CloseTime:      utc(u.CloseTime),
		Invest:         u.Invest,
		OpenQuote:      u.OpenQuote,
		OpenTime:       utc(u.OpenTime),
		Pnl:            u.Pnl,
		Status:         u.Status,
		ExpirationTime: utc(u.ExpirationTime),
		Direction:      u.Direction,
	}
	if u.Active != nil {
		payload.Active = &models.Active{ID: u.Active.ID, Name: u.Active.Name, IsOtc: u.Active.IsOtc}
	}
	return payload
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// ============ Фоновая запись ============

// Start запускает воркеры записи результатов
func (s *SettlementService) Start() {
	s.startOnce.Do(func() {
		for i := 0; i < s.config.Workers; i++ {
			s.wg.Add(1)
			go s.persistWorker(i)
		}
		s.logger.Info("persist workers started", zap.Int("workers", s.config.Workers))
	})
}

func (s *SettlementService) persistWorker(id int) {
	defer s.wg.Done()

	for record := range s.queue {
		metrics.PersistQueueLength.Set(float64(len(s.queue)))
		s.persist(record)
	}
	s.logger.Debug("persist worker stopped", zap.Int("worker", id))
}

// persist записывает результат один раз, без повторов
func (s *SettlementService) persist(record *models.SettledRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.repo.Append(ctx, record.Namespace, record); err != nil {
		metrics.PersistFailures.Inc()
		s.logger.Error("settled record not persisted",
			zap.Int64("order_id", record.OrderID),
			zap.String("collection", record.Namespace),
			zap.Error(errors.Join(ErrPersistenceFailure, err)))
		return
	}

	s.logger.Debug("settled record persisted",
		zap.Int64("order_id", record.OrderID),
		zap.Int64("id", record.ID))
}

// enqueue ставит запись в очередь, не блокируясь. При переполнении запись теряется.
func (s *SettlementService) enqueue(record *models.SettledRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		metrics.PersistFailures.Inc()
		s.logger.Error("persist queue closed, record dropped", zap.Int64("order_id", record.OrderID))
		return
	}

	select {
	case s.queue <- record:
		metrics.PersistQueueLength.Set(float64(len(s.queue)))
	default:
		metrics.PersistQueueOverflow.Inc()
		s.logger.Error("persist queue full, record dropped",
			zap.Int64("order_id", record.OrderID),
			zap.Int("capacity", cap(s.queue)))
	}
}

// Close закрывает очередь и ждёт, пока воркеры допишут её остаток
func (s *SettlementService) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
