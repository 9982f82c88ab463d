package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tradebroker/internal/metrics"
	"tradebroker/internal/provider"
	"tradebroker/pkg/crypto"
)

// SessionConfig - параметры кэша сессий
type SessionConfig struct {
	TTL              time.Duration
	Size             int
	EstablishTimeout time.Duration
}

// sessionEntry - живая сессия в кэше
type sessionEntry struct {
	session   provider.Session
	digest    string
	createdAt time.Time
	reason    atomic.Value // string, причина удаления для метрик
}

func (e *sessionEntry) alive() bool {
	select {
	case <-e.session.Done():
		return false
	default:
		return true
	}
}

// SessionService - кэш сессий провайдера, по одной на логин.
//
// Открытие сессии дорогое (логин + подключение фида), поэтому:
// - сессии живут в LRU с TTL;
// - параллельные запросы одного логина ждут одно и то же открытие (singleflight);
// - смена пароля заменяет сессию.
//
// Вытесненная сессия не закрывается сразу: она дослуживает активным
// подпискам и закрывает фид после последней отписки.
type SessionService struct {
	provider provider.Provider
	config   SessionConfig
	logger   *zap.Logger

	// mu объединяет поиск в кэше и проверку пароля в один атомарный шаг
	mu      sync.Mutex
	cache   *expirable.LRU[string, *sessionEntry]
	tickets singleflight.Group

	// afterMiss вызывается между промахом кэша и входом в тикет (только тесты)
	afterMiss func()
}

// NewSessionService создает новый экземпляр SessionService
func NewSessionService(p provider.Provider, config SessionConfig, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SessionService{
		provider: p,
		config:   config,
		logger:   logger.Named("session"),
	}
	s.cache = expirable.NewLRU[string, *sessionEntry](config.Size, s.onEvict, config.TTL)
	return s
}

// onEvict вызывается LRU под его внутренним lock'ом: только метрики и асинхронное закрытие.
// Размер кэша пересчитывается в той же горутине, уже вне lock'а LRU.
func (s *SessionService) onEvict(identity string, entry *sessionEntry) {
	reason, _ := entry.reason.Load().(string)
	if reason == "" {
		reason = metrics.EvictExpired
	}
	metrics.SessionEvictions.WithLabelValues(reason).Inc()

	s.logger.Debug("session evicted",
		zap.String("login", identity),
		zap.String("reason", reason),
		zap.Duration("age", time.Since(entry.createdAt)))

	go func() {
		metrics.SessionCacheSize.Set(float64(s.cache.Len()))
		if err := entry.session.Close(); err != nil {
			s.logger.Warn("session close failed", zap.String("login", identity), zap.Error(err))
		}
	}()
}

// AcquireSession возвращает сессию логина, открывая её при необходимости.
//
// Ошибка открытия отдаётся всем ожидающим и не кэшируется.
// Отмена ctx прерывает только ожидание этого вызова, открытие продолжается для остальных.
func (s *SessionService) AcquireSession(ctx context.Context, identity, secret string) (provider.Session, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" || secret == "" {
		return nil, errors.Join(ErrInvalidArgument, errors.New("login and password are required"))
	}

	digest := crypto.DigestSecret(secret)
	session, result := s.lookup(identity, digest)
	metrics.SessionLookups.WithLabelValues(result).Inc()
	if result == metrics.LookupHit {
		return session, nil
	}

	if s.afterMiss != nil {
		s.afterMiss()
	}

	// Тикет общий на логин: вызов с другим паролем, пришедший во время открытия,
	// получает открываемую сессию. Смена пароля заметна на следующем lookup.
	ch := s.tickets.DoChan(identity, func() (interface{}, error) {
		// тикет мог завершиться между промахом и DoChan: сессия уже в кэше
		if session, result := s.lookup(identity, digest); result == metrics.LookupHit {
			return session, nil
		}
		return s.establish(ctx, identity, secret, digest)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debug("joined in-flight establishment", zap.String("login", identity))
		}
		return res.Val.(provider.Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookup - поиск в кэше. Несовпадение пароля или мёртвая сессия удаляют запись.
// Возвращает метку результата для метрик: hit, miss или rotated.
func (s *SessionService) lookup(identity, digest string) (provider.Session, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache.Get(identity)
	if !ok {
		return nil, metrics.LookupMiss
	}

	if !crypto.DigestsEqual(entry.digest, digest) {
		entry.reason.Store(metrics.EvictRotated)
		s.cache.Remove(identity)
		s.logger.Info("credentials changed, replacing session", zap.String("login", identity))
		return nil, metrics.LookupRotated
	}

	if !entry.alive() {
		s.cache.Remove(identity)
		return nil, metrics.LookupMiss
	}

	return entry.session, metrics.LookupHit
}

// establish выполняется владельцем тикета. Контекст отвязан от отмены вызвавшего:
// открытие нужно всем, кто ждёт этот тикет.
func (s *SessionService) establish(ctx context.Context, identity, secret, digest string) (provider.Session, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.EstablishTimeout)
	defer cancel()

	start := time.Now()
	session, err := s.provider.Establish(ctx, identity, secret)
	metrics.SessionEstablishLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.SessionEstablishments.WithLabelValues("error").Inc()
		s.logger.Warn("session establishment failed", zap.String("login", identity), zap.Error(err))
		return nil, errors.Join(ErrUpstreamFailure, err)
	}
	metrics.SessionEstablishments.WithLabelValues("success").Inc()

	entry := &sessionEntry{
		session:   session,
		digest:    digest,
		createdAt: time.Now(),
	}

	s.mu.Lock()
	// Add не вызывает onEvict при замене ключа, поэтому старую запись удаляем явно
	if old, ok := s.cache.Peek(identity); ok {
		old.reason.Store(metrics.EvictRotated)
	}
	s.cache.Remove(identity)
	s.cache.Add(identity, entry)
	size := s.cache.Len()
	s.mu.Unlock()

	metrics.SessionCacheSize.Set(float64(size))
	s.logger.Info("session established",
		zap.String("login", identity),
		zap.Duration("took", time.Since(start)))

	return session, nil
}

// ReleaseSession удаляет сессию из кэша. Возвращает false, если живой сессии не было.
// Открытие, идущее в этот момент, не отменяется.
func (s *SessionService) ReleaseSession(identity string) bool {
	identity = strings.TrimSpace(identity)

	s.mu.Lock()
	entry, live := s.cache.Get(identity)
	if live {
		entry.reason.Store(metrics.EvictReleased)
	}
	// просроченная, но ещё не вычищенная запись тоже удаляется
	s.cache.Remove(identity)
	size := s.cache.Len()
	s.mu.Unlock()

	metrics.SessionCacheSize.Set(float64(size))
	if live {
		s.logger.Info("session released", zap.String("login", identity))
	}
	return live
}

// Len возвращает число сессий в кэше
func (s *SessionService) Len() int {
	return s.cache.Len()
}

// Close выводит из оборота все сессии (graceful shutdown)
func (s *SessionService) Close() {
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()

	metrics.SessionCacheSize.Set(0)
}
