package provider

import (
	"context"

	"go.uber.org/zap"

	"tradebroker/pkg/ratelimit"
)

// Config - параметры подключения к провайдеру
type Config struct {
	WSURL    string
	APIURL   string
	BrokerID int
	HTTP     HTTPClientConfig
	Feed     FeedConfig
}

// WSProvider открывает сессии: REST логин и WebSocket фид позиций
type WSProvider struct {
	config  Config
	http    *HTTPClient
	limiter *ratelimit.RateLimiter
	logger  *zap.Logger
}

// NewWSProvider создаёт провайдер. limiter может быть nil - тогда открытия не ограничиваются.
func NewWSProvider(config Config, limiter *ratelimit.RateLimiter, logger *zap.Logger) *WSProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSProvider{
		config:  config,
		http:    NewHTTPClient(config.HTTP),
		limiter: limiter,
		logger:  logger,
	}
}

// Establish выполняет логин и подключает фид позиций
func (p *WSProvider) Establish(ctx context.Context, login, password string) (Session, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ssid, err := p.login(ctx, login, password)
	if err != nil {
		return nil, err
	}

	logger := p.logger.With(zap.String("login", login))
	session := newWSSession(login, logger)

	feed := NewFeedManager(login, p.config.WSURL, p.config.Feed, logger)
	feed.SetAuthFunc(p.authenticator(ssid))
	feed.SetOnMessage(session.dispatch)
	feed.SetOnLost(session.feedLost)
	feed.AddSubscription(newPositionSubscription())
	session.feed = feed

	if err := feed.Connect(ctx); err != nil {
		feed.Close()
		return nil, &ProviderError{Op: "connect", Message: "position feed unavailable", Original: err}
	}

	logger.Info("provider session established")
	return session, nil
}

// Close освобождает HTTP соединения
func (p *WSProvider) Close() {
	p.http.Close()
}
