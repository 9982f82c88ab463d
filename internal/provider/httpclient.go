package provider

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// HTTPClientConfig содержит настройки HTTP клиента для REST API провайдера
type HTTPClientConfig struct {
	ConnectTimeout      time.Duration // таймаут установки TCP соединения
	ReadTimeout         time.Duration // таймаут ожидания заголовков ответа
	TotalTimeout        time.Duration // общий таймаут запроса
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	KeepAliveInterval   time.Duration
}

// DefaultHTTPClientConfig возвращает конфигурацию по умолчанию
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:      5 * time.Second,
		ReadTimeout:         10 * time.Second,
		TotalTimeout:        30 * time.Second,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// HTTPClient - HTTP клиент с пулом соединений для логина у провайдера
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

// NewHTTPClient создаёт HTTP клиент с заданной конфигурацией
func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: config.KeepAliveInterval,
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		TLSHandshakeTimeout: config.TLSHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: config.ReadTimeout,
	}

	return &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.TotalTimeout,
		},
		config: config,
	}
}

// Do выполняет HTTP запрос
func (hc *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	return hc.client.Do(req)
}

// Close закрывает idle соединения; вызывается при graceful shutdown
func (hc *HTTPClient) Close() {
	if transport, ok := hc.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
