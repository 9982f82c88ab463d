package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"tradebroker/internal/api"
	"tradebroker/internal/config"
	"tradebroker/internal/provider"
	"tradebroker/internal/repository"
	"tradebroker/internal/service"
	"tradebroker/pkg/logger"
	"tradebroker/pkg/ratelimit"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer lg.Sync()

	// Инициализация базы данных
	db, err := initDatabase(cfg, lg)
	if err != nil {
		lg.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	lg.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	resultRepo := repository.NewResultRepository(db)

	// Провайдер: логин ограничен по частоте, чтобы не упереться в лимиты login API
	limiter := ratelimit.NewRateLimiter(cfg.Session.EstablishRate, cfg.Session.EstablishRate)
	prov := provider.NewWSProvider(provider.Config{
		WSURL:    cfg.Provider.WSURL,
		APIURL:   cfg.Provider.APIURL,
		BrokerID: cfg.Provider.BrokerID,
		HTTP:     provider.DefaultHTTPClientConfig(),
		Feed:     provider.DefaultFeedConfig(),
	}, limiter, lg.Named("provider"))

	// Инициализация сервисов
	sessionService := service.NewSessionService(prov, service.SessionConfig{
		TTL:              cfg.Session.CacheTTL,
		Size:             cfg.Session.CacheSize,
		EstablishTimeout: cfg.Session.EstablishTimeout,
	}, lg.Named("sessions"))

	settlementService := service.NewSettlementService(resultRepo, service.SettlementConfig{
		Timeout:   cfg.Settlement.Timeout,
		Workers:   cfg.Settlement.PersistWorkers,
		QueueSize: cfg.Settlement.PersistQueue,
	}, lg.Named("settlements"))
	settlementService.Start()

	historyService := service.NewHistoryService(resultRepo, lg.Named("history"))

	router := api.SetupRoutes(&api.Dependencies{
		SessionService:    sessionService,
		SettlementService: settlementService,
		HistoryService:    historyService,
		Logger:            lg,
		CORSOrigins:       cfg.Server.CORSOrigins,
	})

	// WriteTimeout больше дедлайна ожидания закрытия ордера, иначе долгие запросы обрываются
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Settlement.Timeout + cfg.Session.EstablishTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		lg.Info("starting server", zap.String("addr", server.Addr), zap.Bool("https", cfg.Server.UseHTTPS))

		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("shutting down server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Error("server forced to shutdown", zap.Error(err))
	}

	// очередь результатов дописывается до закрытия БД
	if err := drainResults(settlementService, cfg.Server.ShutdownTimeout); err != nil {
		lg.Error("settlement queue not drained", zap.Error(err))
	}

	sessionService.Close()
	prov.Close()

	lg.Info("server exited")
}

// resultQueue - фоновая запись результатов, закрываемая при остановке
type resultQueue interface {
	Close(ctx context.Context) error
}

// drainResults ждёт дописывания очереди со своим таймаутом, отсчитанным
// после остановки HTTP сервера, а не от общего бюджета Shutdown
func drainResults(queue resultQueue, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return queue.Close(ctx)
}

// initDatabase создает подключение к базе данных.
// Postgres в docker-compose поднимается дольше сервиса, поэтому ping повторяется с backoff.
func initDatabase(cfg *config.Config, lg *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}
	notify := func(err error, next time.Duration) {
		lg.Warn("database not ready, retrying", zap.Error(err), zap.Duration("next", next))
	}

	if err := backoff.RetryNotify(ping, b, notify); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
