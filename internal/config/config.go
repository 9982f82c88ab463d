package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Provider   ProviderConfig
	Session    SessionConfig
	Settlement SettlementConfig
	Logging    LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	UseHTTPS        bool
	CertFile        string
	KeyFile         string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// ProviderConfig - адреса торгового провайдера.
// Все три значения обязательны: без них сервис не может открыть ни одной сессии.
type ProviderConfig struct {
	WSURL    string // WebSocket endpoint фида позиций
	APIURL   string // REST endpoint авторизации
	BrokerID int    // routing identifier брокера
}

// SessionConfig - настройки кэша сессий
type SessionConfig struct {
	CacheTTL         time.Duration // время жизни сессии в кэше
	CacheSize        int           // максимум живых сессий (LRU)
	EstablishTimeout time.Duration // таймаут открытия сессии у провайдера
	EstablishRate    float64       // открытий сессий в секунду (защита login API)
}

// SettlementConfig - настройки ожидания закрытия ордеров
type SettlementConfig struct {
	Timeout        time.Duration // сколько ждать закрытия позиции
	PersistWorkers int           // воркеры фоновой записи результатов
	PersistQueue   int           // размер очереди записи
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// defaultCORSOrigins - dev-серверы фронтенда
var defaultCORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// ErrMissingProvider возвращается, если не заданы адреса провайдера
var ErrMissingProvider = errors.New("provider configuration is missing")

// Load загружает конфигурацию из переменных окружения.
// Файл .env (если есть) подгружается первым, уже заданные переменные он не перекрывает.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 3000),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        getEnvAsBool("USE_HTTPS", false),
			CertFile:        getEnv("CERT_FILE", ""),
			KeyFile:         getEnv("KEY_FILE", ""),
			CORSOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS", defaultCORSOrigins),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "tradebroker"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Provider: ProviderConfig{
			WSURL:    getEnv("PROVIDER_WS_URL", ""),
			APIURL:   getEnv("PROVIDER_API_URL", ""),
			BrokerID: getEnvAsInt("BROKER_ID", 0),
		},
		Session: SessionConfig{
			CacheTTL:         getEnvAsDuration("SESSION_CACHE_TTL", time.Hour),
			CacheSize:        getEnvAsInt("SESSION_CACHE_SIZE", 50),
			EstablishTimeout: getEnvAsDuration("SESSION_ESTABLISH_TIMEOUT", 30*time.Second),
			EstablishRate:    getEnvAsFloat("SESSION_ESTABLISH_RATE", 5),
		},
		Settlement: SettlementConfig{
			Timeout:        getEnvAsDuration("SETTLEMENT_TIMEOUT", 65*time.Second),
			PersistWorkers: getEnvAsInt("PERSIST_WORKERS", 4),
			PersistQueue:   getEnvAsInt("PERSIST_QUEUE_SIZE", 1024),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validateProvider(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateProvider проверяет адреса провайдера
func (c *Config) validateProvider() error {
	if c.Provider.WSURL == "" || c.Provider.APIURL == "" || c.Provider.BrokerID <= 0 {
		return fmt.Errorf("%w: PROVIDER_WS_URL, PROVIDER_API_URL and BROKER_ID are required", ErrMissingProvider)
	}

	ws, err := url.Parse(c.Provider.WSURL)
	if err != nil || (ws.Scheme != "ws" && ws.Scheme != "wss") {
		return fmt.Errorf("PROVIDER_WS_URL must be a ws:// or wss:// URL, got %q", c.Provider.WSURL)
	}

	api, err := url.Parse(c.Provider.APIURL)
	if err != nil || (api.Scheme != "http" && api.Scheme != "https") {
		return fmt.Errorf("PROVIDER_API_URL must be an http:// or https:// URL, got %q", c.Provider.APIURL)
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("CERT_FILE and KEY_FILE are required when USE_HTTPS=true")
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %v", c.Server.ShutdownTimeout)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Session.CacheTTL <= 0 {
		return fmt.Errorf("SESSION_CACHE_TTL must be positive, got %v", c.Session.CacheTTL)
	}

	if c.Session.CacheSize < 1 {
		return fmt.Errorf("SESSION_CACHE_SIZE must be at least 1, got %d", c.Session.CacheSize)
	}

	if c.Session.EstablishTimeout <= 0 {
		return fmt.Errorf("SESSION_ESTABLISH_TIMEOUT must be positive, got %v", c.Session.EstablishTimeout)
	}

	if c.Session.EstablishRate <= 0 {
		return fmt.Errorf("SESSION_ESTABLISH_RATE must be positive, got %v", c.Session.EstablishRate)
	}

	if c.Settlement.Timeout <= 0 {
		return fmt.Errorf("SETTLEMENT_TIMEOUT must be positive, got %v", c.Settlement.Timeout)
	}

	if c.Settlement.PersistWorkers < 1 {
		return fmt.Errorf("PERSIST_WORKERS must be at least 1, got %d", c.Settlement.PersistWorkers)
	}

	if c.Settlement.PersistQueue < 1 {
		return fmt.Errorf("PERSIST_QUEUE_SIZE must be at least 1, got %d", c.Settlement.PersistQueue)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList разбирает список через запятую
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

// getEnvAsDuration понимает как "65s", так и голое число миллисекунд ("65000")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if ms, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
