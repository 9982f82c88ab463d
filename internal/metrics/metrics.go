// Package metrics - Prometheus метрики кэша сессий и ожидания закрытия ордеров
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Кэш сессий ============

// SessionLookups - обращения к кэшу сессий по результату (hit, miss, rotated)
var SessionLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebroker",
		Subsystem: "session",
		Name:      "lookups_total",
		Help:      "Session cache lookups by result",
	},
	[]string{"result"},
)

// SessionEstablishments - открытия сессий у провайдера (success, error)
var SessionEstablishments = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebroker",
		Subsystem: "session",
		Name:      "establishments_total",
		Help:      "Provider session establishments by result",
	},
	[]string{"result"},
)

// SessionEstablishLatency - время открытия сессии в секундах
var SessionEstablishLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "tradebroker",
		Subsystem: "session",
		Name:      "establish_duration_seconds",
		Help:      "Time to establish a provider session",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	},
)

// SessionCacheSize - число живых сессий в кэше
var SessionCacheSize = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradebroker",
		Subsystem: "session",
		Name:      "cache_size",
		Help:      "Number of cached provider sessions",
	},
)

// SessionEvictions - вытеснения из кэша (expired_or_lru, released, rotated)
var SessionEvictions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebroker",
		Subsystem: "session",
		Name:      "evictions_total",
		Help:      "Session cache evictions by reason",
	},
	[]string{"reason"},
)

// ============ Закрытие ордеров ============

// Settlements - завершённые ожидания по итоговому состоянию
var Settlements = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebroker",
		Subsystem: "settlement",
		Name:      "total",
		Help:      "Settlement waits by terminal state",
	},
	[]string{"state"},
)

// SettlementsPending - ожидания в состоянии PENDING
var SettlementsPending = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradebroker",
		Subsystem: "settlement",
		Name:      "pending",
		Help:      "Settlement waits currently pending",
	},
)

// SettlementWait - время от подписки до терминального состояния в секундах
var SettlementWait = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tradebroker",
		Subsystem: "settlement",
		Name:      "wait_seconds",
		Help:      "Time spent waiting for a settlement",
		Buckets:   []float64{1, 5, 15, 30, 45, 60, 65, 90},
	},
	[]string{"state"},
)

// ============ Запись результатов ============

// PersistFailures - ошибки записи результатов (не повторяются)
var PersistFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tradebroker",
		Subsystem: "persist",
		Name:      "failures_total",
		Help:      "Settled records that failed to persist",
	},
)

// PersistQueueOverflow - записи, отброшенные из-за переполненной очереди
var PersistQueueOverflow = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tradebroker",
		Subsystem: "persist",
		Name:      "queue_overflow_total",
		Help:      "Settled records dropped because the persist queue was full",
	},
)

// PersistQueueLength - текущая длина очереди записи
var PersistQueueLength = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradebroker",
		Subsystem: "persist",
		Name:      "queue_length",
		Help:      "Settled records waiting to be persisted",
	},
)

// Результаты обращений к кэшу
const (
	LookupHit     = "hit"
	LookupMiss    = "miss"
	LookupRotated = "rotated"
)

// Причины вытеснения
const (
	EvictExpired  = "expired_or_lru"
	EvictReleased = "released"
	EvictRotated  = "rotated"
)
