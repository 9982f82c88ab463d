package models

import (
	"strconv"
	"time"
)

// NoCorrelationID - ключ группы для записей без correlation id
const NoCorrelationID = "no-unique-id"

// Состояния ожидания закрытия ордера
const (
	SettlementPending  = "PENDING"
	SettlementResolved = "RESOLVED"
	SettlementTimedOut = "TIMED_OUT"
	SettlementFailed   = "FAILED"
)

// Active - торговый инструмент в нормализованной записи
type Active struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	IsOtc bool   `json:"isOtc"`
}

// SettlementPayload - нормализованная закрытая позиция.
// Все времена - абсолютные моменты в UTC.
type SettlementPayload struct {
	ActiveID       int        `json:"activeId"`
	CloseQuote     *float64   `json:"closeQuote,omitempty"`
	CurrentQuote   float64    `json:"currentQuote"`
	CloseTime      *time.Time `json:"closeTime,omitempty"`
	Invest         float64    `json:"invest"`
	OpenQuote      float64    `json:"openQuote"`
	OpenTime       *time.Time `json:"openTime,omitempty"`
	Pnl            float64    `json:"pnl"`
	Status         string     `json:"status"`
	ExpirationTime *time.Time `json:"expirationTime,omitempty"`
	Direction      string     `json:"direction"`
	Active         *Active    `json:"active,omitempty"`
}

// SettledRecord - результат закрытия ордера (append-only)
type SettledRecord struct {
	ID            int64             `json:"id" db:"id"`
	Namespace     string            `json:"collection" db:"-"`
	CorrelationID string            `json:"unique_id,omitempty" db:"unique_id"`
	OrderID       int64             `json:"order_id" db:"order_id"`
	Owner         string            `json:"login" db:"owner"`
	Payload       SettlementPayload `json:"payload" db:"payload"` // JSONB в БД
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// AssetKey возвращает ключ инструмента для статистики ("id-name").
// ok=false, если в записи нет описания инструмента.
func (r *SettledRecord) AssetKey() (key string, ok bool) {
	if r.Payload.Active == nil {
		return "", false
	}
	return strconv.Itoa(r.Payload.Active.ID) + "-" + r.Payload.Active.Name, true
}

// GroupStep - член группы с позицией в серии (0, 1, ...)
type GroupStep struct {
	Step    int               `json:"step"`
	ID      int64             `json:"id"`
	OrderID int64             `json:"order_id"`
	Payload SettlementPayload `json:"payload"`
}

// AggregateGroup - записи одного correlation id, свёрнутые в одну.
// Описательные поля берутся у первого члена, pnl и invest суммируются.
type AggregateGroup struct {
	CorrelationID string            `json:"unique_id"`
	Owner         string            `json:"login"`
	OrderID       int64             `json:"order_id"`
	Payload       SettlementPayload `json:"payload"`
	Steps         []GroupStep       `json:"steps"`
}

// GroupSummary - краткая сводка по группе для статистики
type GroupSummary struct {
	CorrelationID string  `json:"unique_id"`
	Owner         string  `json:"login"`
	TotalOrders   int     `json:"total_orders"`
	TotalPnl      float64 `json:"total_pnl"`
	TotalInvest   float64 `json:"total_invest"`
}

// StatisticsSummary - итоги по коллекции
type StatisticsSummary struct {
	TotalOrders int     `json:"total_orders"` // число групп
	TotalPnl    float64 `json:"total_pnl"`
	TotalInvest float64 `json:"total_invest"`
}

// AssetStat - статистика по инструменту
type AssetStat struct {
	Key         string  `json:"key"`
	ActiveID    int     `json:"id"`
	Name        string  `json:"name"`
	IsOtc       bool    `json:"is_otc"`
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	WinRate     float64 `json:"win_rate"` // проценты
}

// GlobalStatistics - сводная статистика по коллекции
type GlobalStatistics struct {
	Summary StatisticsSummary `json:"summary"`
	Assets  []AssetStat       `json:"assets"` // в порядке первого появления
	Groups  []GroupSummary    `json:"groups"`
}
