// Package provider описывает внешний торговый провайдер: открытие сессий и фид позиций.
package provider

import (
	"context"
	"errors"
	"time"
)

// Provider открывает сессии у внешнего провайдера
type Provider interface {
	// Establish выполняет логин и подключает фид позиций сессии
	Establish(ctx context.Context, login, password string) (Session, error)
}

// Session - stateful сессия провайдера, привязанная к одному логину.
//
// Сессия принадлежит кэшу сессий; вызывающий код не должен держать ссылку
// дольше одного запроса.
type Session interface {
	// Identity возвращает логин, для которого открыта сессия
	Identity() string

	// SubscribePositionUpdates подписывает handler на обновления позиций.
	// Handler вызывается из горутины чтения фида в порядке доставки.
	SubscribePositionUpdates(handler PositionHandler) (Subscription, error)

	// Done закрывается, когда сессия больше не может доставлять события
	Done() <-chan struct{}

	// Close выводит сессию из оборота. Фид закрывается, когда отписан последний подписчик.
	Close() error
}

// PositionHandler получает обновления позиций
type PositionHandler func(update *PositionUpdate)

// Subscription - подписка на фид позиций
type Subscription interface {
	// Unsubscribe отменяет подписку; повторные вызовы ничего не делают
	Unsubscribe()

	// Err отдаёт ошибку фида (разрыв без восстановления, закрытие сессии)
	Err() <-chan error
}

// Active описывает торговый инструмент (актив)
type Active struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	IsOtc bool   `json:"is_otc"`
}

// PositionUpdate - одно обновление позиции из фида
type PositionUpdate struct {
	InstrumentType string     `json:"instrument_type"`
	Status         string     `json:"status"`
	OrderIDs       []int64    `json:"order_ids"`
	ActiveID       int        `json:"active_id"`
	Active         *Active    `json:"active,omitempty"`
	Direction      string     `json:"direction"`
	Invest         float64    `json:"invest"`
	Pnl            float64    `json:"pnl"`
	OpenQuote      float64    `json:"open_quote"`
	CurrentQuote   float64    `json:"current_quote"`
	CloseQuote     *float64   `json:"close_quote,omitempty"`
	OpenTime       *time.Time `json:"open_time,omitempty"`
	CloseTime      *time.Time `json:"close_time,omitempty"`
	ExpirationTime *time.Time `json:"expiration_time,omitempty"`
}

// HasOrder проверяет, относится ли позиция к ордеру
func (p *PositionUpdate) HasOrder(orderID int64) bool {
	for _, id := range p.OrderIDs {
		if id == orderID {
			return true
		}
	}
	return false
}

// Типы инструментов
const (
	InstrumentDigitalOption = "digital-option"
	InstrumentBinaryOption  = "binary-option"
)

// Статусы позиции
const (
	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

// Ошибки провайдера
var (
	ErrInvalidCredentials = errors.New("invalid provider credentials")
	ErrSessionClosed      = errors.New("provider session is closed")
	ErrFeedLost           = errors.New("position feed lost")
)

// ProviderError представляет ошибку от провайдера
type ProviderError struct {
	Op       string
	Code     string
	Message  string
	Original error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return "provider " + e.Op + ": " + e.Code + ": " + e.Message
	}
	return "provider " + e.Op + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ProviderError) Unwrap() error {
	return e.Original
}
