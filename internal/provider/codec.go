package provider

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Имена сообщений протокола фида
const (
	msgAuthenticate     = "authenticate"
	msgAuthenticated    = "authenticated"
	msgUnauthorized     = "unauthorized"
	msgSubscribe        = "subscribeMessage"
	msgPositionChanged  = "position-changed"
	eventPositionChange = "portfolio.position-changed"
)

// envelope - общая обёртка сообщений фида
type envelope struct {
	Name      string              `json:"name"`
	RequestID string              `json:"request_id,omitempty"`
	Msg       jsoniter.RawMessage `json:"msg"`
}

type authMessage struct {
	Name string   `json:"name"`
	Msg  authBody `json:"msg"`
}

type authBody struct {
	SSID     string `json:"ssid"`
	Protocol int    `json:"protocol"`
	BrokerID int    `json:"broker_id"`
}

type subscribeMessage struct {
	Name string        `json:"name"`
	Msg  subscribeBody `json:"msg"`
}

type subscribeBody struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// positionMessage - позиция в формате провайдера (время в миллисекундах UNIX)
type positionMessage struct {
	InstrumentType string   `json:"instrument_type"`
	Status         string   `json:"status"`
	OrderIDs       []int64  `json:"order_ids"`
	ActiveID       int      `json:"active_id"`
	ActiveName     string   `json:"active_name"`
	IsOtc          bool     `json:"is_otc"`
	Direction      string   `json:"direction"`
	Invest         float64  `json:"invest"`
	Pnl            float64  `json:"pnl"`
	OpenQuote      float64  `json:"open_quote"`
	CurrentQuote   float64  `json:"current_quote"`
	CloseQuote     *float64 `json:"close_quote"`
	OpenTime       int64    `json:"open_time"`
	CloseTime      int64    `json:"close_time"`
	ExpirationTime int64    `json:"expiration_time"`
}

func newAuthMessage(ssid string, brokerID int) authMessage {
	return authMessage{
		Name: msgAuthenticate,
		Msg:  authBody{SSID: ssid, Protocol: 3, BrokerID: brokerID},
	}
}

func newPositionSubscription() subscribeMessage {
	return subscribeMessage{
		Name: msgSubscribe,
		Msg:  subscribeBody{Name: eventPositionChange, Version: "3.0"},
	}
}

// decodePosition разбирает сообщение фида; ok=false для сообщений, не относящихся к позициям
func decodePosition(raw []byte) (*PositionUpdate, bool, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, err
	}
	if env.Name != msgPositionChanged {
		return nil, false, nil
	}

	var msg positionMessage
	if err := json.Unmarshal(env.Msg, &msg); err != nil {
		return nil, false, err
	}

	update := &PositionUpdate{
		InstrumentType: msg.InstrumentType,
		Status:         msg.Status,
		OrderIDs:       msg.OrderIDs,
		ActiveID:       msg.ActiveID,
		Direction:      msg.Direction,
		Invest:         msg.Invest,
		Pnl:            msg.Pnl,
		OpenQuote:      msg.OpenQuote,
		CurrentQuote:   msg.CurrentQuote,
		CloseQuote:     msg.CloseQuote,
		OpenTime:       millisToTime(msg.OpenTime),
		CloseTime:      millisToTime(msg.CloseTime),
		ExpirationTime: millisToTime(msg.ExpirationTime),
	}
	if msg.ActiveName != "" || msg.ActiveID != 0 {
		update.Active = &Active{ID: msg.ActiveID, Name: msg.ActiveName, IsOtc: msg.IsOtc}
	}

	return update, true, nil
}

func millisToTime(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
