package service

import "tradebroker/internal/models"

// settlementTransitions - допустимые переходы ожидания закрытия ордера.
// Все состояния кроме PENDING терминальные.
var settlementTransitions = map[string][]string{
	models.SettlementPending: {models.SettlementResolved, models.SettlementTimedOut, models.SettlementFailed},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := settlementTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true для состояний, из которых нет переходов
func IsTerminal(s string) bool {
	return s == models.SettlementResolved || s == models.SettlementTimedOut || s == models.SettlementFailed
}
