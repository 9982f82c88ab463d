package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"tradebroker/internal/service"
)

// OrderHandler - ожидание закрытия ордера
type OrderHandler struct {
	sessions    service.SessionServiceInterface
	settlements service.SettlementServiceInterface
}

// NewOrderHandler создает новый OrderHandler
func NewOrderHandler(sessions service.SessionServiceInterface, settlements service.SettlementServiceInterface) *OrderHandler {
	return &OrderHandler{sessions: sessions, settlements: settlements}
}

// AwaitSettlementRequest - тело POST /api/v1/orders/{orderId}/settlement
type AwaitSettlementRequest struct {
	Login      string `json:"login" validate:"required,max=254"`
	Password   string `json:"password" validate:"required"`
	UniqueID   string `json:"unique_id" validate:"max=128"`
	Collection string `json:"collection" validate:"required"`
}

// AwaitSettlement берёт сессию логина и держит запрос до закрытия ордера или таймаута
// POST /api/v1/orders/{orderId}/settlement
//
// Response 200 OK: сохраняемая запись SettledRecord
// Response 400: нечисловой orderId или невалидное тело
// Response 408: ордер не закрылся за отведённое время
// Response 502: ошибка провайдера
func (h *OrderHandler) AwaitSettlement(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	var req AwaitSettlementRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondServiceError(w, err)
		return
	}

	// id проверяется до открытия сессии
	if _, err := service.ParseOrderID(orderID); err != nil {
		respondServiceError(w, err)
		return
	}

	session, err := h.sessions.AcquireSession(r.Context(), req.Login, req.Password)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	record, err := h.settlements.AwaitSettlement(r.Context(), service.SettlementRequest{
		Session:       session,
		OrderID:       orderID,
		CorrelationID: req.UniqueID,
		Namespace:     req.Collection,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, record)
}
