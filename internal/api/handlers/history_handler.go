package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"tradebroker/internal/models"
	"tradebroker/internal/service"
)

// HistoryHandler - история и статистика коллекций
//
// Endpoints:
// - GET /api/v1/history/{collection}?login= - сгруппированная история
// - GET /api/v1/statistics/{collection} - итоги и win rate по инструментам
type HistoryHandler struct {
	history service.HistoryServiceInterface
}

// NewHistoryHandler создает новый HistoryHandler
func NewHistoryHandler(history service.HistoryServiceInterface) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// GetHistory возвращает группы записей; без login - по всей коллекции
// GET /api/v1/history/{collection}?login=trader@example.com
func (h *HistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	login := r.URL.Query().Get("login")

	groups, err := h.history.History(r.Context(), collection, login)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	// пустой список отдаём как [], а не null
	if groups == nil {
		groups = []*models.AggregateGroup{}
	}
	respondJSON(w, http.StatusOK, groups)
}

// GetStatistics возвращает статистику коллекции
// GET /api/v1/statistics/{collection}
func (h *HistoryHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]

	stats, err := h.history.GlobalStatistics(r.Context(), collection)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
