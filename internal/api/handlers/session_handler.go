package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"tradebroker/internal/service"
)

// SessionHandler - открытие и закрытие сессий провайдера
//
// Endpoints:
// - POST /api/v1/sessions - открыть (или взять из кэша) сессию
// - DELETE /api/v1/sessions/{login} - убрать сессию из кэша
type SessionHandler struct {
	sessions service.SessionServiceInterface
}

// NewSessionHandler создает новый SessionHandler
func NewSessionHandler(sessions service.SessionServiceInterface) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// StartSessionRequest - тело POST /api/v1/sessions
type StartSessionRequest struct {
	Login    string `json:"login" validate:"required,max=254"`
	Password string `json:"password" validate:"required"`
}

// StartSession открывает сессию
// POST /api/v1/sessions
//
// Response 200 OK:
//
//	{"message": "session started", "data": {"login": "trader@example.com"}}
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondServiceError(w, err)
		return
	}

	session, err := h.sessions.AcquireSession(r.Context(), req.Login, req.Password)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{
		Message: "session started",
		Data:    map[string]string{"login": session.Identity()},
	})
}

// StopSession убирает сессию из кэша
// DELETE /api/v1/sessions/{login}
//
// Response 204 No Content, 404 если живой сессии нет
func (h *SessionHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	login := mux.Vars(r)["login"]

	if !h.sessions.ReleaseSession(login) {
		respondError(w, http.StatusNotFound, "not_found", "session not found", nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
