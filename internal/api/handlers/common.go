package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"

	"tradebroker/internal/provider"
	"tradebroker/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var validate = validator.New()

// maxBodySize ограничивает тело запроса
const maxBodySize = 1 << 20

// statusClientClosedRequest - клиент закрыл соединение до ответа (nginx 499)
const statusClientClosedRequest = 499

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}

// respondServiceError переводит ошибку сервисного слоя в HTTP ответ
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		respondError(w, http.StatusBadRequest, "invalid_argument", "invalid request", err)
	case errors.Is(err, service.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "not found", err)
	case errors.Is(err, service.ErrSettlementTimeout):
		respondError(w, http.StatusRequestTimeout, "settlement_timeout", "order was not settled in time", err)
	case errors.Is(err, provider.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "provider rejected credentials", err)
	case errors.Is(err, service.ErrUpstreamFailure):
		respondError(w, http.StatusBadGateway, "upstream_failure", "provider unavailable", err)
	case errors.Is(err, context.Canceled):
		respondError(w, statusClientClosedRequest, "cancelled", "request cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "deadline_exceeded", "request deadline exceeded", err)
	default:
		respondError(w, http.StatusInternalServerError, "internal", "internal error", err)
	}
}

// decodeAndValidate читает JSON тело и проверяет теги validate
func decodeAndValidate(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return errors.Join(service.ErrInvalidArgument, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.Join(service.ErrInvalidArgument, fmt.Errorf("invalid JSON body: %w", err))
	}
	if err := validate.Struct(dst); err != nil {
		return errors.Join(service.ErrInvalidArgument, err)
	}
	return nil
}
