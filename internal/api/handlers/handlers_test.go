package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"tradebroker/internal/models"
	"tradebroker/internal/provider"
	"tradebroker/internal/service"
)

func newRequest(method, target, body string, vars map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

// ============ SessionHandler Tests ============

func TestSessionHandler_StartSession(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		acquireErr   error
		expectStatus int
	}{
		{"success", `{"login":"trader@example.com","password":"secret"}`, nil, http.StatusOK},
		{"missing password", `{"login":"trader@example.com"}`, nil, http.StatusBadRequest},
		{"invalid json", `{"login":`, nil, http.StatusBadRequest},
		{"provider down", `{"login":"trader@example.com","password":"secret"}`,
			errors.Join(service.ErrUpstreamFailure, errors.New("dial error")), http.StatusBadGateway},
		{"wrong password", `{"login":"trader@example.com","password":"bad"}`,
			errors.Join(service.ErrUpstreamFailure, &provider.ProviderError{Op: "login", Original: provider.ErrInvalidCredentials}),
			http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := NewMockSessionService()
			sessions.acquireErr = tt.acquireErr
			handler := NewSessionHandler(sessions)

			w := httptest.NewRecorder()
			handler.StartSession(w, newRequest(http.MethodPost, "/api/v1/sessions", tt.body, nil))

			if w.Code != tt.expectStatus {
				t.Errorf("expected status %d, got %d (%s)", tt.expectStatus, w.Code, w.Body.String())
			}
			if w.Header().Get("Content-Type") != "application/json" {
				t.Errorf("unexpected content type %q", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestSessionHandler_StopSession(t *testing.T) {
	sessions := NewMockSessionService()
	sessions.live["trader@example.com"] = true
	handler := NewSessionHandler(sessions)

	w := httptest.NewRecorder()
	handler.StopSession(w, newRequest(http.MethodDelete, "/api/v1/sessions/trader@example.com", "",
		map[string]string{"login": "trader@example.com"}))
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.StopSession(w, newRequest(http.MethodDelete, "/api/v1/sessions/trader@example.com", "",
		map[string]string{"login": "trader@example.com"}))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for released session, got %d", w.Code)
	}
}

// ============ OrderHandler Tests ============

func TestOrderHandler_AwaitSettlement(t *testing.T) {
	settled := &models.SettledRecord{
		ID:            1,
		Namespace:     "orders",
		CorrelationID: "A1",
		OrderID:       7001,
		Owner:         "trader@example.com",
		Payload:       models.SettlementPayload{Pnl: 8.5, Invest: 10, Status: "closed"},
		CreatedAt:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	body := `{"login":"trader@example.com","password":"secret","unique_id":"A1","collection":"orders"}`

	tests := []struct {
		name          string
		orderID       string
		body          string
		settleErr     error
		expectStatus  int
		expectAcquire bool
	}{
		{"success", "7001", body, nil, http.StatusOK, true},
		{"non numeric order", "abc", body, nil, http.StatusBadRequest, false},
		{"missing collection", "7001", `{"login":"trader@example.com","password":"secret"}`, nil, http.StatusBadRequest, false},
		{"timeout", "7001", body, service.ErrSettlementTimeout, http.StatusRequestTimeout, true},
		{"feed lost", "7001", body, errors.Join(service.ErrUpstreamFailure, provider.ErrFeedLost), http.StatusBadGateway, true},
		{"bad collection", "7001", body, errors.Join(service.ErrInvalidArgument, errors.New("invalid collection")), http.StatusBadRequest, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := NewMockSessionService()
			settlements := &MockSettlementService{record: settled, err: tt.settleErr}
			handler := NewOrderHandler(sessions, settlements)

			w := httptest.NewRecorder()
			handler.AwaitSettlement(w, newRequest(http.MethodPost, "/api/v1/orders/"+tt.orderID+"/settlement", tt.body,
				map[string]string{"orderId": tt.orderID}))

			if w.Code != tt.expectStatus {
				t.Fatalf("expected status %d, got %d (%s)", tt.expectStatus, w.Code, w.Body.String())
			}
			if acquired := len(sessions.acquired) > 0; acquired != tt.expectAcquire {
				t.Errorf("session acquired = %v, want %v", acquired, tt.expectAcquire)
			}

			if tt.expectStatus != http.StatusOK {
				return
			}

			if settlements.lastReq.OrderID != "7001" || settlements.lastReq.CorrelationID != "A1" ||
				settlements.lastReq.Namespace != "orders" || settlements.lastReq.Session.Identity() != "trader@example.com" {
				t.Errorf("unexpected settlement request: %+v", settlements.lastReq)
			}

			var got models.SettledRecord
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if got.Payload.Pnl != 8.5 || got.OrderID != 7001 || !got.CreatedAt.Equal(settled.CreatedAt) {
				t.Errorf("unexpected response %+v", got)
			}
		})
	}
}

// ============ HistoryHandler Tests ============

func TestHistoryHandler_GetHistory(t *testing.T) {
	t.Run("returns groups", func(t *testing.T) {
		history := &MockHistoryService{groups: []*models.AggregateGroup{
			{CorrelationID: "A", Owner: "a@example.com", Steps: []models.GroupStep{{Step: 0}, {Step: 1}}},
		}}
		handler := NewHistoryHandler(history)

		w := httptest.NewRecorder()
		handler.GetHistory(w, newRequest(http.MethodGet, "/api/v1/history/orders?login=a@example.com", "",
			map[string]string{"collection": "orders"}))

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if history.lastOwner != "a@example.com" {
			t.Errorf("login query not passed, got %q", history.lastOwner)
		}

		var groups []models.AggregateGroup
		if err := json.Unmarshal(w.Body.Bytes(), &groups); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(groups) != 1 || len(groups[0].Steps) != 2 {
			t.Errorf("unexpected groups %+v", groups)
		}
	})

	t.Run("empty list is not null", func(t *testing.T) {
		handler := NewHistoryHandler(&MockHistoryService{})

		w := httptest.NewRecorder()
		handler.GetHistory(w, newRequest(http.MethodGet, "/api/v1/history/orders", "",
			map[string]string{"collection": "orders"}))

		if body := bytes.TrimSpace(w.Body.Bytes()); string(body) != "[]" {
			t.Errorf("expected [], got %s", body)
		}
	})

	t.Run("unknown collection", func(t *testing.T) {
		handler := NewHistoryHandler(&MockHistoryService{err: service.ErrNotFound})

		w := httptest.NewRecorder()
		handler.GetHistory(w, newRequest(http.MethodGet, "/api/v1/history/missing", "",
			map[string]string{"collection": "missing"}))

		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})
}

func TestHistoryHandler_GetStatistics(t *testing.T) {
	history := &MockHistoryService{stats: &models.GlobalStatistics{
		Summary: models.StatisticsSummary{TotalOrders: 2, TotalPnl: 13, TotalInvest: 6},
		Assets:  []models.AssetStat{{Key: "76-X", ActiveID: 76, Name: "X", TotalTrades: 3, Wins: 1, WinRate: 100.0 / 3}},
	}}
	handler := NewHistoryHandler(history)

	w := httptest.NewRecorder()
	handler.GetStatistics(w, newRequest(http.MethodGet, "/api/v1/statistics/orders", "",
		map[string]string{"collection": "orders"}))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var stats models.GlobalStatistics
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stats.Summary.TotalOrders != 2 || len(stats.Assets) != 1 || stats.Assets[0].TotalTrades != 3 {
		t.Errorf("unexpected statistics %+v", stats)
	}
}

func TestRespondServiceError_Mapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{service.ErrInvalidArgument, http.StatusBadRequest},
		{service.ErrNotFound, http.StatusNotFound},
		{service.ErrSettlementTimeout, http.StatusRequestTimeout},
		{service.ErrUpstreamFailure, http.StatusBadGateway},
		{service.ErrPersistenceFailure, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		respondServiceError(w, tt.err)
		if w.Code != tt.status {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.status, w.Code)
		}
	}
}
