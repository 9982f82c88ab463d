package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tradebroker/internal/api/handlers"
	"tradebroker/internal/api/middleware"
	"tradebroker/internal/service"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	SessionService    service.SessionServiceInterface
	SettlementService service.SettlementServiceInterface
	HistoryService    service.HistoryServiceInterface
	Logger            *zap.Logger
	CORSOrigins       []string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /sessions/
//	│   ├── POST / - открыть сессию провайдера
//	│   └── DELETE /{login} - убрать сессию из кэша
//	├── /orders/
//	│   └── POST /{orderId}/settlement - дождаться закрытия ордера
//	├── /history/
//	│   └── GET /{collection}?login= - сгруппированная история
//	└── /statistics/
//	    └── GET /{collection} - статистика коллекции
//
// /health, /metrics
//
// Middleware применяется в следующем порядке:
// 1. RequestID
// 2. Recovery
// 3. Logging
// 4. CORS
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	logger := zap.NewNop()
	var origins []string
	if deps != nil {
		if deps.Logger != nil {
			logger = deps.Logger.Named("http")
		}
		origins = deps.CORSOrigins
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS(origins))

	api := router.PathPrefix("/api/v1").Subrouter()

	if deps != nil && deps.SessionService != nil {
		sessionHandler := handlers.NewSessionHandler(deps.SessionService)
		api.HandleFunc("/sessions", sessionHandler.StartSession).Methods("POST")
		api.HandleFunc("/sessions/{login}", sessionHandler.StopSession).Methods("DELETE")

		if deps.SettlementService != nil {
			orderHandler := handlers.NewOrderHandler(deps.SessionService, deps.SettlementService)
			api.HandleFunc("/orders/{orderId}/settlement", orderHandler.AwaitSettlement).Methods("POST")
		}
	}

	if deps != nil && deps.HistoryService != nil {
		historyHandler := handlers.NewHistoryHandler(deps.HistoryService)
		api.HandleFunc("/history/{collection}", historyHandler.GetHistory).Methods("GET")
		api.HandleFunc("/statistics/{collection}", historyHandler.GetStatistics).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
