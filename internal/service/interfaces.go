package service

import (
	"context"

	"tradebroker/internal/models"
	"tradebroker/internal/provider"
)

// ResultRepositoryInterface определяет интерфейс хранилища закрытых ордеров
type ResultRepositoryInterface interface {
	Append(ctx context.Context, namespace string, record *models.SettledRecord) error
	QueryByOwner(ctx context.Context, namespace, owner string) ([]*models.SettledRecord, error)
	QueryAll(ctx context.Context, namespace string) ([]*models.SettledRecord, error)
}

// SessionServiceInterface определяет интерфейс кэша сессий для HTTP слоя
type SessionServiceInterface interface {
	AcquireSession(ctx context.Context, identity, secret string) (provider.Session, error)
	ReleaseSession(identity string) bool
}

// SettlementServiceInterface определяет интерфейс ожидания закрытия ордеров
type SettlementServiceInterface interface {
	AwaitSettlement(ctx context.Context, req SettlementRequest) (*models.SettledRecord, error)
}

// HistoryServiceInterface определяет интерфейс чтения истории
type HistoryServiceInterface interface {
	History(ctx context.Context, namespace, owner string) ([]*models.AggregateGroup, error)
	GlobalStatistics(ctx context.Context, namespace string) (*models.GlobalStatistics, error)
}

var (
	_ SessionServiceInterface    = (*SessionService)(nil)
	_ SettlementServiceInterface = (*SettlementService)(nil)
	_ HistoryServiceInterface    = (*HistoryService)(nil)
)
