package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tradebroker/internal/models"
	"tradebroker/internal/repository"
)

// HistoryService - чтение сохранённых результатов с группировкой
type HistoryService struct {
	repo   ResultRepositoryInterface
	logger *zap.Logger
}

// NewHistoryService создает новый экземпляр HistoryService
func NewHistoryService(repo ResultRepositoryInterface, logger *zap.Logger) *HistoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryService{repo: repo, logger: logger.Named("history")}
}

// History возвращает сгруппированную историю коллекции; owner != "" - только его записи
func (s *HistoryService) History(ctx context.Context, namespace, owner string) ([]*models.AggregateGroup, error) {
	if !repository.ValidNamespace(namespace) {
		return nil, errors.Join(ErrInvalidArgument, fmt.Errorf("invalid collection %q", namespace))
	}

	var (
		records []*models.SettledRecord
		err     error
	)
	if owner = strings.TrimSpace(owner); owner != "" {
		records, err = s.repo.QueryByOwner(ctx, namespace, owner)
	} else {
		records, err = s.repo.QueryAll(ctx, namespace)
	}
	if err != nil {
		return nil, s.mapError(namespace, err)
	}

	return GroupRecords(records), nil
}

// GlobalStatistics возвращает итоги по всей коллекции
func (s *HistoryService) GlobalStatistics(ctx context.Context, namespace string) (*models.GlobalStatistics, error) {
	if !repository.ValidNamespace(namespace) {
		return nil, errors.Join(ErrInvalidArgument, fmt.Errorf("invalid collection %q", namespace))
	}

	records, err := s.repo.QueryAll(ctx, namespace)
	if err != nil {
		return nil, s.mapError(namespace, err)
	}

	return ComputeStatistics(records), nil
}

func (s *HistoryService) mapError(namespace string, err error) error {
	if errors.Is(err, repository.ErrNamespaceNotFound) {
		return errors.Join(ErrNotFound, err)
	}
	s.logger.Error("history query failed", zap.String("collection", namespace), zap.Error(err))
	return err
}
