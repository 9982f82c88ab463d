package service

import "errors"

// Ошибки ядра. Причина присоединяется через errors.Join, проверка - errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrSettlementTimeout  = errors.New("settlement timed out")
	ErrUpstreamFailure    = errors.New("upstream provider failure")
	ErrPersistenceFailure = errors.New("persistence failure")
)
