package service

import "tradebroker/internal/models"

// GroupRecords сворачивает записи по correlation id в порядке первого появления.
//
// Группа берёт описательные поля первого члена, pnl и invest суммируются по всем
// членам, члены нумеруются step = 0, 1, ... в порядке записей.
// Каждая запись без correlation id - отдельная группа с ключом NoCorrelationID.
func GroupRecords(records []*models.SettledRecord) []*models.AggregateGroup {
	groups := make([]*models.AggregateGroup, 0)
	byID := make(map[string]*models.AggregateGroup)

	for _, r := range records {
		var group *models.AggregateGroup
		if r.CorrelationID != "" {
			group = byID[r.CorrelationID]
		}

		if group == nil {
			key := r.CorrelationID
			if key == "" {
				key = models.NoCorrelationID
			}
			group = &models.AggregateGroup{
				CorrelationID: key,
				Owner:         r.Owner,
				OrderID:       r.OrderID,
				Payload:       r.Payload,
				Steps:         make([]models.GroupStep, 0, 1),
			}
			group.Payload.Pnl = 0
			group.Payload.Invest = 0

			groups = append(groups, group)
			if r.CorrelationID != "" {
				byID[r.CorrelationID] = group
			}
		}

		group.Payload.Pnl += r.Payload.Pnl
		group.Payload.Invest += r.Payload.Invest
		group.Steps = append(group.Steps, models.GroupStep{
			Step:    len(group.Steps),
			ID:      r.ID,
			OrderID: r.OrderID,
			Payload: r.Payload,
		})
	}

	return groups
}

// ComputeStatistics считает итоги коллекции: число групп, суммы pnl и invest,
// сводку по группам и win rate по инструментам (выигрыш - pnl строго больше нуля).
func ComputeStatistics(records []*models.SettledRecord) *models.GlobalStatistics {
	groups := GroupRecords(records)

	stats := &models.GlobalStatistics{
		Summary: models.StatisticsSummary{TotalOrders: len(groups)},
		Assets:  make([]models.AssetStat, 0),
		Groups:  make([]models.GroupSummary, 0, len(groups)),
	}

	for _, g := range groups {
		stats.Summary.TotalPnl += g.Payload.Pnl
		stats.Summary.TotalInvest += g.Payload.Invest
		stats.Groups = append(stats.Groups, models.GroupSummary{
			CorrelationID: g.CorrelationID,
			Owner:         g.Owner,
			TotalOrders:   len(g.Steps),
			TotalPnl:      g.Payload.Pnl,
			TotalInvest:   g.Payload.Invest,
		})
	}

	assetIndex := make(map[string]int)
	for _, r := range records {
		key, ok := r.AssetKey()
		if !ok {
			continue
		}

		idx, seen := assetIndex[key]
		if !seen {
			idx = len(stats.Assets)
			assetIndex[key] = idx
			stats.Assets = append(stats.Assets, models.AssetStat{
				Key:      key,
				ActiveID: r.Payload.Active.ID,
				Name:     r.Payload.Active.Name,
				IsOtc:    r.Payload.Active.IsOtc,
			})
		}

		asset := &stats.Assets[idx]
		asset.TotalTrades++
		if r.Payload.Pnl > 0 {
			asset.Wins++
		}
	}

	for i := range stats.Assets {
		stats.Assets[i].WinRate = winRate(stats.Assets[i].Wins, stats.Assets[i].TotalTrades)
	}

	return stats
}

func winRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total) * 100
}
