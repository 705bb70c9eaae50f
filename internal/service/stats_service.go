package service

import (
	"context"

	"trade-ledger/internal/models"
	"trade-ledger/internal/util"

	"go.uber.org/zap"
)

// StatsService serves the admin dashboard counters
type StatsService struct {
	repo   Repository
	cache  Cache
	logger *zap.Logger
}

// NewStatsService creates a new stats service
func NewStatsService(repo Repository, cache Cache) *StatsService {
	return &StatsService{repo: repo, cache: cache, logger: util.GetLogger()}
}

// Dashboard returns the counters, possibly a few seconds stale
func (s *StatsService) Dashboard(ctx context.Context) (*models.DashboardStats, error) {
	stats, ok, err := s.cache.GetStats(ctx)
	if err != nil {
		s.logger.Warn("Stats cache read failed", zap.Error(err))
	}
	if ok {
		return stats, nil
	}

	stats, err = s.repo.DashboardStats(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetStats(ctx, stats); err != nil {
		s.logger.Warn("Failed to cache stats", zap.Error(err))
	}
	return stats, nil
}
