package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelhq/kestrel/internal/domain"
)

// HistoryService is the repository-backed AccountHistoryProvider: it derives
// dormancy and velocity aggregates from the transactions the engine has
// already persisted.
type HistoryService struct {
	repo domain.Repository

	recentWindow time.Duration
	priorWindow  time.Duration
}

// NewHistoryService creates a history provider over the repository. The
// recent window feeds velocity-style fields, the prior window feeds
// dormancy-style fields.
func NewHistoryService(repo domain.Repository, recentWindow, priorWindow time.Duration) *HistoryService {
	if recentWindow <= 0 {
		recentWindow = 30 * 24 * time.Hour
	}
	if priorWindow <= 0 {
		priorWindow = 180 * 24 * time.Hour
	}
	return &HistoryService{
		repo:         repo,
		recentWindow: recentWindow,
		priorWindow:  priorWindow,
	}
}

// FetchAccountHistory aggregates the account's activity as of the given
// reference time.
func (s *HistoryService) FetchAccountHistory(ctx context.Context, accountID string, at time.Time) (*domain.AccountHistory, error) {
	if accountID == "" {
		return nil, fmt.Errorf("accountID is required")
	}
	return s.repo.GetAccountActivity(ctx, accountID, at, s.recentWindow, s.priorWindow)
}
