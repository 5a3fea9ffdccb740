package app

import (
	"context"

	"tictactoe/internal/domain"
	"tictactoe/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// ResultsAdapter reads the leaderboard for the terminal screen.
type ResultsAdapter struct {
	leaderboard ports.LeaderboardPort
	logger      runtime.Logger
}

// NewResultsAdapter constructs a results adapter.
func NewResultsAdapter(leaderboard ports.LeaderboardPort, logger runtime.Logger) *ResultsAdapter {
	return &ResultsAdapter{leaderboard: leaderboard, logger: logger}
}

// FetchLeaderboard never fails: any error yields an empty list.
func (a *ResultsAdapter) FetchLeaderboard(ctx context.Context, sess *domain.Session) []domain.LeaderboardEntry {
	if sess == nil {
		return []domain.LeaderboardEntry{}
	}
	entries, err := a.leaderboard.FetchLeaderboard(ctx, sess)
	if err != nil {
		a.logger.Warn("Leaderboard fetch failed: %v", err)
		return []domain.LeaderboardEntry{}
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	return entries
}
