package nakama

import (
	"context"
	"encoding/json"
	"fmt"

	"tictactoe/internal/domain"
	"tictactoe/internal/ports"
)

type leaderboardRow struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Rank     int64  `json:"rank"`
	Score    int64  `json:"score"`
	NumScore int    `json:"num_score"`
}

type leaderboardReply struct {
	Entries []leaderboardRow `json:"entries"`
}

// NakamaLeaderboardAdapter implements ports.LeaderboardPort over the leaderboard RPC.
type NakamaLeaderboardAdapter struct {
	client *APIClient
}

// NewNakamaLeaderboardAdapter creates a new leaderboard adapter.
func NewNakamaLeaderboardAdapter(client *APIClient) *NakamaLeaderboardAdapter {
	return &NakamaLeaderboardAdapter{client: client}
}

// FetchLeaderboard maps rows onto entries, score becoming rating. The RPC
// reports no per-outcome counts so wins, losses and draws stay 0.
func (a *NakamaLeaderboardAdapter) FetchLeaderboard(ctx context.Context, sess *domain.Session) ([]domain.LeaderboardEntry, error) {
	payload, err := a.client.RPC(ctx, sess.Token, RpcGetLeaderboard, struct{}{})
	if err != nil {
		return nil, err
	}

	var reply leaderboardReply
	if err := json.Unmarshal(payload, &reply); err != nil {
		return nil, fmt.Errorf("failed to unmarshal leaderboard: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(reply.Entries))
	for _, row := range reply.Entries {
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: row.UserID,
			DisplayName:   row.Username,
			Rank:          row.Rank,
			Rating:        row.Score,
		})
	}
	return entries, nil
}

var _ ports.LeaderboardPort = (*NakamaLeaderboardAdapter)(nil)
