package nakama

import (
	"context"
	"fmt"

	"tictactoe/internal/domain"
	"tictactoe/internal/ports"
)

type matchRequest struct {
	MatchID string `json:"match_id"`
}

// NakamaGameAdapter implements ports.GameStatePort over the game state RPCs.
type NakamaGameAdapter struct {
	client *APIClient
}

// NewNakamaGameAdapter creates a new game state adapter.
func NewNakamaGameAdapter(client *APIClient) *NakamaGameAdapter {
	return &NakamaGameAdapter{client: client}
}

func (a *NakamaGameAdapter) FetchGameState(ctx context.Context, sess *domain.Session, sessionID string) (domain.GameSnapshot, error) {
	return a.call(ctx, sess, RpcGetGameState, sessionID)
}

// Resign forfeits the game. The authority records the opponent as winner.
func (a *NakamaGameAdapter) Resign(ctx context.Context, sess *domain.Session, sessionID string) (domain.GameSnapshot, error) {
	return a.call(ctx, sess, RpcResignGame, sessionID)
}

func (a *NakamaGameAdapter) call(ctx context.Context, sess *domain.Session, rpcID, sessionID string) (domain.GameSnapshot, error) {
	if sessionID == "" {
		return domain.GameSnapshot{}, fmt.Errorf("%s requires a match id", rpcID)
	}
	payload, err := a.client.RPC(ctx, sess.Token, rpcID, matchRequest{MatchID: sessionID})
	if err != nil {
		return domain.GameSnapshot{}, err
	}
	snapshot, err := domain.DecodeSnapshot(payload)
	if err != nil {
		return domain.GameSnapshot{}, fmt.Errorf("%s reply: %w", rpcID, err)
	}
	return snapshot, nil
}

var _ ports.GameStatePort = (*NakamaGameAdapter)(nil)
