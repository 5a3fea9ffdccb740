package ports

import (
	"context"

	"tictactoe/internal/domain"
)

// GameStatePort reaches a session's game on the authority outside the
// realtime channel.
type GameStatePort interface {
	// FetchGameState returns the authority's current snapshot of sessionID.
	FetchGameState(ctx context.Context, sess *domain.Session, sessionID string) (domain.GameSnapshot, error)

	// Resign forfeits sessionID for the session's user and returns the
	// resulting finished snapshot.
	Resign(ctx context.Context, sess *domain.Session, sessionID string) (domain.GameSnapshot, error)
}
