package ports

import (
	"context"

	"tictactoe/internal/domain"
)

// AuthPort authenticates a device against the identity service.
type AuthPort interface {
	// Authenticate exchanges a device credential for a session. The returned
	// session carries no profile; callers fetch it separately.
	// Authenticating the same device twice returns the same user.
	Authenticate(ctx context.Context, cred domain.Credential) (*domain.Session, error)
}

// ProfilePort reads a player's rating profile.
type ProfilePort interface {
	// FetchProfile returns the rating profile for userID using sess for auth.
	FetchProfile(ctx context.Context, sess *domain.Session, userID string) (domain.RatingProfile, error)
}

// LeaderboardPort reads the ranked leaderboard.
type LeaderboardPort interface {
	// FetchLeaderboard returns entries ordered by rank.
	FetchLeaderboard(ctx context.Context, sess *domain.Session) ([]domain.LeaderboardEntry, error)
}
