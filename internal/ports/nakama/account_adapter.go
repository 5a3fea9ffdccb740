package nakama

import (
	"context"
	"encoding/json"
	"fmt"

	"tictactoe/internal/domain"
	"tictactoe/internal/ports"

	"github.com/gosimple/slug"
)

// NakamaAuthAdapter implements ports.AuthPort with device authentication.
type NakamaAuthAdapter struct {
	client *APIClient
}

// NewNakamaAuthAdapter creates a new auth adapter.
func NewNakamaAuthAdapter(client *APIClient) *NakamaAuthAdapter {
	return &NakamaAuthAdapter{client: client}
}

// Authenticate logs the device in under a username derived from the nickname.
// Nakama rejects usernames with spaces, so "Player One" becomes "player-one".
func (a *NakamaAuthAdapter) Authenticate(ctx context.Context, cred domain.Credential) (*domain.Session, error) {
	if cred.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	username := slug.Make(cred.Nickname)
	if username == "" {
		return nil, fmt.Errorf("nickname %q has no usable characters", cred.Nickname)
	}

	out, err := a.client.AuthenticateDevice(ctx, cred.DeviceID, username)
	if err != nil {
		return nil, err
	}
	claims, err := parseSessionToken(out.GetToken())
	if err != nil {
		return nil, err
	}
	if claims.Username == "" {
		claims.Username = username
	}

	return &domain.Session{
		UserID:    claims.UserID,
		Username:  claims.Username,
		Token:     out.GetToken(),
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// NakamaProfileAdapter implements ports.ProfilePort over the rank RPC.
type NakamaProfileAdapter struct {
	client *APIClient
}

// NewNakamaProfileAdapter creates a new profile adapter.
func NewNakamaProfileAdapter(client *APIClient) *NakamaProfileAdapter {
	return &NakamaProfileAdapter{client: client}
}

// FetchProfile returns the rating profile of userID. A rating of 0 means the
// player has no leaderboard record yet and is reported as the default rating.
func (a *NakamaProfileAdapter) FetchProfile(ctx context.Context, sess *domain.Session, userID string) (domain.RatingProfile, error) {
	payload, err := a.client.RPC(ctx, sess.Token, RpcGetPlayerRank, map[string]string{"user_id": userID})
	if err != nil {
		return domain.RatingProfile{}, err
	}

	var profile domain.RatingProfile
	if err := json.Unmarshal(payload, &profile); err != nil {
		return domain.RatingProfile{}, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	if profile.Rating == 0 {
		profile.Rating = domain.DefaultRating
	}
	return profile, nil
}

var (
	_ ports.AuthPort    = (*NakamaAuthAdapter)(nil)
	_ ports.ProfilePort = (*NakamaProfileAdapter)(nil)
)
