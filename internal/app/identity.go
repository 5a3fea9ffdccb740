package app

import (
	"context"
	"fmt"

	"tictactoe/internal/domain"
	"tictactoe/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// LoginResult captures non-fatal login outcomes.
type LoginResult struct {
	Session *domain.Session
	// ProfileErr is set when the profile fetch failed and defaults were used.
	ProfileErr error
}

// IdentityClient authenticates a device and loads its rating profile.
type IdentityClient struct {
	auth     ports.AuthPort
	profiles ports.ProfilePort
	sessions *SessionContext
	logger   runtime.Logger
}

// NewIdentityClient constructs an identity client.
func NewIdentityClient(auth ports.AuthPort, profiles ports.ProfilePort, sessions *SessionContext, logger runtime.Logger) *IdentityClient {
	return &IdentityClient{auth: auth, profiles: profiles, sessions: sessions, logger: logger}
}

// Login authenticates cred and stores the new session in the session context.
// Authentication errors are wrapped in ErrAuthFailure. The profile fetch is
// best-effort: on failure the session carries the default profile and
// LoginResult.ProfileErr is set. Nothing is retried.
func (c *IdentityClient) Login(ctx context.Context, cred domain.Credential) (LoginResult, error) {
	sess, err := c.auth.Authenticate(ctx, cred)
	if err != nil {
		return LoginResult{}, fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}

	result := LoginResult{}
	profile, err := c.profiles.FetchProfile(ctx, sess, sess.UserID)
	if err != nil {
		result.ProfileErr = err
		profile = domain.DefaultRatingProfile()
		c.logger.Warn("Login: profile fetch failed for user %s, using defaults: %v", sess.UserID, err)
	}

	result.Session = sess.WithProfile(profile)
	c.sessions.Set(result.Session)
	c.logger.Info("Login: user %s (%s) rating %d", result.Session.UserID, result.Session.Username, profile.Rating)
	return result, nil
}
