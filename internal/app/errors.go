package app

import "errors"

var (
	ErrAuthFailure              = errors.New("authentication failed")
	ErrNotAuthenticated         = errors.New("not authenticated")
	ErrMatchmakingFailed        = errors.New("matchmaking failed")
	ErrMatchCoordinationTimeout = errors.New("timed out waiting for match coordination")
	ErrTicketActive             = errors.New("matchmaking ticket already active")
	ErrSessionActive            = errors.New("already in a game session")
	ErrNotInSession             = errors.New("not in a game session")
)
