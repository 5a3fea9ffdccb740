package app

import "tictactoe/internal/domain"

// EventKind identifies events the controller publishes to the UI shell.
type EventKind string

const (
	EventLoggedIn           EventKind = "logged_in"
	EventQueued             EventKind = "queued"
	EventQueueCancelled     EventKind = "queue_cancelled"
	EventMatchFound         EventKind = "match_found"
	EventMatchmakingFailed  EventKind = "matchmaking_failed"
	EventSessionJoined      EventKind = "session_joined"
	EventPresenceChanged    EventKind = "presence_changed"
	EventSnapshotUpdated    EventKind = "snapshot_updated"
	EventGameOver           EventKind = "game_over"
	EventFinished           EventKind = "finished"
	EventLeaderboardUpdated EventKind = "leaderboard_updated"
	EventSessionLeft        EventKind = "session_left"
	EventDisconnected       EventKind = "disconnected"
)

// Event is something the UI shell may want to render.
type Event struct {
	Kind    EventKind
	Payload any
}

// Emitter delivers events. It must not block.
type Emitter func(Event)

type LoggedInPayload struct {
	Session    domain.Session
	ProfileErr error
}

type QueuedPayload struct {
	Ticket domain.Ticket
}

type QueueCancelledPayload struct {
	TicketID string
}

// MatchFoundPayload carries the matched ticket, now TicketMatched.
type MatchFoundPayload struct {
	Ticket       domain.Ticket
	SessionID    string
	Token        string
	Participants []domain.Participant
}

type MatchmakingFailedPayload struct {
	Err error
}

type SessionJoinedPayload struct {
	Ref      domain.SessionRef
	Snapshot domain.GameSnapshot
}

type PresenceChangedPayload struct {
	Ref          domain.SessionRef
	OpponentName string
}

type SnapshotUpdatedPayload struct {
	Snapshot     domain.GameSnapshot
	LocalMark    domain.Mark
	OpponentName string
}

type GameOverPayload struct {
	Snapshot domain.GameSnapshot
	Result   domain.ResultRecord
}

// FinishedPayload is published after the display delay. LeaderboardPending is
// set when the fetch had not completed yet; a later EventLeaderboardUpdated
// carries the rows if it succeeds.
type FinishedPayload struct {
	Result             domain.ResultRecord
	Leaderboard        []domain.LeaderboardEntry
	LeaderboardPending bool
}

type LeaderboardUpdatedPayload struct {
	Entries []domain.LeaderboardEntry
}

type SessionLeftPayload struct {
	SessionID string
}

type DisconnectedPayload struct {
	Err error
}
