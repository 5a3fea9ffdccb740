package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tictactoe/internal/domain"
	"tictactoe/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/jonboulle/clockwork"
)

// SessionState is the lifecycle of one joined game session.
type SessionState string

const (
	SessionIdle     SessionState = "idle"
	SessionJoining  SessionState = "joining"
	SessionActive   SessionState = "active"
	SessionFinished SessionState = "finished"
)

// DefaultDisplayDelay is how long the final board stays up before EventFinished.
const DefaultDisplayDelay = 800 * time.Millisecond

const fallbackOpponentName = "Opponent"

// SessionOptions tunes the session machine.
type SessionOptions struct {
	// DisplayDelay of zero or less means DefaultDisplayDelay.
	DisplayDelay time.Duration
	// OptimisticMoves applies the local move as a provisional snapshot until
	// the authority answers.
	OptimisticMoves bool
}

// SessionMachine tracks one game session: the participants, the latest
// authoritative snapshot and the local participant's moves.
type SessionMachine struct {
	rt       ports.RealtimePort
	games    ports.GameStatePort
	results  *ResultsAdapter
	sessions *SessionContext
	clock    clockwork.Clock
	opts     SessionOptions
	logger   runtime.Logger
	emit     Emitter

	mu        sync.Mutex
	state     SessionState
	ref       domain.SessionRef
	snapshot  domain.GameSnapshot
	localMark domain.Mark
	opponent  string
	sub       *ports.Subscription
	cancel    context.CancelFunc
	ctx       context.Context
	terminal  bool
}

// NewSessionMachine constructs an idle session machine. A nil clock uses the real clock.
func NewSessionMachine(rt ports.RealtimePort, games ports.GameStatePort, results *ResultsAdapter, sessions *SessionContext, clock clockwork.Clock, opts SessionOptions, logger runtime.Logger, emit Emitter) *SessionMachine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.DisplayDelay <= 0 {
		opts.DisplayDelay = DefaultDisplayDelay
	}
	if emit == nil {
		emit = func(Event) {}
	}
	return &SessionMachine{
		rt:       rt,
		games:    games,
		results:  results,
		sessions: sessions,
		clock:    clock,
		opts:     opts,
		logger:   logger,
		emit:     emit,
		state:    SessionIdle,
	}
}

// State returns the current lifecycle state.
func (m *SessionMachine) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the latest snapshot.
func (m *SessionMachine) Snapshot() domain.GameSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot.Clone()
}

// Ref returns a copy of the joined session reference.
func (m *SessionMachine) Ref() domain.SessionRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ref.Clone()
}

// LocalMark returns the local participant's mark, MarkEmpty until assigned.
func (m *SessionMachine) LocalMark() domain.Mark {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localMark
}

// OpponentName returns the opponent's display name.
func (m *SessionMachine) OpponentName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opponent
}

// Join joins sessionID, seeds an empty snapshot and starts consuming session traffic.
func (m *SessionMachine) Join(ctx context.Context, sessionID string) (domain.SessionRef, error) {
	sess := m.sessions.Current()
	if sess == nil {
		return domain.SessionRef{}, ErrNotAuthenticated
	}

	m.mu.Lock()
	if m.state != SessionIdle {
		m.mu.Unlock()
		return domain.SessionRef{}, ErrSessionActive
	}
	m.state = SessionJoining
	m.mu.Unlock()

	sub, err := m.rt.Subscribe()
	if err != nil {
		m.setIdle()
		return domain.SessionRef{}, fmt.Errorf("failed to subscribe to session %s: %w", sessionID, err)
	}
	ref, err := m.rt.JoinMatch(ctx, sessionID)
	if err != nil {
		sub.Close()
		m.setIdle()
		return domain.SessionRef{}, fmt.Errorf("failed to join session %s: %w", sessionID, err)
	}
	if ref.SessionID == "" {
		ref.SessionID = sessionID
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.ref = ref
	m.snapshot = domain.NewSnapshot(ref.SessionID)
	m.localMark = domain.MarkEmpty
	m.opponent = m.opponentNameLocked(sess.UserID)
	m.sub = sub
	m.cancel = cancel
	m.ctx = consumeCtx
	m.terminal = false
	m.state = SessionActive
	payload := SessionJoinedPayload{Ref: m.ref.Clone(), Snapshot: m.snapshot.Clone()}
	m.mu.Unlock()

	go m.consume(consumeCtx, sub)

	m.logger.Info("Session: user %s joined %s with %d participants", sess.UserID, ref.SessionID, len(ref.Participants))
	m.emit(Event{Kind: EventSessionJoined, Payload: payload})
	return payload.Ref, nil
}

func (m *SessionMachine) setIdle() {
	m.mu.Lock()
	m.state = SessionIdle
	m.mu.Unlock()
}

func (m *SessionMachine) consume(ctx context.Context, sub *ports.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case n := <-sub.C():
			m.HandleNotification(n)
		}
	}
}

// HandleNotification applies one inbound notification to the session.
func (m *SessionMachine) HandleNotification(n ports.Notification) {
	switch msg := n.(type) {
	case ports.MatchDataNotification:
		if !m.isCurrent(msg.SessionID) {
			m.logger.Debug("Session: dropping data for session %s", msg.SessionID)
			return
		}
		switch msg.Envelope.OpCode {
		case domain.OpCodeStateUpdate:
			m.handleSnapshot(msg.SessionID, msg.Envelope.Payload, false)
		case domain.OpCodeGameOver:
			m.handleSnapshot(msg.SessionID, msg.Envelope.Payload, true)
		case domain.OpCodePlayerJoined, domain.OpCodePlayerLeft:
		default:
			m.logger.Warn("Session: ignoring unknown opcode %d", msg.Envelope.OpCode)
		}
	case ports.PresenceNotification:
		m.handlePresence(msg)
	case ports.DisconnectedNotification:
		m.handleDisconnect(msg.Err)
	case ports.ErrorNotification:
		m.logger.Warn("Session: server error %d: %s", msg.Code, msg.Message)
	default:
		m.logger.Debug("Session: ignoring %T", n)
	}
}

func (m *SessionMachine) isCurrent(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != SessionActive && m.state != SessionFinished {
		return false
	}
	return sessionID == "" || sessionID == m.ref.SessionID
}

func (m *SessionMachine) handleSnapshot(sessionID string, payload []byte, gameOver bool) {
	snapshot, err := domain.DecodeSnapshot(payload)
	if err != nil {
		m.logger.Warn("Session: discarding malformed snapshot: %v", err)
		return
	}
	m.applySnapshot(sessionID, snapshot, gameOver)
}

// applySnapshot replaces the snapshot of sessionID. It is a no-op when the
// machine has since left that session.
func (m *SessionMachine) applySnapshot(sessionID string, snapshot domain.GameSnapshot, gameOver bool) {
	sess := m.sessions.Current()
	var userID string
	if sess != nil {
		userID = sess.UserID
	}

	m.mu.Lock()
	if (m.state != SessionActive && m.state != SessionFinished) || (sessionID != "" && sessionID != m.ref.SessionID) {
		m.mu.Unlock()
		m.logger.Debug("Session: dropping snapshot for session %s", sessionID)
		return
	}
	if m.state == SessionFinished && snapshot.Status != domain.StatusFinished {
		m.mu.Unlock()
		m.logger.Info("Session: discarding %s snapshot after game over", snapshot.Status)
		return
	}
	if snapshot.MatchID == "" {
		snapshot.MatchID = m.ref.SessionID
	}
	m.snapshot = snapshot
	m.localMark = snapshot.MarkFor(userID)
	m.opponent = m.opponentNameLocked(userID)

	updated := SnapshotUpdatedPayload{Snapshot: snapshot.Clone(), LocalMark: m.localMark, OpponentName: m.opponent}
	isTerminal := gameOver || snapshot.Status == domain.StatusFinished
	startTerminal := isTerminal && !m.terminal
	var over GameOverPayload
	var ctx context.Context
	if startTerminal {
		m.terminal = true
		m.state = SessionFinished
		over = GameOverPayload{Snapshot: snapshot.Clone(), Result: domain.ResultFor(snapshot, userID, m.localMark)}
		ctx = m.ctx
	}
	m.mu.Unlock()

	m.emit(Event{Kind: EventSnapshotUpdated, Payload: updated})
	if !startTerminal {
		return
	}
	m.logger.Info("Session: game %s over, outcome %s", snapshot.MatchID, over.Result.Outcome)
	m.emit(Event{Kind: EventGameOver, Payload: over})
	go m.finish(ctx, sess, over.Result)
}

// finish publishes EventFinished after the display delay. The leaderboard
// fetch runs alongside; a late result arrives as EventLeaderboardUpdated.
func (m *SessionMachine) finish(ctx context.Context, sess *domain.Session, result domain.ResultRecord) {
	board := make(chan []domain.LeaderboardEntry, 1)
	go func() {
		board <- m.results.FetchLeaderboard(ctx, sess)
	}()

	select {
	case <-m.clock.After(m.opts.DisplayDelay):
	case <-ctx.Done():
		return
	}

	select {
	case entries := <-board:
		m.emit(Event{Kind: EventFinished, Payload: FinishedPayload{Result: result, Leaderboard: entries}})
		return
	default:
	}

	m.emit(Event{Kind: EventFinished, Payload: FinishedPayload{
		Result:             result,
		Leaderboard:        []domain.LeaderboardEntry{},
		LeaderboardPending: true,
	}})
	select {
	case entries := <-board:
		if len(entries) > 0 {
			m.emit(Event{Kind: EventLeaderboardUpdated, Payload: LeaderboardUpdatedPayload{Entries: entries}})
		}
	case <-ctx.Done():
	}
}

func (m *SessionMachine) handlePresence(n ports.PresenceNotification) {
	sess := m.sessions.Current()
	var userID string
	if sess != nil {
		userID = sess.UserID
	}

	m.mu.Lock()
	if m.state != SessionActive && m.state != SessionFinished {
		m.mu.Unlock()
		return
	}
	if n.SessionID != "" && n.SessionID != m.ref.SessionID {
		m.mu.Unlock()
		return
	}
	m.ref.ApplyPresence(n.Joins, n.Leaves)
	m.opponent = m.opponentNameLocked(userID)
	payload := PresenceChangedPayload{Ref: m.ref.Clone(), OpponentName: m.opponent}
	m.mu.Unlock()

	m.emit(Event{Kind: EventPresenceChanged, Payload: payload})
}

func (m *SessionMachine) handleDisconnect(err error) {
	m.mu.Lock()
	if m.state == SessionIdle {
		m.mu.Unlock()
		return
	}
	sessionID := m.ref.SessionID
	sub, cancel := m.resetLocked()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Close()
	}
	m.logger.Warn("Session: disconnected from %s: %v", sessionID, err)
	m.emit(Event{Kind: EventDisconnected, Payload: DisconnectedPayload{Err: err}})
}

// opponentNameLocked resolves the opponent's display name: the snapshot's
// other player if known, else the first other participant. Caller holds mu.
func (m *SessionMachine) opponentNameLocked(userID string) string {
	otherID := m.snapshot.PlayerFor(m.snapshot.MarkFor(userID).Opponent())
	if otherID != "" {
		if p, ok := m.ref.Participant(otherID); ok && p.DisplayName != "" {
			return p.DisplayName
		}
	}
	if p, ok := m.ref.FirstOther(userID); ok && p.DisplayName != "" {
		return p.DisplayName
	}
	return fallbackOpponentName
}

// RequestMove asks the authority to place the local mark at row, col. It
// reports false without sending anything when the move is not legal on the
// current snapshot.
func (m *SessionMachine) RequestMove(ctx context.Context, row, col int) (bool, error) {
	m.mu.Lock()
	if m.state != SessionActive || !m.snapshot.CanMove(m.localMark, row, col) {
		m.mu.Unlock()
		return false, nil
	}
	sessionID := m.ref.SessionID
	previous := m.snapshot
	var provisional *SnapshotUpdatedPayload
	if m.opts.OptimisticMoves {
		m.snapshot = m.snapshot.WithMove(m.localMark, row, col)
		provisional = &SnapshotUpdatedPayload{Snapshot: m.snapshot.Clone(), LocalMark: m.localMark, OpponentName: m.opponent}
	}
	m.mu.Unlock()

	env, err := domain.EncodeMove(row, col)
	if err == nil {
		err = m.rt.SendMatchData(ctx, sessionID, env)
	}
	if err != nil {
		if provisional != nil {
			m.mu.Lock()
			// Only revert if nothing authoritative arrived meanwhile.
			if m.snapshot.Provisional {
				m.snapshot = previous
			}
			m.mu.Unlock()
		}
		return false, fmt.Errorf("failed to send move: %w", err)
	}

	if provisional != nil {
		m.emit(Event{Kind: EventSnapshotUpdated, Payload: *provisional})
	}
	return true, nil
}

// Resync replaces the snapshot with the authority's stored game state, for
// when broadcasts may have been missed.
func (m *SessionMachine) Resync(ctx context.Context) error {
	sess := m.sessions.Current()
	if sess == nil {
		return ErrNotAuthenticated
	}
	m.mu.Lock()
	if m.state != SessionActive && m.state != SessionFinished {
		m.mu.Unlock()
		return ErrNotInSession
	}
	sessionID := m.ref.SessionID
	m.mu.Unlock()

	snapshot, err := m.games.FetchGameState(ctx, sess, sessionID)
	if err != nil {
		return fmt.Errorf("failed to fetch state of %s: %w", sessionID, err)
	}
	m.applySnapshot(sessionID, snapshot, false)
	return nil
}

// Resign forfeits the running game. The authority does not broadcast a
// resignation, so its reply is applied as the game over snapshot.
func (m *SessionMachine) Resign(ctx context.Context) error {
	sess := m.sessions.Current()
	if sess == nil {
		return ErrNotAuthenticated
	}
	m.mu.Lock()
	if m.state != SessionActive || m.terminal {
		m.mu.Unlock()
		return ErrNotInSession
	}
	sessionID := m.ref.SessionID
	m.mu.Unlock()

	snapshot, err := m.games.Resign(ctx, sess, sessionID)
	if err != nil {
		return fmt.Errorf("failed to resign %s: %w", sessionID, err)
	}
	m.logger.Info("Session: user %s resigned %s", sess.UserID, sessionID)
	m.applySnapshot(sessionID, snapshot, true)
	return nil
}

// Leave leaves the current session. Local state is cleared even when the
// server call fails; that error is only logged.
func (m *SessionMachine) Leave(ctx context.Context) error {
	m.mu.Lock()
	if m.state == SessionIdle {
		m.mu.Unlock()
		return nil
	}
	sessionID := m.ref.SessionID
	sub, cancel := m.resetLocked()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Close()
	}
	if sessionID != "" {
		if err := m.rt.LeaveMatch(ctx, sessionID); err != nil {
			m.logger.Warn("Session: leave %s failed: %v", sessionID, err)
		}
	}
	m.emit(Event{Kind: EventSessionLeft, Payload: SessionLeftPayload{SessionID: sessionID}})
	return nil
}

// resetLocked clears all session state. Caller holds mu.
func (m *SessionMachine) resetLocked() (*ports.Subscription, context.CancelFunc) {
	sub, cancel := m.sub, m.cancel
	m.sub = nil
	m.cancel = nil
	m.ctx = nil
	m.ref = domain.SessionRef{}
	m.snapshot = domain.GameSnapshot{}
	m.localMark = domain.MarkEmpty
	m.opponent = ""
	m.terminal = false
	m.state = SessionIdle
	return sub, cancel
}
