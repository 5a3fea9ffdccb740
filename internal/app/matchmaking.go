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

// MatchmakingState is the coordinator's lifecycle.
type MatchmakingState string

const (
	MatchmakingIdle         MatchmakingState = "idle"
	MatchmakingQueued       MatchmakingState = "queued"
	MatchmakingMatched      MatchmakingState = "matched"
	MatchmakingJoining      MatchmakingState = "joining"
	MatchmakingCoordinating MatchmakingState = "coordinating"
	MatchmakingDone         MatchmakingState = "done"
)

// SessionJoiner takes over once the coordinator knows which session to join.
type SessionJoiner interface {
	Join(ctx context.Context, sessionID string) (domain.SessionRef, error)
}

// PollPolicy bounds the wait for the creator's coordination record.
type PollPolicy struct {
	Attempts int
	Interval time.Duration
}

// DefaultPollPolicy waits up to 10 attempts 500ms apart.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{Attempts: 10, Interval: 500 * time.Millisecond}
}

// Coordinator owns the matchmaking ticket and resolves which peer creates
// the shared session when the matchmaker only hands out a token.
type Coordinator struct {
	rt       ports.RealtimePort
	store    ports.CoordinationStore
	sessions *SessionContext
	joiner   SessionJoiner
	clock    clockwork.Clock
	poll     PollPolicy
	logger   runtime.Logger
	emit     Emitter

	mu          sync.Mutex
	state       MatchmakingState
	ticket      *domain.Ticket
	sub         *ports.Subscription
	cancelWatch context.CancelFunc
}

// NewCoordinator constructs a coordinator. A nil clock uses the real clock.
func NewCoordinator(rt ports.RealtimePort, store ports.CoordinationStore, sessions *SessionContext, joiner SessionJoiner, clock clockwork.Clock, poll PollPolicy, logger runtime.Logger, emit Emitter) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if poll.Attempts <= 0 || poll.Interval <= 0 {
		poll = DefaultPollPolicy()
	}
	if emit == nil {
		emit = func(Event) {}
	}
	return &Coordinator{
		rt:       rt,
		store:    store,
		sessions: sessions,
		joiner:   joiner,
		clock:    clock,
		poll:     poll,
		logger:   logger,
		emit:     emit,
		state:    MatchmakingIdle,
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() MatchmakingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ticket returns the open ticket, if any.
func (c *Coordinator) Ticket() (domain.Ticket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticket == nil {
		return domain.Ticket{}, false
	}
	return *c.ticket, true
}

func (c *Coordinator) active() bool {
	switch c.state {
	case MatchmakingQueued, MatchmakingMatched, MatchmakingJoining, MatchmakingCoordinating:
		return true
	}
	return false
}

// JoinQueue opens a matchmaking ticket and starts watching for the match.
// An expired login is treated as no login.
func (c *Coordinator) JoinQueue(ctx context.Context, query string, minCount, maxCount int) (domain.Ticket, error) {
	sess := c.sessions.Current()
	if sess == nil || sess.Expired(c.clock.Now()) {
		return domain.Ticket{}, ErrNotAuthenticated
	}

	c.mu.Lock()
	if c.active() {
		c.mu.Unlock()
		return domain.Ticket{}, ErrTicketActive
	}
	c.state = MatchmakingQueued
	c.mu.Unlock()

	reset := func() {
		c.mu.Lock()
		c.state = MatchmakingIdle
		c.mu.Unlock()
	}

	if err := c.rt.Connect(ctx, sess); err != nil {
		reset()
		return domain.Ticket{}, fmt.Errorf("%w: %w", ErrMatchmakingFailed, err)
	}
	sub, err := c.rt.Subscribe()
	if err != nil {
		reset()
		return domain.Ticket{}, fmt.Errorf("%w: %w", ErrMatchmakingFailed, err)
	}
	ticket, err := c.rt.AddMatchmaker(ctx, query, minCount, maxCount)
	if err != nil {
		sub.Close()
		reset()
		return domain.Ticket{}, fmt.Errorf("%w: %w", ErrMatchmakingFailed, err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.state != MatchmakingQueued {
		// cancelled while the request was in flight
		c.mu.Unlock()
		cancel()
		sub.Close()
		_ = c.rt.RemoveMatchmaker(ctx, ticket.TicketID)
		return domain.Ticket{}, fmt.Errorf("%w: cancelled", ErrMatchmakingFailed)
	}
	c.ticket = &ticket
	c.sub = sub
	c.cancelWatch = cancel
	c.mu.Unlock()

	go c.watch(watchCtx, sub, ticket.TicketID)

	c.logger.Info("Matchmaking: user %s queued with ticket %s", sess.UserID, ticket.TicketID)
	c.emit(Event{Kind: EventQueued, Payload: QueuedPayload{Ticket: ticket}})
	return ticket, nil
}

// CancelQueue withdraws the open ticket. Without one it does nothing. The
// local state returns to idle even if the remote removal fails.
func (c *Coordinator) CancelQueue(ctx context.Context) error {
	c.mu.Lock()
	if c.state != MatchmakingQueued {
		c.mu.Unlock()
		return nil
	}
	var ticketID string
	if c.ticket != nil {
		ticketID = c.ticket.TicketID
		c.ticket.Status = domain.TicketCancelled
	}
	sub, cancel := c.release()
	c.state = MatchmakingIdle
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Close()
	}
	if ticketID == "" {
		return nil
	}

	c.emit(Event{Kind: EventQueueCancelled, Payload: QueueCancelledPayload{TicketID: ticketID}})
	if err := c.rt.RemoveMatchmaker(ctx, ticketID); err != nil {
		c.logger.Warn("Matchmaking: failed to remove ticket %s: %v", ticketID, err)
		return err
	}
	return nil
}

// release clears ticket and subscription fields. Caller holds mu.
func (c *Coordinator) release() (*ports.Subscription, context.CancelFunc) {
	sub, cancel := c.sub, c.cancelWatch
	c.sub = nil
	c.cancelWatch = nil
	c.ticket = nil
	return sub, cancel
}

func (c *Coordinator) watch(ctx context.Context, sub *ports.Subscription, ticketID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case n := <-sub.C():
			switch msg := n.(type) {
			case ports.MatchedNotification:
				if msg.TicketID != "" && msg.TicketID != ticketID {
					c.logger.Debug("Matchmaking: ignoring match for stale ticket %s", msg.TicketID)
					continue
				}
				if _, err := c.HandleMatched(ctx, msg); err != nil {
					c.logger.Warn("Matchmaking: %v", err)
				}
				return
			case ports.ErrorNotification:
				c.fail(fmt.Errorf("%w: %s (code %d)", ErrMatchmakingFailed, msg.Message, msg.Code))
				return
			case ports.DisconnectedNotification:
				c.fail(fmt.Errorf("%w: %w", ErrMatchmakingFailed, msg.Err))
				return
			default:
				c.logger.Debug("Matchmaking: ignoring %T while queued", n)
			}
		}
	}
}

// HandleMatched resolves the session for a matched ticket and hands it to
// the joiner. It runs on the watch goroutine; tests may call it directly
// after JoinQueue.
func (c *Coordinator) HandleMatched(ctx context.Context, n ports.MatchedNotification) (domain.SessionRef, error) {
	sess := c.sessions.Current()
	if sess == nil {
		return domain.SessionRef{}, ErrNotAuthenticated
	}

	c.mu.Lock()
	if c.state != MatchmakingQueued {
		state := c.state
		c.mu.Unlock()
		return domain.SessionRef{}, fmt.Errorf("matched notification in state %s ignored", state)
	}
	c.state = MatchmakingMatched
	var ticket domain.Ticket
	if c.ticket != nil {
		c.ticket.Status = domain.TicketMatched
		ticket = *c.ticket
	}
	// Hand the subscription back so the session machine can take it.
	sub, cancel := c.release()
	c.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
	if cancel != nil {
		defer cancel()
	}

	c.emit(Event{Kind: EventMatchFound, Payload: MatchFoundPayload{
		Ticket:       ticket,
		SessionID:    n.SessionID,
		Token:        n.Token,
		Participants: append([]domain.Participant(nil), n.Participants...),
	}})

	sessionID, err := c.resolveSession(ctx, sess, n)
	if err != nil {
		c.fail(err)
		return domain.SessionRef{}, err
	}

	c.setState(MatchmakingJoining)
	ref, err := c.joiner.Join(ctx, sessionID)
	if err != nil {
		err = fmt.Errorf("%w: join %s: %w", ErrMatchmakingFailed, sessionID, err)
		c.fail(err)
		return domain.SessionRef{}, err
	}
	c.setState(MatchmakingDone)
	return ref, nil
}

func (c *Coordinator) resolveSession(ctx context.Context, sess *domain.Session, n ports.MatchedNotification) (string, error) {
	if n.SessionID != "" {
		return n.SessionID, nil
	}
	if n.Token == "" {
		return "", fmt.Errorf("%w: matched without session id or token", ErrMatchmakingFailed)
	}

	c.setState(MatchmakingCoordinating)
	ids := domain.ParticipantIDs(n.Participants)
	if !containsID(ids, sess.UserID) {
		ids = append(ids, sess.UserID)
	}
	key := domain.CoordinationKey(n.Token)

	if domain.IsCreator(sess.UserID, ids) {
		return c.createShared(ctx, sess, key)
	}
	return c.awaitShared(ctx, sess, key, domain.ElectCreator(ids))
}

func (c *Coordinator) createShared(ctx context.Context, sess *domain.Session, key string) (string, error) {
	ref, err := c.rt.CreateMatch(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: create match: %w", ErrMatchmakingFailed, err)
	}
	rec, err := c.store.Put(ctx, sess, domain.CoordinationRecord{Key: key, SessionID: ref.SessionID})
	if err != nil {
		return "", fmt.Errorf("%w: write coordination record: %w", ErrMatchmakingFailed, err)
	}
	if rec.SessionID != ref.SessionID {
		c.logger.Info("Matchmaking: %s already recorded session %s, joining it instead of %s", key, rec.SessionID, ref.SessionID)
	}
	c.logger.Info("Matchmaking: created shared session %s for %s", rec.SessionID, key)
	return rec.SessionID, nil
}

// awaitShared polls for the creator's record. Read errors count as misses.
func (c *Coordinator) awaitShared(ctx context.Context, sess *domain.Session, key, creator string) (string, error) {
	for attempt := 1; attempt <= c.poll.Attempts; attempt++ {
		rec, found, err := c.store.Get(ctx, sess, key, creator)
		switch {
		case err != nil:
			c.logger.Debug("Matchmaking: attempt %d reading %s failed: %v", attempt, key, err)
		case found:
			c.logger.Info("Matchmaking: found session %s for %s on attempt %d", rec.SessionID, key, attempt)
			return rec.SessionID, nil
		}

		select {
		case <-c.clock.After(c.poll.Interval):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", ErrMatchCoordinationTimeout
}

func (c *Coordinator) setState(s MatchmakingState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) fail(err error) {
	c.mu.Lock()
	sub, cancel := c.release()
	c.state = MatchmakingIdle
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Close()
	}
	c.logger.Warn("Matchmaking failed: %v", err)
	c.emit(Event{Kind: EventMatchmakingFailed, Payload: MatchmakingFailedPayload{Err: err}})
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
