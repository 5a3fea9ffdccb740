package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tictactoe/internal/domain"
	"tictactoe/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/jonboulle/clockwork"
)

// Deps are the external collaborators of a Controller.
type Deps struct {
	Auth        ports.AuthPort
	Profiles    ports.ProfilePort
	Leaderboard ports.LeaderboardPort
	Store       ports.CoordinationStore
	Realtime    ports.RealtimePort
	Games       ports.GameStatePort
	Clock       clockwork.Clock
	Logger      runtime.Logger
}

// Options tunes matchmaking and session behaviour.
type Options struct {
	Query           string
	MinCount        int
	MaxCount        int
	PollAttempts    int
	PollInterval    time.Duration
	DisplayDelay    time.Duration
	OptimisticMoves bool
	EventBuffer     int
}

// DefaultOptions matches the client defaults: any opponent, two players,
// 10 polls 500ms apart and an 800ms result delay.
func DefaultOptions() Options {
	poll := DefaultPollPolicy()
	return Options{
		Query:        "*",
		MinCount:     2,
		MaxCount:     2,
		PollAttempts: poll.Attempts,
		PollInterval: poll.Interval,
		DisplayDelay: DefaultDisplayDelay,
		EventBuffer:  64,
	}
}

// Controller is the UI-facing facade. It wires the identity client, the
// matchmaking coordinator and the session machine around one shared session
// context and publishes everything that happens on Events.
type Controller struct {
	sessions    *SessionContext
	identity    *IdentityClient
	coordinator *Coordinator
	machine     *SessionMachine
	rt          ports.RealtimePort
	logger      runtime.Logger
	opts        Options

	events chan Event

	mu        sync.Mutex
	lastQuery string
}

// NewController wires a controller from deps.
func NewController(deps Deps, opts Options) (*Controller, error) {
	if deps.Auth == nil || deps.Profiles == nil || deps.Leaderboard == nil || deps.Store == nil || deps.Realtime == nil || deps.Games == nil {
		return nil, errors.New("controller requires auth, profile, leaderboard, store, realtime and game state ports")
	}
	if deps.Logger == nil {
		return nil, errors.New("controller requires a logger")
	}
	def := DefaultOptions()
	if opts.Query == "" {
		opts.Query = def.Query
	}
	if opts.MinCount == 0 {
		opts.MinCount = def.MinCount
	}
	if opts.MaxCount == 0 {
		opts.MaxCount = def.MaxCount
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = def.EventBuffer
	}

	c := &Controller{
		sessions:  NewSessionContext(),
		rt:        deps.Realtime,
		logger:    deps.Logger,
		opts:      opts,
		events:    make(chan Event, opts.EventBuffer),
		lastQuery: opts.Query,
	}
	results := NewResultsAdapter(deps.Leaderboard, deps.Logger)
	c.identity = NewIdentityClient(deps.Auth, deps.Profiles, c.sessions, deps.Logger)
	c.machine = NewSessionMachine(deps.Realtime, deps.Games, results, c.sessions, deps.Clock, SessionOptions{
		DisplayDelay:    opts.DisplayDelay,
		OptimisticMoves: opts.OptimisticMoves,
	}, deps.Logger, c.emit)
	c.coordinator = NewCoordinator(deps.Realtime, deps.Store, c.sessions, c.machine, deps.Clock, PollPolicy{
		Attempts: opts.PollAttempts,
		Interval: opts.PollInterval,
	}, deps.Logger, c.emit)
	return c, nil
}

// emit never blocks; events are dropped when the consumer falls behind.
func (c *Controller) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.logger.Warn("Controller: event buffer full, dropping %s", e.Kind)
	}
}

// Events is the stream of state changes for the UI shell.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Session returns the authenticated session or nil.
func (c *Controller) Session() *domain.Session {
	return c.sessions.Current()
}

func (c *Controller) Matchmaking() *Coordinator {
	return c.coordinator
}

func (c *Controller) GameSession() *SessionMachine {
	return c.machine
}

// Login authenticates cred and publishes EventLoggedIn.
func (c *Controller) Login(ctx context.Context, cred domain.Credential) (LoginResult, error) {
	res, err := c.identity.Login(ctx, cred)
	if err != nil {
		return LoginResult{}, err
	}
	c.emit(Event{Kind: EventLoggedIn, Payload: LoggedInPayload{Session: *res.Session, ProfileErr: res.ProfileErr}})
	return res, nil
}

// FindMatch queues for a match with query, or the configured query when empty.
func (c *Controller) FindMatch(ctx context.Context, query string) (domain.Ticket, error) {
	if query == "" {
		query = c.opts.Query
	}
	if c.machine.State() != SessionIdle {
		return domain.Ticket{}, ErrSessionActive
	}
	ticket, err := c.coordinator.JoinQueue(ctx, query, c.opts.MinCount, c.opts.MaxCount)
	if err != nil {
		return domain.Ticket{}, err
	}
	c.mu.Lock()
	c.lastQuery = query
	c.mu.Unlock()
	return ticket, nil
}

func (c *Controller) CancelMatchmaking(ctx context.Context) error {
	return c.coordinator.CancelQueue(ctx)
}

// RequestMove forwards a move for the local participant.
func (c *Controller) RequestMove(ctx context.Context, row, col int) (bool, error) {
	if c.machine.State() == SessionIdle {
		return false, ErrNotInSession
	}
	return c.machine.RequestMove(ctx, row, col)
}

// Resign forfeits the running game.
func (c *Controller) Resign(ctx context.Context) error {
	return c.machine.Resign(ctx)
}

func (c *Controller) Resync(ctx context.Context) error {
	return c.machine.Resync(ctx)
}

func (c *Controller) Leave(ctx context.Context) error {
	return c.machine.Leave(ctx)
}

// PlayAgain leaves the finished session and queues again with the last query.
func (c *Controller) PlayAgain(ctx context.Context) (domain.Ticket, error) {
	if err := c.machine.Leave(ctx); err != nil {
		return domain.Ticket{}, fmt.Errorf("failed to leave session: %w", err)
	}
	c.mu.Lock()
	query := c.lastQuery
	c.mu.Unlock()
	return c.FindMatch(ctx, query)
}

// Close cancels any ticket, leaves any session, forgets the login and closes
// the transport.
func (c *Controller) Close(ctx context.Context) error {
	if err := c.coordinator.CancelQueue(ctx); err != nil {
		c.logger.Warn("Controller: cancel on close failed: %v", err)
	}
	_ = c.machine.Leave(ctx)
	c.sessions.Clear()
	return c.rt.Close()
}
