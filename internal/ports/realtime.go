package ports

import (
	"context"
	"errors"
	"sync"

	"tictactoe/internal/domain"
)

// ErrSubscriberActive is returned by Subscribe while another subscription is open.
var ErrSubscriberActive = errors.New("realtime subscription already active")

// RealtimePort is the persistent channel to the game server.
type RealtimePort interface {
	// Connect opens the channel for sess. Calling it again while connected is a no-op.
	Connect(ctx context.Context, sess *domain.Session) error

	// AddMatchmaker submits a matchmaking request and returns the open ticket.
	AddMatchmaker(ctx context.Context, query string, minCount, maxCount int) (domain.Ticket, error)

	// RemoveMatchmaker withdraws an open ticket.
	RemoveMatchmaker(ctx context.Context, ticketID string) error

	// CreateMatch asks the authority to create a new session.
	CreateMatch(ctx context.Context) (domain.SessionRef, error)

	// JoinMatch joins an existing session and returns the presences known at join time.
	JoinMatch(ctx context.Context, sessionID string) (domain.SessionRef, error)

	// LeaveMatch leaves a joined session.
	LeaveMatch(ctx context.Context, sessionID string) error

	// SendMatchData sends env on the session channel without waiting for a reply.
	SendMatchData(ctx context.Context, sessionID string, env domain.Envelope) error

	// Subscribe takes the exclusive subscription to unsolicited notifications.
	Subscribe() (*Subscription, error)

	// Close tears down the channel.
	Close() error
}

// Notification is an unsolicited message pushed by the server.
type Notification interface{ isNotification() }

// MatchedNotification reports that the matchmaker paired a ticket. Either
// SessionID or Token is set.
type MatchedNotification struct {
	TicketID     string
	SessionID    string
	Token        string
	Participants []domain.Participant
	Self         domain.Participant
}

// MatchDataNotification carries one envelope from a session.
type MatchDataNotification struct {
	SessionID string
	Sender    domain.Participant
	Envelope  domain.Envelope
}

// PresenceNotification reports participants joining or leaving a session.
type PresenceNotification struct {
	SessionID string
	Joins     []domain.Participant
	Leaves    []domain.Participant
}

// ErrorNotification is an error pushed by the server outside any request.
type ErrorNotification struct {
	Code    int32
	Message string
}

// DisconnectedNotification is delivered once when the channel drops.
type DisconnectedNotification struct {
	Err error
}

func (MatchedNotification) isNotification()      {}
func (MatchDataNotification) isNotification()    {}
func (PresenceNotification) isNotification()     {}
func (ErrorNotification) isNotification()        {}
func (DisconnectedNotification) isNotification() {}

// Dispatcher hands notifications to at most one subscriber at a time.
// Notifications published with no subscriber, or to a full buffer, are dropped.
type Dispatcher struct {
	mu     sync.Mutex
	active *Subscription
	buffer int
}

// NewDispatcher creates a dispatcher whose subscriptions buffer up to buffer notifications.
func NewDispatcher(buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	return &Dispatcher{buffer: buffer}
}

// Subscribe opens the exclusive subscription.
func (d *Dispatcher) Subscribe() (*Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active != nil {
		return nil, ErrSubscriberActive
	}
	sub := &Subscription{
		c:    make(chan Notification, d.buffer),
		done: make(chan struct{}),
		d:    d,
	}
	d.active = sub
	return sub, nil
}

// Publish delivers n to the active subscriber and reports whether it was accepted.
func (d *Dispatcher) Publish(n Notification) bool {
	d.mu.Lock()
	sub := d.active
	d.mu.Unlock()

	if sub == nil {
		return false
	}
	select {
	case <-sub.done:
		return false
	default:
	}
	select {
	case sub.c <- n:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) release(sub *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == sub {
		d.active = nil
	}
}

// Subscription is an open, exclusive stream of notifications.
type Subscription struct {
	c    chan Notification
	done chan struct{}
	once sync.Once
	d    *Dispatcher
}

// C returns the notification stream. It is never closed; select on Done as well.
func (s *Subscription) C() <-chan Notification {
	return s.c
}

// Done is closed once the subscription is released.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.d.release(s)
		close(s.done)
	})
}
