package nakama

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"tictactoe/internal/domain"
	"tictactoe/internal/ports"

	"github.com/gorilla/websocket"
	"github.com/heroiclabs/nakama-common/rtapi"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var (
	// ErrNotConnected is returned by requests made without an open connection.
	ErrNotConnected = errors.New("realtime socket not connected")
	// ErrDisconnected is returned to requests still waiting when the connection drops.
	ErrDisconnected = errors.New("realtime socket disconnected")
)

// RealtimeError is an error reply from the realtime API.
type RealtimeError struct {
	Code    int32
	Message string
}

func (e *RealtimeError) Error() string {
	return fmt.Sprintf("nakama realtime error %d: %s", e.Code, e.Message)
}

// SocketConfig tunes a Socket. Zero values fall back to defaults.
type SocketConfig struct {
	Format       string
	PingInterval time.Duration
	EventBuffer  int
	Dialer       *websocket.Dialer
	Clock        clockwork.Clock
	// OnError is called once per connection when it fails.
	OnError func(error)
}

// Socket is the realtime connection to Nakama. It correlates replies to
// requests by cid and hands every unsolicited envelope to the one active
// subscriber. It never reconnects on its own.
type Socket struct {
	endpoint Endpoint
	cfg      SocketConfig
	logger   runtime.Logger
	events   *ports.Dispatcher

	mu   sync.Mutex
	conn *connection
}

type connection struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex

	mu         sync.Mutex
	pending    map[string]chan *rtapi.Envelope
	nextCid    uint64
	userClosed bool
}

// NewSocket creates an unconnected socket.
func NewSocket(endpoint Endpoint, cfg SocketConfig, logger runtime.Logger) *Socket {
	if cfg.Format != FormatProtobuf {
		cfg.Format = FormatJSON
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Socket{
		endpoint: endpoint,
		cfg:      cfg,
		logger:   logger,
		events:   ports.NewDispatcher(cfg.EventBuffer),
	}
}

// Connect dials the server with the session token. It is a no-op while connected.
func (s *Socket) Connect(ctx context.Context, sess *domain.Session) error {
	if sess == nil || sess.Token == "" {
		return fmt.Errorf("connect requires a session token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	ws, _, err := s.cfg.Dialer.DialContext(ctx, s.endpoint.SocketURL(sess.Token, s.cfg.Format), nil)
	if err != nil {
		return fmt.Errorf("failed to dial realtime socket: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &connection{
		ws:      ws,
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: make(map[string]chan *rtapi.Envelope),
	}
	s.conn = c

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.readLoop(c) })
	g.Go(func() error { return s.pingLoop(gctx, c) })
	g.Go(func() error {
		<-gctx.Done()
		return ws.Close()
	})
	go func() {
		err := g.Wait()
		s.teardown(c, err)
	}()

	s.logger.Info("Realtime socket connected to %s as %s", s.endpoint.BaseURL(), sess.UserID)
	return nil
}

// Close closes the connection without reporting it as a failure.
func (s *Socket) Close() error {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	c.mu.Lock()
	c.userClosed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.cancel()
	<-c.done
	return nil
}

// Subscribe takes the exclusive subscription to unsolicited envelopes.
func (s *Socket) Subscribe() (*ports.Subscription, error) {
	return s.events.Subscribe()
}

// AddMatchmaker submits a matchmaker ticket.
func (s *Socket) AddMatchmaker(ctx context.Context, query string, minCount, maxCount int) (domain.Ticket, error) {
	reply, err := s.request(ctx, &rtapi.Envelope{Message: &rtapi.Envelope_MatchmakerAdd{MatchmakerAdd: &rtapi.MatchmakerAdd{
		MinCount: int32(minCount),
		MaxCount: int32(maxCount),
		Query:    query,
	}}})
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("failed to add matchmaker ticket: %w", err)
	}
	ticket := reply.GetMatchmakerTicket().GetTicket()
	if ticket == "" {
		return domain.Ticket{}, fmt.Errorf("matchmaker reply carried no ticket")
	}
	return domain.Ticket{
		TicketID: ticket,
		Query:    query,
		MinCount: minCount,
		MaxCount: maxCount,
		Status:   domain.TicketOpen,
	}, nil
}

// RemoveMatchmaker withdraws a ticket.
func (s *Socket) RemoveMatchmaker(ctx context.Context, ticketID string) error {
	_, err := s.request(ctx, &rtapi.Envelope{Message: &rtapi.Envelope_MatchmakerRemove{MatchmakerRemove: &rtapi.MatchmakerRemove{
		Ticket: ticketID,
	}}})
	if err != nil {
		return fmt.Errorf("failed to remove matchmaker ticket: %w", err)
	}
	return nil
}

// CreateMatch creates a new match and returns it with self as the only participant.
func (s *Socket) CreateMatch(ctx context.Context) (domain.SessionRef, error) {
	reply, err := s.request(ctx, &rtapi.Envelope{Message: &rtapi.Envelope_MatchCreate{MatchCreate: &rtapi.MatchCreate{}}})
	if err != nil {
		return domain.SessionRef{}, fmt.Errorf("failed to create match: %w", err)
	}
	if reply.GetMatch() == nil {
		return domain.SessionRef{}, fmt.Errorf("create match reply carried no match")
	}
	return sessionRefFromMatch(reply.GetMatch()), nil
}

// JoinMatch joins a match by id.
func (s *Socket) JoinMatch(ctx context.Context, sessionID string) (domain.SessionRef, error) {
	reply, err := s.request(ctx, &rtapi.Envelope{Message: &rtapi.Envelope_MatchJoin{MatchJoin: &rtapi.MatchJoin{
		Id: &rtapi.MatchJoin_MatchId{MatchId: sessionID},
	}}})
	if err != nil {
		return domain.SessionRef{}, fmt.Errorf("failed to join match %s: %w", sessionID, err)
	}
	if reply.GetMatch() == nil {
		return domain.SessionRef{}, fmt.Errorf("join match reply carried no match")
	}
	return sessionRefFromMatch(reply.GetMatch()), nil
}

// LeaveMatch leaves a match.
func (s *Socket) LeaveMatch(ctx context.Context, sessionID string) error {
	_, err := s.request(ctx, &rtapi.Envelope{Message: &rtapi.Envelope_MatchLeave{MatchLeave: &rtapi.MatchLeave{
		MatchId: sessionID,
	}}})
	if err != nil {
		return fmt.Errorf("failed to leave match %s: %w", sessionID, err)
	}
	return nil
}

// SendMatchData sends env to the match without waiting for a reply.
func (s *Socket) SendMatchData(ctx context.Context, sessionID string, env domain.Envelope) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	return s.write(ctx, c, &rtapi.Envelope{Message: &rtapi.Envelope_MatchDataSend{MatchDataSend: &rtapi.MatchDataSend{
		MatchId:  sessionID,
		OpCode:   env.OpCode,
		Data:     env.Payload,
		Reliable: true,
	}}})
}

func (s *Socket) current() (*connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

func (s *Socket) request(ctx context.Context, env *rtapi.Envelope) (*rtapi.Envelope, error) {
	c, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.roundTrip(ctx, c, env)
}

// roundTrip sends env on c and waits for the reply carrying the same cid.
func (s *Socket) roundTrip(ctx context.Context, c *connection, env *rtapi.Envelope) (*rtapi.Envelope, error) {
	c.mu.Lock()
	c.nextCid++
	cid := strconv.FormatUint(c.nextCid, 10)
	reply := make(chan *rtapi.Envelope, 1)
	c.pending[cid] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, cid)
		c.mu.Unlock()
	}()

	env.Cid = cid
	if err := s.write(ctx, c, env); err != nil {
		return nil, err
	}

	select {
	case r := <-reply:
		if e := r.GetError(); e != nil {
			return nil, &RealtimeError{Code: e.GetCode(), Message: e.GetMessage()}
		}
		return r, nil
	case <-c.done:
		return nil, ErrDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Socket) write(ctx context.Context, c *connection, env *rtapi.Envelope) error {
	data, messageType, err := s.encode(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	} else {
		_ = c.ws.SetWriteDeadline(time.Time{})
	}
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}
	return nil
}

func (s *Socket) encode(env *rtapi.Envelope) ([]byte, int, error) {
	if s.cfg.Format == FormatProtobuf {
		data, err := proto.Marshal(env)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode envelope: %w", err)
		}
		return data, websocket.BinaryMessage, nil
	}
	data, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(env)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, websocket.TextMessage, nil
}

func (s *Socket) decode(data []byte) (*rtapi.Envelope, error) {
	env := &rtapi.Envelope{}
	var err error
	if s.cfg.Format == FormatProtobuf {
		err = proto.Unmarshal(data, env)
	} else {
		err = protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(data, env)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return env, nil
}

func (s *Socket) readLoop(c *connection) error {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		env, err := s.decode(data)
		if err != nil {
			s.logger.Warn("Discarding malformed envelope: %v", err)
			continue
		}
		s.route(c, env)
	}
}

func (s *Socket) route(c *connection, env *rtapi.Envelope) {
	if env.GetCid() != "" {
		c.mu.Lock()
		reply, ok := c.pending[env.GetCid()]
		c.mu.Unlock()
		if !ok {
			s.logger.Debug("Reply for unknown cid %s dropped", env.GetCid())
			return
		}
		select {
		case reply <- env:
		default:
			s.logger.Debug("Duplicate reply for cid %s dropped", env.GetCid())
		}
		return
	}

	var n ports.Notification
	switch msg := env.Message.(type) {
	case *rtapi.Envelope_MatchmakerMatched:
		n = matchedFromProto(msg.MatchmakerMatched)
	case *rtapi.Envelope_MatchData:
		n = matchDataFromProto(msg.MatchData)
	case *rtapi.Envelope_MatchPresenceEvent:
		n = presenceFromProto(msg.MatchPresenceEvent)
	case *rtapi.Envelope_Error:
		n = ports.ErrorNotification{Code: msg.Error.GetCode(), Message: msg.Error.GetMessage()}
	default:
		s.logger.Debug("Ignoring envelope %T", env.Message)
		return
	}
	if !s.events.Publish(n) {
		s.logger.Debug("No subscriber accepted %T", n)
	}
}

func (s *Socket) pingLoop(ctx context.Context, c *connection) error {
	ticker := s.cfg.Clock.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			pingCtx, cancel := context.WithTimeout(ctx, s.cfg.PingInterval)
			_, err := s.roundTrip(pingCtx, c, &rtapi.Envelope{Message: &rtapi.Envelope_Ping{Ping: &rtapi.Ping{}}})
			cancel()
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("keepalive failed: %w", err)
			}
		}
	}
}

func (s *Socket) teardown(c *connection, err error) {
	s.mu.Lock()
	if s.conn == c {
		s.conn = nil
	}
	s.mu.Unlock()

	c.mu.Lock()
	userClosed := c.userClosed
	c.mu.Unlock()
	close(c.done)

	if userClosed {
		s.logger.Info("Realtime socket closed")
		return
	}
	if err == nil {
		err = ErrDisconnected
	}
	s.logger.Error("Realtime socket failed: %v", err)
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
	s.events.Publish(ports.DisconnectedNotification{Err: err})
}

var _ ports.RealtimePort = (*Socket)(nil)
