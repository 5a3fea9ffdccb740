package nakama

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"tictactoe/internal/domain"
	"tictactoe/internal/logging"
	"tictactoe/internal/ports"

	"github.com/gorilla/websocket"
	"github.com/heroiclabs/nakama-common/rtapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const waitTimeout = 2 * time.Second

// fakeRealtime is a scripted Nakama realtime endpoint. handle is called for
// every client envelope and returns the replies to send.
type fakeRealtime struct {
	t      *testing.T
	format string
	handle func(env *rtapi.Envelope) []*rtapi.Envelope

	mu       sync.Mutex
	conn     *websocket.Conn
	received []*rtapi.Envelope
	query    map[string]string
	ready    chan struct{}
}

func newFakeRealtime(t *testing.T, format string, handle func(*rtapi.Envelope) []*rtapi.Envelope) (*fakeRealtime, Endpoint) {
	t.Helper()
	f := &fakeRealtime{t: t, format: format, handle: handle, ready: make(chan struct{})}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		q := map[string]string{}
		for k := range r.URL.Query() {
			q[k] = r.URL.Query().Get(k)
		}
		f.mu.Lock()
		f.conn = conn
		f.query = q
		f.mu.Unlock()
		close(f.ready)
		f.serve(conn)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, endpointFor(t, srv)
}

func (f *fakeRealtime) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env := &rtapi.Envelope{}
		if f.format == FormatProtobuf {
			err = proto.Unmarshal(data, env)
		} else {
			err = protojson.Unmarshal(data, env)
		}
		if err != nil {
			f.t.Errorf("fake realtime: bad envelope: %v", err)
			return
		}
		f.mu.Lock()
		f.received = append(f.received, env)
		f.mu.Unlock()
		if f.handle == nil {
			continue
		}
		for _, reply := range f.handle(env) {
			f.push(reply)
		}
	}
}

func (f *fakeRealtime) push(env *rtapi.Envelope) {
	var (
		data []byte
		mt   = websocket.TextMessage
	)
	if f.format == FormatProtobuf {
		data, _ = proto.Marshal(env)
		mt = websocket.BinaryMessage
	} else {
		data, _ = protojson.Marshal(env)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.conn.WriteMessage(mt, data)
}

func (f *fakeRealtime) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.conn.Close()
}

func (f *fakeRealtime) receivedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func (f *fakeRealtime) last() *rtapi.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.received[len(f.received)-1]
}

// nakamaReplies answers requests the way the server does.
func nakamaReplies(env *rtapi.Envelope) []*rtapi.Envelope {
	self := &rtapi.UserPresence{UserId: "u1", Username: "alice", SessionId: "s1"}
	switch msg := env.Message.(type) {
	case *rtapi.Envelope_MatchmakerAdd:
		if msg.MatchmakerAdd.GetMinCount() > msg.MatchmakerAdd.GetMaxCount() {
			return []*rtapi.Envelope{{Cid: env.Cid, Message: &rtapi.Envelope_Error{Error: &rtapi.Error{Code: 3, Message: "Invalid count"}}}}
		}
		return []*rtapi.Envelope{{Cid: env.Cid, Message: &rtapi.Envelope_MatchmakerTicket{MatchmakerTicket: &rtapi.MatchmakerTicket{Ticket: "ticket-1"}}}}
	case *rtapi.Envelope_MatchmakerRemove, *rtapi.Envelope_MatchLeave:
		return []*rtapi.Envelope{{Cid: env.Cid}}
	case *rtapi.Envelope_MatchCreate:
		return []*rtapi.Envelope{{Cid: env.Cid, Message: &rtapi.Envelope_Match{Match: &rtapi.Match{MatchId: "m-new", Self: self}}}}
	case *rtapi.Envelope_MatchJoin:
		return []*rtapi.Envelope{{Cid: env.Cid, Message: &rtapi.Envelope_Match{Match: &rtapi.Match{
			MatchId:   msg.MatchJoin.GetMatchId(),
			Self:      self,
			Presences: []*rtapi.UserPresence{self, {UserId: "u2", Username: "bob", SessionId: "s2"}},
		}}}}
	case *rtapi.Envelope_Ping:
		return []*rtapi.Envelope{{Cid: env.Cid, Message: &rtapi.Envelope_Pong{Pong: &rtapi.Pong{}}}}
	}
	return nil
}

func connectSocket(t *testing.T, ep Endpoint, cfg SocketConfig) *Socket {
	t.Helper()
	s := NewSocket(ep, cfg, logging.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, s.Connect(ctx, &domain.Session{UserID: "u1", Token: "tok"}))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func nextNotification(t *testing.T, sub *ports.Subscription) ports.Notification {
	t.Helper()
	select {
	case n := <-sub.C():
		return n
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for notification")
		return nil
	}
}

func TestSocketRequests(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatProtobuf} {
		t.Run(format, func(t *testing.T) {
			fake, ep := newFakeRealtime(t, format, nakamaReplies)
			s := connectSocket(t, ep, SocketConfig{Format: format})
			ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
			defer cancel()

			<-fake.ready
			assert.Equal(t, format, fake.query["format"])
			assert.Equal(t, "tok", fake.query["token"])

			ticket, err := s.AddMatchmaker(ctx, "*", 2, 2)
			require.NoError(t, err)
			assert.Equal(t, domain.Ticket{TicketID: "ticket-1", Query: "*", MinCount: 2, MaxCount: 2, Status: domain.TicketOpen}, ticket)

			ref, err := s.JoinMatch(ctx, "m1")
			require.NoError(t, err)
			assert.Equal(t, "m1", ref.SessionID)
			assert.Equal(t, []domain.Participant{{ID: "u1", DisplayName: "alice"}, {ID: "u2", DisplayName: "bob"}}, ref.Participants)

			created, err := s.CreateMatch(ctx)
			require.NoError(t, err)
			assert.Equal(t, "m-new", created.SessionID)

			require.NoError(t, s.RemoveMatchmaker(ctx, "ticket-1"))
			require.NoError(t, s.LeaveMatch(ctx, "m1"))
		})
	}
}

func TestSocketRealtimeError(t *testing.T) {
	_, ep := newFakeRealtime(t, FormatJSON, nakamaReplies)
	s := connectSocket(t, ep, SocketConfig{})

	_, err := s.AddMatchmaker(context.Background(), "*", 3, 2)
	var rtErr *RealtimeError
	require.True(t, errors.As(err, &rtErr), "err = %v", err)
	assert.Equal(t, int32(3), rtErr.Code)
}

func TestSocketSendMatchData(t *testing.T) {
	fake, ep := newFakeRealtime(t, FormatJSON, nil)
	s := connectSocket(t, ep, SocketConfig{})

	env, err := domain.EncodeMove(1, 2)
	require.NoError(t, err)
	require.NoError(t, s.SendMatchData(context.Background(), "m1", env))

	require.Eventually(t, func() bool { return fake.receivedCount() == 1 }, waitTimeout, 10*time.Millisecond)
	sent := fake.last().GetMatchDataSend()
	require.NotNil(t, sent)
	assert.Equal(t, "m1", sent.GetMatchId())
	assert.Equal(t, domain.OpCodeMoveRequest, sent.GetOpCode())
	assert.JSONEq(t, `{"row":1,"col":2}`, string(sent.GetData()))
}

func TestSocketRoutesNotificationsToSubscriber(t *testing.T) {
	fake, ep := newFakeRealtime(t, FormatJSON, nil)
	s := connectSocket(t, ep, SocketConfig{EventBuffer: 8})
	<-fake.ready

	sub, err := s.Subscribe()
	require.NoError(t, err)
	defer sub.Close()
	_, err = s.Subscribe()
	assert.ErrorIs(t, err, ports.ErrSubscriberActive)

	fake.push(&rtapi.Envelope{Message: &rtapi.Envelope_MatchmakerMatched{MatchmakerMatched: &rtapi.MatchmakerMatched{
		Ticket: "ticket-1",
		Id:     &rtapi.MatchmakerMatched_Token{Token: "t1"},
		Users: []*rtapi.MatchmakerMatched_MatchmakerUser{
			{Presence: &rtapi.UserPresence{UserId: "u2", Username: "bob"}},
			{Presence: &rtapi.UserPresence{UserId: "u1", Username: "alice"}},
		},
		Self: &rtapi.MatchmakerMatched_MatchmakerUser{Presence: &rtapi.UserPresence{UserId: "u1", Username: "alice"}},
	}}})
	matched, ok := nextNotification(t, sub).(ports.MatchedNotification)
	require.True(t, ok)
	assert.Equal(t, "t1", matched.Token)
	assert.Empty(t, matched.SessionID)
	assert.Equal(t, []string{"u2", "u1"}, domain.ParticipantIDs(matched.Participants))
	assert.Equal(t, "u1", matched.Self.ID)

	fake.push(&rtapi.Envelope{Message: &rtapi.Envelope_MatchData{MatchData: &rtapi.MatchData{
		MatchId:  "m1",
		OpCode:   domain.OpCodeStateUpdate,
		Data:     []byte(`{"board":[["","",""],["","",""],["","",""]]}`),
		Presence: &rtapi.UserPresence{UserId: "u2"},
	}}})
	data, ok := nextNotification(t, sub).(ports.MatchDataNotification)
	require.True(t, ok)
	assert.Equal(t, domain.OpCodeStateUpdate, data.Envelope.OpCode)
	assert.Equal(t, "u2", data.Sender.ID)

	fake.push(&rtapi.Envelope{Message: &rtapi.Envelope_MatchPresenceEvent{MatchPresenceEvent: &rtapi.MatchPresenceEvent{
		MatchId: "m1",
		Leaves:  []*rtapi.UserPresence{{UserId: "u2", Username: "bob"}},
	}}})
	presence, ok := nextNotification(t, sub).(ports.PresenceNotification)
	require.True(t, ok)
	assert.Equal(t, "u2", presence.Leaves[0].ID)

	fake.push(&rtapi.Envelope{Message: &rtapi.Envelope_Error{Error: &rtapi.Error{Code: 6, Message: "matchmaker failed"}}})
	e, ok := nextNotification(t, sub).(ports.ErrorNotification)
	require.True(t, ok)
	assert.Equal(t, "matchmaker failed", e.Message)
}

func TestSocketReportsDisconnectOnce(t *testing.T) {
	var (
		mu   sync.Mutex
		errs []error
	)
	fake, ep := newFakeRealtime(t, FormatJSON, nil)
	s := connectSocket(t, ep, SocketConfig{OnError: func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}})
	<-fake.ready
	sub, err := s.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	fake.drop()

	_, ok := nextNotification(t, sub).(ports.DisconnectedNotification)
	require.True(t, ok)
	mu.Lock()
	assert.Len(t, errs, 1)
	mu.Unlock()

	_, err = s.AddMatchmaker(context.Background(), "*", 2, 2)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSocketCloseIsNotAnError(t *testing.T) {
	called := false
	fake, ep := newFakeRealtime(t, FormatJSON, nil)
	s := NewSocket(ep, SocketConfig{OnError: func(error) { called = true }}, logging.Nop())
	require.NoError(t, s.Connect(context.Background(), &domain.Session{Token: "tok"}))
	require.NoError(t, s.Connect(context.Background(), &domain.Session{Token: "tok"}))
	<-fake.ready

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, called)
}
