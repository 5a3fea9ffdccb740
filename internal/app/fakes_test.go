package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"tictactoe/internal/domain"
	"tictactoe/internal/logging"
	"tictactoe/internal/ports"

	"github.com/jonboulle/clockwork"
)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntil(n int)
}

var testLogger = logging.Nop()

type sentEnvelope struct {
	SessionID string
	Envelope  domain.Envelope
}

// fakeRealtime records requests and lets tests push notifications through
// the embedded dispatcher.
type fakeRealtime struct {
	*ports.Dispatcher

	mu         sync.Mutex
	self       domain.Participant
	connects   int
	tickets    int
	removed    []string
	created    []string
	joined     []string
	left       []string
	sent       []sentEnvelope
	closed     bool
	createID   string
	connectErr error
	addErr     error
	removeErr  error
	joinErr    error
	leaveErr   error
	sendErr    error
}

func newFakeRealtime(createID string) *fakeRealtime {
	return &fakeRealtime{Dispatcher: ports.NewDispatcher(16), createID: createID}
}

func (f *fakeRealtime) Connect(_ context.Context, sess *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connects++
	f.self = domain.Participant{ID: sess.UserID, DisplayName: sess.Username}
	return nil
}

func (f *fakeRealtime) AddMatchmaker(_ context.Context, query string, minCount, maxCount int) (domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return domain.Ticket{}, f.addErr
	}
	f.tickets++
	return domain.Ticket{
		TicketID: fmt.Sprintf("ticket-%d", f.tickets),
		Query:    query,
		MinCount: minCount,
		MaxCount: maxCount,
		Status:   domain.TicketOpen,
	}, nil
}

func (f *fakeRealtime) RemoveMatchmaker(_ context.Context, ticketID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, ticketID)
	return f.removeErr
}

func (f *fakeRealtime) CreateMatch(context.Context) (domain.SessionRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, f.createID)
	return domain.SessionRef{SessionID: f.createID, Participants: []domain.Participant{f.self}}, nil
}

func (f *fakeRealtime) JoinMatch(_ context.Context, sessionID string) (domain.SessionRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return domain.SessionRef{}, f.joinErr
	}
	f.joined = append(f.joined, sessionID)
	return domain.SessionRef{SessionID: sessionID, Participants: []domain.Participant{f.self}}, nil
}

func (f *fakeRealtime) LeaveMatch(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, sessionID)
	return f.leaveErr
}

func (f *fakeRealtime) SendMatchData(_ context.Context, sessionID string, env domain.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentEnvelope{SessionID: sessionID, Envelope: env})
	return nil
}

func (f *fakeRealtime) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRealtime) sentEnvelopes() []sentEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEnvelope(nil), f.sent...)
}

func (f *fakeRealtime) createdSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

func (f *fakeRealtime) removedTickets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func (f *fakeRealtime) leftSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.left...)
}

// fakeStore is a write-once record store. Get reports not found for the
// first hideUntil calls and fails on the calls listed in errOn.
type fakeStore struct {
	mu        sync.Mutex
	records   map[string]domain.CoordinationRecord
	gets      int
	hideUntil int
	errOn     map[int]error
	putErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]domain.CoordinationRecord{}, errOn: map[int]error{}}
}

func (s *fakeStore) Put(_ context.Context, sess *domain.Session, rec domain.CoordinationRecord) (domain.CoordinationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return domain.CoordinationRecord{}, s.putErr
	}
	k := sess.UserID + "/" + rec.Key
	if existing, ok := s.records[k]; ok {
		return existing, nil
	}
	s.records[k] = rec
	return rec, nil
}

func (s *fakeStore) Get(_ context.Context, _ *domain.Session, key, ownerID string) (domain.CoordinationRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if err := s.errOn[s.gets]; err != nil {
		return domain.CoordinationRecord{}, false, err
	}
	if s.gets <= s.hideUntil {
		return domain.CoordinationRecord{}, false, nil
	}
	rec, ok := s.records[ownerID+"/"+key]
	return rec, ok, nil
}

func (s *fakeStore) seed(ownerID string, rec domain.CoordinationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[ownerID+"/"+rec.Key] = rec
}

func (s *fakeStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

type fakeAuth struct {
	users map[string]string
	err   error
}

func (a *fakeAuth) Authenticate(_ context.Context, cred domain.Credential) (*domain.Session, error) {
	if a.err != nil {
		return nil, a.err
	}
	id, ok := a.users[cred.DeviceID]
	if !ok {
		return nil, fmt.Errorf("unknown device %s", cred.DeviceID)
	}
	return &domain.Session{UserID: id, Username: cred.Nickname, Token: "token-" + id}, nil
}

type fakeProfiles struct {
	profile domain.RatingProfile
	err     error
}

func (p *fakeProfiles) FetchProfile(context.Context, *domain.Session, string) (domain.RatingProfile, error) {
	return p.profile, p.err
}

type fakeLeaderboard struct {
	entries []domain.LeaderboardEntry
	err     error
	block   chan struct{}
}

func (l *fakeLeaderboard) FetchLeaderboard(ctx context.Context, _ *domain.Session) ([]domain.LeaderboardEntry, error) {
	if l.block != nil {
		select {
		case <-l.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return l.entries, l.err
}

type fakeGames struct {
	mu       sync.Mutex
	state    domain.GameSnapshot
	resigned domain.GameSnapshot
	err      error
	calls    []string
}

func (g *fakeGames) FetchGameState(_ context.Context, _ *domain.Session, sessionID string) (domain.GameSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "get:"+sessionID)
	return g.state.Clone(), g.err
}

func (g *fakeGames) Resign(_ context.Context, _ *domain.Session, sessionID string) (domain.GameSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "resign:"+sessionID)
	return g.resigned.Clone(), g.err
}

func (g *fakeGames) recorded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// fakeJoiner stands in for the session machine in coordinator tests.
type fakeJoiner struct {
	joined chan string
	err    error
}

func newFakeJoiner() *fakeJoiner {
	return &fakeJoiner{joined: make(chan string, 4)}
}

func (j *fakeJoiner) Join(_ context.Context, sessionID string) (domain.SessionRef, error) {
	if j.err != nil {
		return domain.SessionRef{}, j.err
	}
	j.joined <- sessionID
	return domain.SessionRef{SessionID: sessionID}, nil
}

type recorder struct {
	ch chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 256)}
}

func (r *recorder) emit(e Event) {
	select {
	case r.ch <- e:
	default:
	}
}

// waitEvent reads from ch until an event of kind arrives.
func waitEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Kind == kind {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
			return Event{}
		}
	}
}

// drainEvents returns everything already queued on ch.
func drainEvents(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func waitString(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for value")
		return ""
	}
}

func newSessionContext(userID string) *SessionContext {
	sessions := NewSessionContext()
	sessions.Set(&domain.Session{UserID: userID, Username: userID, Token: "token-" + userID})
	return sessions
}

// board builds a board from rows like "X.O"; '.' is empty.
func board(rows ...string) domain.Board {
	var b domain.Board
	for r, row := range rows {
		for c, ch := range row {
			if ch != '.' {
				b[r][c] = domain.Mark(string(ch))
			}
		}
	}
	return b
}

func snapshotEnvelope(t *testing.T, opCode int64, s domain.GameSnapshot) domain.Envelope {
	t.Helper()
	data, err := json.Marshal(map[string]any{"op_code": opCode, "data": s})
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	return domain.Envelope{OpCode: opCode, Payload: data}
}

func rawEnvelope(opCode int64, payload string) domain.Envelope {
	return domain.Envelope{OpCode: opCode, Payload: []byte(strings.TrimSpace(payload))}
}

func matchData(sessionID string, env domain.Envelope) ports.MatchDataNotification {
	return ports.MatchDataNotification{SessionID: sessionID, Envelope: env}
}
