package nakama

import (
	"tictactoe/internal/domain"
	"tictactoe/internal/ports"

	"github.com/heroiclabs/nakama-common/rtapi"
)

func participantFromPresence(p *rtapi.UserPresence) domain.Participant {
	return domain.Participant{ID: p.GetUserId(), DisplayName: p.GetUsername()}
}

func participantsFromPresences(presences []*rtapi.UserPresence) []domain.Participant {
	out := make([]domain.Participant, 0, len(presences))
	for _, p := range presences {
		if p == nil {
			continue
		}
		out = append(out, participantFromPresence(p))
	}
	return out
}

// sessionRefFromMatch lists self first, then the other presences.
func sessionRefFromMatch(m *rtapi.Match) domain.SessionRef {
	ref := domain.SessionRef{SessionID: m.GetMatchId()}
	if self := m.GetSelf(); self != nil {
		ref.Participants = append(ref.Participants, participantFromPresence(self))
	}
	ref.ApplyPresence(participantsFromPresences(m.GetPresences()), nil)
	return ref
}

func matchedFromProto(m *rtapi.MatchmakerMatched) ports.MatchedNotification {
	out := ports.MatchedNotification{
		TicketID:  m.GetTicket(),
		SessionID: m.GetMatchId(),
		Token:     m.GetToken(),
	}
	for _, u := range m.GetUsers() {
		if u.GetPresence() == nil {
			continue
		}
		out.Participants = append(out.Participants, participantFromPresence(u.GetPresence()))
	}
	if self := m.GetSelf().GetPresence(); self != nil {
		out.Self = participantFromPresence(self)
	}
	return out
}

func matchDataFromProto(m *rtapi.MatchData) ports.MatchDataNotification {
	out := ports.MatchDataNotification{
		SessionID: m.GetMatchId(),
		Envelope:  domain.Envelope{OpCode: m.GetOpCode(), Payload: m.GetData()},
	}
	if p := m.GetPresence(); p != nil {
		out.Sender = participantFromPresence(p)
	}
	return out
}

func presenceFromProto(m *rtapi.MatchPresenceEvent) ports.PresenceNotification {
	return ports.PresenceNotification{
		SessionID: m.GetMatchId(),
		Joins:     participantsFromPresences(m.GetJoins()),
		Leaves:    participantsFromPresences(m.GetLeaves()),
	}
}
