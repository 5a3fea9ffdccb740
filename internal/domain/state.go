package domain

import "time"

// DefaultRating is the rating assumed for players without a stored profile.
const DefaultRating = 1000

// Credential identifies a device and the nickname chosen on it.
type Credential struct {
	DeviceID string
	Nickname string
}

// RatingProfile holds a player's lifetime record as reported by the server.
type RatingProfile struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
	Rating int `json:"rating"`
}

// DefaultRatingProfile is used whenever the profile fetch fails.
func DefaultRatingProfile() RatingProfile {
	return RatingProfile{Rating: DefaultRating}
}

// Session is an authenticated player. It is never mutated after creation;
// logging in again produces a new Session.
type Session struct {
	UserID    string
	Username  string
	Token     string
	ExpiresAt time.Time
	Profile   RatingProfile
}

// Expired reports whether the session token is past its expiry at now.
// A zero ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// WithProfile returns a copy of the session carrying profile.
func (s Session) WithProfile(profile RatingProfile) *Session {
	s.Profile = profile
	return &s
}

// TicketStatus is the lifecycle of a matchmaking ticket.
type TicketStatus string

const (
	TicketOpen      TicketStatus = "open"
	TicketMatched   TicketStatus = "matched"
	TicketCancelled TicketStatus = "cancelled"
)

// Ticket is an open matchmaking request.
type Ticket struct {
	TicketID string
	Query    string
	MinCount int
	MaxCount int
	Status   TicketStatus
}

// Participant is one member of a shared session.
type Participant struct {
	ID          string
	DisplayName string
}

// SessionRef describes a joined session and who is in it. Participants may
// be incomplete right after joining; presence events fill it in.
type SessionRef struct {
	SessionID    string
	Participants []Participant
}

// Participant returns the participant with the given id.
func (r *SessionRef) Participant(id string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// FirstOther returns the first participant whose id differs from self.
func (r *SessionRef) FirstOther(self string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.ID != self {
			return p, true
		}
	}
	return Participant{}, false
}

// ApplyPresence adds joins not already present and drops leaves, keeping order.
func (r *SessionRef) ApplyPresence(joins, leaves []Participant) {
	for _, j := range joins {
		if _, ok := r.Participant(j.ID); !ok {
			r.Participants = append(r.Participants, j)
		}
	}
	if len(leaves) == 0 {
		return
	}
	gone := make(map[string]bool, len(leaves))
	for _, l := range leaves {
		gone[l.ID] = true
	}
	kept := r.Participants[:0]
	for _, p := range r.Participants {
		if !gone[p.ID] {
			kept = append(kept, p)
		}
	}
	r.Participants = kept
}

// Clone returns a deep copy safe to hand to other goroutines.
func (r SessionRef) Clone() SessionRef {
	r.Participants = append([]Participant(nil), r.Participants...)
	return r
}
