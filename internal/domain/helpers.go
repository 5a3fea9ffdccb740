package domain

import "sort"

// ElectCreator picks the participant that creates the shared session when the
// matchmaker only hands out a token. Every peer computes it from the same id
// set, so the result does not depend on input order. Returns "" for no ids.
func ElectCreator(participantIDs []string) string {
	if len(participantIDs) == 0 {
		return ""
	}
	sorted := append([]string(nil), participantIDs...)
	sort.Strings(sorted)
	return sorted[0]
}

// IsCreator reports whether self is the elected creator among participantIDs.
func IsCreator(self string, participantIDs []string) bool {
	return self != "" && ElectCreator(participantIDs) == self
}

// ParticipantIDs extracts ids in order.
func ParticipantIDs(participants []Participant) []string {
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// CoordinationKeyPrefix prefixes the store key derived from a matchmaker token.
const CoordinationKeyPrefix = "match_"

// CoordinationRecord is written once by the creator so the other participants
// can find the session it created.
type CoordinationRecord struct {
	Key       string `json:"-"`
	SessionID string `json:"match_id"`
}

// CoordinationKey derives the store key for a matchmaker token.
func CoordinationKey(token string) string {
	return CoordinationKeyPrefix + token
}
