package domain

// Outcome is the local participant's view of a finished game.
type Outcome string

const (
	OutcomeWon  Outcome = "won"
	OutcomeLost Outcome = "lost"
	OutcomeDraw Outcome = "draw"
)

// ResultRecord is derived from the terminal snapshot and never persisted.
type ResultRecord struct {
	Outcome    Outcome
	ScoreDelta int
}

// ResultFor maps a terminal snapshot onto the local participant's outcome.
// ScoreDelta is the rating change the authority attributed to mark, 0 if absent.
func ResultFor(snapshot GameSnapshot, userID string, mark Mark) ResultRecord {
	record := ResultRecord{ScoreDelta: snapshot.RatingDelta[mark]}
	switch {
	case snapshot.WinnerID == "":
		record.Outcome = OutcomeDraw
	case snapshot.WinnerID == userID:
		record.Outcome = OutcomeWon
	default:
		record.Outcome = OutcomeLost
	}
	return record
}

// LeaderboardEntry is one ranked row of the leaderboard.
type LeaderboardEntry struct {
	ParticipantID string
	DisplayName   string
	Rank          int64
	Rating        int64
	Wins          int
	Losses        int
	Draws         int
}
