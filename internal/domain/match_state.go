package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMissingBoard is returned when a snapshot payload carries no board.
	ErrMissingBoard = errors.New("snapshot has no board")
	// ErrInvalidMark is returned when a board cell or turn holder is not a known mark.
	ErrInvalidMark = errors.New("snapshot has an invalid mark")
)

// Mark is the symbol a participant places on the board.
type Mark string

const (
	MarkEmpty Mark = ""
	MarkX     Mark = "X"
	MarkO     Mark = "O"
)

func (m Mark) valid() bool {
	return m == MarkEmpty || m == MarkX || m == MarkO
}

// Opponent returns the other player's mark. MarkEmpty has no opponent.
func (m Mark) Opponent() Mark {
	switch m {
	case MarkX:
		return MarkO
	case MarkO:
		return MarkX
	}
	return MarkEmpty
}

// Status represents the lifecycle stage of a game.
type Status string

const (
	// StatusWaiting indicates the authority is still waiting for players.
	StatusWaiting Status = "waiting"
	// StatusActive indicates moves are being accepted.
	StatusActive Status = "active"
	// StatusFinished indicates the game has ended.
	StatusFinished Status = "finished"
)

// Board is a 3x3 grid indexed [row][col].
type Board [BoardSize][BoardSize]Mark


// GameSnapshot is the authority's view of a game. Snapshots are always
// replaced wholesale, never merged.
type GameSnapshot struct {
	MatchID     string       `json:"match_id"`
	Board       Board        `json:"board"`
	TurnHolder  Mark         `json:"current_player"`
	PlayerX     string       `json:"player_x"`
	PlayerO     string       `json:"player_o"`
	Status      Status       `json:"status"`
	Result      string       `json:"result,omitempty"`
	WinnerID    string       `json:"winner"`
	MoveCount   int          `json:"move_count"`
	GameMode    string       `json:"game_mode,omitempty"`
	RatingDelta map[Mark]int `json:"rating_delta,omitempty"`

	// Provisional is set on locally applied moves awaiting the authority.
	Provisional bool `json:"-"`
}

// NewSnapshot returns the seed snapshot used right after joining a session.
func NewSnapshot(matchID string) GameSnapshot {
	return GameSnapshot{
		MatchID:    matchID,
		TurnHolder: MarkX,
		Status:     StatusActive,
	}
}

// MarkFor returns the mark assigned to userID, or MarkEmpty for spectators.
func (s *GameSnapshot) MarkFor(userID string) Mark {
	switch {
	case userID == "":
		return MarkEmpty
	case s.PlayerX == userID:
		return MarkX
	case s.PlayerO == userID:
		return MarkO
	}
	return MarkEmpty
}

// PlayerFor returns the participant id holding mark.
func (s *GameSnapshot) PlayerFor(mark Mark) string {
	switch mark {
	case MarkX:
		return s.PlayerX
	case MarkO:
		return s.PlayerO
	}
	return ""
}

// CanMove reports whether mark may place at row, col on this snapshot.
func (s *GameSnapshot) CanMove(mark Mark, row, col int) bool {
	if s.Status != StatusActive || mark == MarkEmpty || mark != s.TurnHolder {
		return false
	}
	if row < 0 || row >= BoardSize || col < 0 || col >= BoardSize {
		return false
	}
	return s.Board[row][col] == MarkEmpty
}

// WithMove returns a provisional copy of the snapshot with mark placed at
// row, col and the turn handed to the other mark. Win detection stays with
// the authority.
func (s GameSnapshot) WithMove(mark Mark, row, col int) GameSnapshot {
	s.Board[row][col] = mark
	s.MoveCount++
	s.TurnHolder = mark.Opponent()
	s.RatingDelta = nil
	s.Provisional = true
	return s
}

// Clone returns a deep copy.
func (s GameSnapshot) Clone() GameSnapshot {
	if s.RatingDelta != nil {
		delta := make(map[Mark]int, len(s.RatingDelta))
		for k, v := range s.RatingDelta {
			delta[k] = v
		}
		s.RatingDelta = delta
	}
	return s
}

// MoveRequest is the payload of an OpCodeMoveRequest envelope.
type MoveRequest struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// EncodeMove builds the envelope asking the authority to place at row, col.
func EncodeMove(row, col int) (Envelope, error) {
	payload, err := json.Marshal(MoveRequest{Row: row, Col: col})
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode move: %w", err)
	}
	return Envelope{OpCode: OpCodeMoveRequest, Payload: payload}, nil
}

// wireSnapshot mirrors GameSnapshot with a nullable board so a missing
// board can be told apart from an empty one.
type wireSnapshot struct {
	MatchID     string       `json:"match_id"`
	Board       *Board       `json:"board"`
	TurnHolder  Mark         `json:"current_player"`
	PlayerX     string       `json:"player_x"`
	PlayerO     string       `json:"player_o"`
	Status      Status       `json:"status"`
	Result      string       `json:"result"`
	WinnerID    string       `json:"winner"`
	MoveCount   int          `json:"move_count"`
	GameMode    string       `json:"game_mode"`
	RatingDelta map[Mark]int `json:"rating_delta"`
}

// wireMessage is the {"op_code", "data"} wrapper the authority puts around
// every broadcast.
type wireMessage struct {
	OpCode *int64          `json:"op_code"`
	Data   json.RawMessage `json:"data"`
}

// DecodeSnapshot parses a StateUpdate or GameOver payload. Both the bare
// snapshot and the wrapped {"op_code","data"} form are accepted.
func DecodeSnapshot(payload []byte) (GameSnapshot, error) {
	body := payload
	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err == nil && msg.OpCode != nil && len(msg.Data) > 0 {
		body = msg.Data
	}

	var w wireSnapshot
	if err := json.Unmarshal(body, &w); err != nil {
		return GameSnapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if w.Board == nil {
		return GameSnapshot{}, ErrMissingBoard
	}
	for _, row := range w.Board {
		for _, cell := range row {
			if !cell.valid() {
				return GameSnapshot{}, fmt.Errorf("%w: cell %q", ErrInvalidMark, cell)
			}
		}
	}
	if !w.TurnHolder.valid() {
		return GameSnapshot{}, fmt.Errorf("%w: turn holder %q", ErrInvalidMark, w.TurnHolder)
	}

	return GameSnapshot{
		MatchID:     w.MatchID,
		Board:       *w.Board,
		TurnHolder:  w.TurnHolder,
		PlayerX:     w.PlayerX,
		PlayerO:     w.PlayerO,
		Status:      w.Status,
		Result:      w.Result,
		WinnerID:    w.WinnerID,
		MoveCount:   w.MoveCount,
		GameMode:    w.GameMode,
		RatingDelta: w.RatingDelta,
	}, nil
}
