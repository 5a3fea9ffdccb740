package domain

// Op codes carried by session channel envelopes.
const (
	// Client -> Authority
	OpCodeMoveRequest int64 = 1

	// Authority -> Clients
	OpCodeStateUpdate  int64 = 2
	OpCodePlayerJoined int64 = 3 // reserved, presence events cover this
	OpCodePlayerLeft   int64 = 4 // reserved, presence events cover this
	OpCodeGameOver     int64 = 5
)

// BoardSize is the width and height of the board.
const BoardSize = 3

// Envelope is a tagged message on the session channel.
type Envelope struct {
	OpCode  int64
	Payload []byte
}
