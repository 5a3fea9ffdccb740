package nakama

const (
	// RpcGetPlayerRank is the RPC id returning a player's rating profile.
	RpcGetPlayerRank = "get_player_rank"
	// RpcGetLeaderboard is the RPC id returning the ranked leaderboard.
	RpcGetLeaderboard = "get_leaderboard"
	// RpcGetGameState returns the stored snapshot of a match.
	RpcGetGameState = "get_game_state"
	// RpcResignGame forfeits a match for the caller.
	RpcResignGame = "resign_game"
)

// Storage layout of coordination records.
const (
	CoordinationCollection = "matchmaking"

	storagePermissionPublicRead = 2
	storagePermissionOwnerWrite = 1
)

// Realtime envelope formats.
const (
	FormatJSON     = "json"
	FormatProtobuf = "protobuf"
)
