package wire

// Event types emitted over the event channel.
const (
	EvWaitingForOpponent   = "waitingForOpponent"
	EvGameStarted          = "gameStarted"
	EvSpectatorJoined      = "spectatorJoined"
	EvMoveMade             = "moveMade"
	EvInvalidMove          = "invalidMove"
	EvOpponentDisconnected = "opponentDisconnected"
	EvOpponentReconnected  = "opponentReconnected"
	EvGameOver             = "gameOver"
	EvError                = "error"
)

// Event is the outbound envelope. Data holds one of the payload structs
// below depending on Type.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Clocks is a snapshot of both balances in milliseconds.
type Clocks struct {
	WhiteMS int64 `json:"whiteMs"`
	BlackMS int64 `json:"blackMs"`
}

// HistoryMove is one entry of the replayable move history sent on
// reconnect and to spectators.
type HistoryMove struct {
	SAN      string `json:"san"`
	UCI      string `json:"uci"`
	Color    string `json:"color"`
	Position string `json:"position"`
	Clocks   Clocks `json:"clocks"`
	PlayedAt int64  `json:"playedAt"`
}

type WaitingForOpponent struct {
	SessionID string `json:"sessionId"`
	Clocks    Clocks `json:"clocks"`
}

type GameStarted struct {
	SessionID   string        `json:"sessionId"`
	Color       string        `json:"color"`
	Position    string        `json:"position"`
	Turn        string        `json:"turn"`
	MovesInTurn int           `json:"movesInTurn"`
	Clocks      Clocks        `json:"clocks"`
	ServerTime  int64         `json:"serverTime"`
	Reconnected bool          `json:"reconnected,omitempty"`
	History     []HistoryMove `json:"history,omitempty"`
}

type SpectatorJoined struct {
	SessionID   string        `json:"sessionId"`
	Position    string        `json:"position"`
	Turn        string        `json:"turn"`
	MovesInTurn int           `json:"movesInTurn"`
	Status      string        `json:"status"`
	Clocks      Clocks        `json:"clocks"`
	ServerTime  int64         `json:"serverTime"`
	History     []HistoryMove `json:"history,omitempty"`
}

type MoveMade struct {
	Move        string `json:"move"`
	Color       string `json:"color"`
	Position    string `json:"position"`
	Turn        string `json:"turn"`
	MovesInTurn int    `json:"movesInTurn"`
	Clocks      Clocks `json:"clocks"`
	ServerTime  int64  `json:"serverTime"`
}

type InvalidMove struct {
	Reason string `json:"reason"`
}

type OpponentConnection struct {
	SessionID string `json:"sessionId"`
	Color     string `json:"color"`
}

type GameOver struct {
	Reason string `json:"reason"`
	Winner string `json:"winner,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
