package wire

// Command types accepted over the event channel.
const (
	CmdFindOrCreate = "findOrCreate"
	CmdJoin         = "join"
	CmdMove         = "move"
	CmdResign       = "resign"
)

// Identity describes who issued a command. An empty UserID means the
// player is anonymous for the lifetime of the session.
type Identity struct {
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name,omitempty"`
}

// GameParams carries session creation parameters. They are only honored
// when a command may create a session (findOrCreate, join with an
// unknown session id).
type GameParams struct {
	Variant     string `json:"variant,omitempty"`
	InitialMS   int64  `json:"initialMs,omitempty"`
	IncrementMS int64  `json:"incrementMs,omitempty"`
}

// Command is the single inbound envelope read from a connection.
type Command struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Identity  *Identity   `json:"identity,omitempty"`
	Move      string      `json:"move,omitempty"`
	Params    *GameParams `json:"params,omitempty"`
}
