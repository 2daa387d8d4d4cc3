package game

import "time"

// Record is the persisted shape of a session: enough to upsert a
// terminal result idempotently and to rebuild a live session by replay
// after a restart. History carries the full move list; the final FEN is
// stored separately and trusted over the replay result.
type Record struct {
	SessionID   string       `json:"session_id"`
	Variant     Variant      `json:"variant"`
	WhiteID     string       `json:"white_id,omitempty"`
	WhiteName   string       `json:"white_name,omitempty"`
	WhiteSeated bool         `json:"white_seated"`
	BlackID     string       `json:"black_id,omitempty"`
	BlackName   string       `json:"black_name,omitempty"`
	BlackSeated bool         `json:"black_seated"`
	History     []MoveRecord `json:"history"`
	FinalFEN    string       `json:"final_fen"`
	WhiteMS     int64        `json:"white_ms"`
	BlackMS     int64        `json:"black_ms"`
	InitialMS   int64        `json:"initial_ms"`
	IncrementMS int64        `json:"increment_ms"`
	Status      Status       `json:"status"`
	Result      Reason       `json:"result,omitempty"`
	Winner      Color        `json:"winner,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   time.Time    `json:"started_at,omitempty"`
	CompletedAt time.Time    `json:"completed_at,omitempty"`
	LastMoveAt  time.Time    `json:"last_move_at,omitempty"`
}

// MovesUCI returns the replayable move list in order.
func (r *Record) MovesUCI() []string {
	out := make([]string, len(r.History))
	for i, m := range r.History {
		out[i] = m.UCI
	}
	return out
}

// MovesSAN returns the human move list in order.
func (r *Record) MovesSAN() []string {
	out := make([]string, len(r.History))
	for i, m := range r.History {
		out[i] = m.SAN
	}
	return out
}
