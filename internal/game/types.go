package game

import (
	"time"

	"github.com/yossior/doublechess/pkg/wire"
)

// Color identifies a side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Variant selects the double-move turn rule set. In both variants a turn
// is up to two moves; the balanced variant limits white's very first
// turn to a single move.
type Variant string

const (
	VariantUnbalanced Variant = "unbalanced"
	VariantBalanced   Variant = "balanced"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Reason is the terminal result vocabulary carried on gameOver events.
type Reason string

const (
	ReasonCheckmate   Reason = "checkmate"
	ReasonDraw        Reason = "draw"
	ReasonStalemate   Reason = "stalemate"
	ReasonRepetition  Reason = "repetition"
	ReasonFiftyMove   Reason = "fifty-move"
	ReasonResignation Reason = "resignation"
	ReasonAbandonment Reason = "abandonment"
	ReasonTimeout     Reason = "timeout"
)

// EventSink is one attached transport endpoint. Send must not block on
// slow peers and must never call back into the session.
type EventSink interface {
	ID() string
	Send(ev wire.Event) error
}

// Connectivity is the tagged connection state of a player slot: either
// active with a live sink, or disconnected since some instant.
type Connectivity struct {
	sink  EventSink
	since time.Time
}

func ActiveConn(sink EventSink) Connectivity {
	return Connectivity{sink: sink}
}

func DisconnectedConn(at time.Time) Connectivity {
	return Connectivity{since: at}
}

func (c Connectivity) Active() bool { return c.sink != nil }

func (c Connectivity) Sink() EventSink { return c.sink }

func (c Connectivity) DisconnectedSince() time.Time { return c.since }

// Player occupies one of the two seats. Identity and color never change
// once the seat is filled; only Conn transitions.
type Player struct {
	UserID string
	Name   string
	Color  Color
	Conn   Connectivity
}

func (p *Player) Anonymous() bool { return p.UserID == "" }

// MoveRecord is one immutable entry of the session history.
type MoveRecord struct {
	SAN      string    `json:"san"`
	UCI      string    `json:"uci"`
	Color    Color     `json:"color"`
	FEN      string    `json:"fen"`
	WhiteMS  int64     `json:"white_ms"`
	BlackMS  int64     `json:"black_ms"`
	PlayedAt time.Time `json:"played_at"`
}

// Identity is the join-time identification of a caller.
type Identity struct {
	UserID string
	Name   string
}
