// Package oracle wraps the move-legality engine behind the narrow surface
// the session core needs: apply a move, export/load a position, report
// terminal outcomes. Nothing else in the repo touches the chess library.
package oracle

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// MoveResult describes one accepted move. A nil *MoveResult from
// AttemptMove means the move was rejected.
type MoveResult struct {
	SAN        string
	UCI        string
	Color      string // mover, "white" or "black"
	FEN        string // position immediately after the move
	IsCheck    bool
	IsCapture  bool
	IsPawnMove bool
	GameOver   bool
	Checkmate  bool
	Stalemate  bool
	Draw       bool // oracle-declared draw (stalemate, insufficient material, ...)
}

// Board is a live position handle. Not safe for concurrent use; the
// owning session serializes access.
type Board struct {
	g *nchess.Game
}

func New() *Board {
	return &Board{g: nchess.NewGame()}
}

// FromFEN builds a board from a position encoding.
func FromFEN(fen string) (*Board, error) {
	b := New()
	if err := b.LoadPosition(fen); err != nil {
		return nil, err
	}
	return b, nil
}

// AttemptMove tries spec as UCI first, then SAN, mirroring what clients
// actually send. Returns nil when the move is illegal or unparseable.
func (b *Board) AttemptMove(spec string) *MoveResult {
	pos := b.g.Position()
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return nil
	}

	var mv *nchess.Move
	if decoded, err := (nchess.UCINotation{}).Decode(pos, strings.ToLower(raw)); err == nil {
		mv = decoded
	} else if decoded, err := (nchess.AlgebraicNotation{}).Decode(pos, raw); err == nil {
		mv = decoded
	}
	if mv == nil {
		return nil
	}

	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	uci := nchess.UCINotation{}.Encode(pos, mv)
	mover := colorName(pos.Turn())
	isPawn := pos.Board().Piece(mv.S1()).Type() == nchess.Pawn
	isCapture := mv.HasTag(nchess.Capture) || mv.HasTag(nchess.EnPassant)

	if err := b.g.Move(mv, nil); err != nil {
		return nil
	}

	res := &MoveResult{
		SAN:        san,
		UCI:        uci,
		Color:      mover,
		FEN:        b.g.FEN(),
		IsCheck:    strings.ContainsAny(san, "+#"),
		IsCapture:  isCapture,
		IsPawnMove: isPawn,
	}
	switch b.g.Outcome() {
	case nchess.WhiteWon, nchess.BlackWon:
		res.GameOver = true
		res.Checkmate = b.g.Method() == nchess.Checkmate
	case nchess.Draw:
		res.GameOver = true
		res.Draw = true
		res.Stalemate = b.g.Method() == nchess.Stalemate
	}
	return res
}

// GrantExtraMove hands the side to move back to color without playing a
// move, for the second move of a double-move turn. Any en-passant
// opportunity created by the first move is cleared: it must not survive
// into the same player's second move.
func (b *Board) GrantExtraMove(color string) error {
	fields := strings.Fields(b.g.FEN())
	if len(fields) < 4 {
		return fmt.Errorf("malformed position encoding: %q", b.g.FEN())
	}
	switch color {
	case "white":
		fields[1] = "w"
	case "black":
		fields[1] = "b"
	default:
		return fmt.Errorf("unknown color %q", color)
	}
	fields[3] = "-"
	return b.LoadPosition(strings.Join(fields, " "))
}

// CurrentTurn reports the side the underlying position expects to move.
func (b *Board) CurrentTurn() string {
	return colorName(b.g.Position().Turn())
}

// ExportPosition returns the live position as FEN.
func (b *Board) ExportPosition() string {
	return b.g.FEN()
}

// LoadPosition replaces the live position with the given encoding.
func (b *Board) LoadPosition(fen string) error {
	opt, err := nchess.FEN(fen)
	if err != nil {
		return fmt.Errorf("load position: %w", err)
	}
	b.g = nchess.NewGame(opt)
	return nil
}

func (b *Board) IsGameOver() bool {
	return b.g.Outcome() != nchess.NoOutcome
}

func (b *Board) IsCheckmate() bool {
	return b.g.Method() == nchess.Checkmate
}

func (b *Board) IsStalemate() bool {
	return b.g.Method() == nchess.Stalemate
}

func (b *Board) IsDraw() bool {
	return b.g.Outcome() == nchess.Draw
}

func colorName(c nchess.Color) string {
	if c == nchess.White {
		return "white"
	}
	return "black"
}
