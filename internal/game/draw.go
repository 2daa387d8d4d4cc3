package game

import "strings"

// DrawTracker counts position repetitions and runs the half-move clock
// independently of the oracle. The oracle's own counters are useless
// here: granting the second move of a turn rewrites its position, which
// resets them. Replaying the same move list from the initial position
// reproduces the tracker bit for bit, which rehydration relies on.
type DrawTracker struct {
	counts   map[string]int
	halfmove int
}

func NewDrawTracker() *DrawTracker {
	return &DrawTracker{counts: make(map[string]int)}
}

// RecordMove folds one accepted move into the tracker. resultingFEN is
// the position encoding immediately after the move, before any
// second-move grant.
func (d *DrawTracker) RecordMove(isPawnMove, isCapture bool, resultingFEN string) {
	d.counts[PositionKey(resultingFEN)]++
	if isPawnMove || isCapture {
		d.halfmove = 0
	} else {
		d.halfmove++
	}
}

// IsRepetition reports whether any canonical position occurred three or
// more times.
func (d *DrawTracker) IsRepetition() bool {
	for _, n := range d.counts {
		if n >= 3 {
			return true
		}
	}
	return false
}

// IsFiftyMove reports whether 100 half-moves passed without a pawn move
// or capture.
func (d *DrawTracker) IsFiftyMove() bool {
	return d.halfmove >= 100
}

func (d *DrawTracker) HalfmoveClock() int { return d.halfmove }

// Counts returns a copy of the occurrence map, for replay-equivalence
// checks.
func (d *DrawTracker) Counts() map[string]int {
	out := make(map[string]int, len(d.counts))
	for k, v := range d.counts {
		out[k] = v
	}
	return out
}

// PositionKey canonicalizes a FEN for repetition detection: board
// placement, side to move, castling rights and the en-passant file.
// Half-move and full-move counters are excluded, and the en-passant
// rank is dropped so mirrored squares compare equal.
func PositionKey(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) < 4 {
		return fen
	}
	ep := fields[3]
	if ep != "-" {
		ep = ep[:1]
	}
	return fields[0] + " " + fields[1] + " " + fields[2] + " " + ep
}
