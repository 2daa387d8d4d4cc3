package game

import "testing"

func TestPositionKey(t *testing.T) {
	const initial = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

	// Counters never enter the key.
	a := PositionKey(initial)
	b := PositionKey("rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 42 7")
	if a != b {
		t.Fatalf("counters leaked into the key:\n%s\n%s", a, b)
	}

	// Side to move and castling rights do.
	if PositionKey(initial) == PositionKey("rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR b KQkq - 0 1") {
		t.Fatalf("side to move ignored")
	}
	if PositionKey(initial) == PositionKey("rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w Qkq - 0 1") {
		t.Fatalf("castling rights ignored")
	}

	// Only the en-passant file matters, not the rank.
	e3 := PositionKey("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1")
	e6 := PositionKey("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e6 0 1")
	d3 := PositionKey("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq d3 0 1")
	none := PositionKey("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1")
	if e3 != e6 {
		t.Fatalf("en-passant rank entered the key")
	}
	if e3 == d3 || e3 == none {
		t.Fatalf("en-passant file ignored")
	}
}

func TestDrawTracker_Repetition(t *testing.T) {
	d := NewDrawTracker()
	fen := "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

	d.RecordMove(false, false, fen)
	d.RecordMove(false, false, fen)
	if d.IsRepetition() {
		t.Fatalf("repetition declared at two occurrences")
	}
	d.RecordMove(false, false, fen)
	if !d.IsRepetition() {
		t.Fatalf("threefold occurrence not detected")
	}
}

func TestDrawTracker_HalfmoveClock(t *testing.T) {
	d := NewDrawTracker()
	fen := "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

	for i := 0; i < 99; i++ {
		d.RecordMove(false, false, fen)
	}
	if d.IsFiftyMove() {
		t.Fatalf("fifty-move rule fired at %d half-moves", d.HalfmoveClock())
	}

	// A pawn move resets the count.
	d.RecordMove(true, false, fen)
	if d.HalfmoveClock() != 0 {
		t.Fatalf("pawn move did not reset the clock: %d", d.HalfmoveClock())
	}

	// So does a capture.
	d.RecordMove(false, false, fen)
	d.RecordMove(false, true, fen)
	if d.HalfmoveClock() != 0 {
		t.Fatalf("capture did not reset the clock: %d", d.HalfmoveClock())
	}

	for i := 0; i < 100; i++ {
		d.RecordMove(false, false, fen)
	}
	if !d.IsFiftyMove() {
		t.Fatalf("fifty-move rule missed at %d half-moves", d.HalfmoveClock())
	}
}
