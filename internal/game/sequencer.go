package game

// TurnState is where the sequencer stands inside the current turn.
type TurnState int

const (
	AwaitingFirstMove TurnState = iota
	AwaitingSecondMove
)

// TurnSequencer owns the effective color to move and decides, after
// each accepted move, whether the turn continues with a second move.
// It deliberately does not trust the oracle's internal side-to-move:
// the sequencer commands the oracle, never the other way around.
type TurnSequencer struct {
	variant   Variant
	state     TurnState
	effective Color
	turnIndex int
}

func NewTurnSequencer(variant Variant) *TurnSequencer {
	return &TurnSequencer{variant: variant, effective: White}
}

// ColorToMove returns the color whose move is expected next.
func (t *TurnSequencer) ColorToMove() Color { return t.effective }

// TurnIndex returns the number of completed turns.
func (t *TurnSequencer) TurnIndex() int { return t.turnIndex }

// State returns the current position within the turn.
func (t *TurnSequencer) State() TurnState { return t.state }

// MovesRemaining reports how many moves the effective color still has
// in the current turn beyond the usual single entitlement: 1 while a
// second move is pending, else 0.
func (t *TurnSequencer) MovesRemaining() int {
	if t.state == AwaitingSecondMove {
		return 1
	}
	return 0
}

// RecordMove folds an accepted move into the turn state and reports
// whether the turn ended. A move that ends the game always ends the
// turn. Otherwise: the balanced variant's opening turn is a single
// move; a first move that delivers check ends the turn; any second
// move ends the turn.
func (t *TurnSequencer) RecordMove(deliveredCheck, gameOver bool) (turnEnded bool) {
	if gameOver {
		t.endTurn()
		return true
	}
	if t.state == AwaitingSecondMove {
		t.endTurn()
		return true
	}
	if t.variant == VariantBalanced && t.turnIndex == 0 && t.effective == White {
		t.endTurn()
		return true
	}
	if deliveredCheck {
		t.endTurn()
		return true
	}
	t.state = AwaitingSecondMove
	return false
}

func (t *TurnSequencer) endTurn() {
	t.effective = t.effective.Opponent()
	t.state = AwaitingFirstMove
	t.turnIndex++
}
