package game

import "time"

// ClockPair holds the two server-authoritative countdown balances.
// lastMove stays zero until the session's first move, so time spent
// waiting for an opponent never drains a clock. Callers pass explicit
// timestamps; the pair never reads the wall clock itself.
type ClockPair struct {
	whiteMS     int64
	blackMS     int64
	incrementMS int64
	lastMove    time.Time
}

func NewClockPair(initialMS, incrementMS int64) *ClockPair {
	return &ClockPair{whiteMS: initialMS, blackMS: initialMS, incrementMS: incrementMS}
}

// ApplyMove charges color for the wall-clock time since the previous
// move (zero on the session's first move), floors the balance at zero,
// and returns the remaining balance. The increment is credited
// separately via AddIncrement once the sequencer has decided whether the
// turn ended.
func (c *ClockPair) ApplyMove(color Color, now time.Time) int64 {
	var elapsed int64
	if !c.lastMove.IsZero() {
		elapsed = now.Sub(c.lastMove).Milliseconds()
		if elapsed < 0 {
			elapsed = 0
		}
	}
	c.lastMove = now
	bal := c.balance(color) - elapsed
	if bal < 0 {
		bal = 0
	}
	c.setBalance(color, bal)
	return bal
}

// AddIncrement credits the configured increment to color. Credited to
// the color that just moved when its turn ends, not to the color whose
// clock starts running next.
func (c *ClockPair) AddIncrement(color Color) {
	c.setBalance(color, c.balance(color)+c.incrementMS)
}

// Balances returns the stored balances without projection.
func (c *ClockPair) Balances() (whiteMS, blackMS int64) {
	return c.whiteMS, c.blackMS
}

// Project returns read-only balances with the elapsed time since the
// last move charged against toMove. Safe to call repeatedly; stored
// state is never touched, so reconnect and spectator snapshots can be
// recomputed at will.
func (c *ClockPair) Project(toMove Color, now time.Time) (whiteMS, blackMS int64) {
	whiteMS, blackMS = c.whiteMS, c.blackMS
	if c.lastMove.IsZero() {
		return whiteMS, blackMS
	}
	elapsed := now.Sub(c.lastMove).Milliseconds()
	if elapsed <= 0 {
		return whiteMS, blackMS
	}
	if toMove == White {
		whiteMS -= elapsed
		if whiteMS < 0 {
			whiteMS = 0
		}
	} else {
		blackMS -= elapsed
		if blackMS < 0 {
			blackMS = 0
		}
	}
	return whiteMS, blackMS
}

// Expired reports whether toMove's projected balance has hit zero.
// Detection only: the session resolves the game-over.
func (c *ClockPair) Expired(toMove Color, now time.Time) bool {
	if c.lastMove.IsZero() {
		return false
	}
	w, b := c.Project(toMove, now)
	if toMove == White {
		return w <= 0
	}
	return b <= 0
}

// Restore reinstates persisted balances during rehydration. The last
// move instant is intentionally left zero: process downtime is not
// charged to either side.
func (c *ClockPair) Restore(whiteMS, blackMS int64) {
	c.whiteMS, c.blackMS = whiteMS, blackMS
}

func (c *ClockPair) balance(color Color) int64 {
	if color == White {
		return c.whiteMS
	}
	return c.blackMS
}

func (c *ClockPair) setBalance(color Color, v int64) {
	if color == White {
		c.whiteMS = v
	} else {
		c.blackMS = v
	}
}
