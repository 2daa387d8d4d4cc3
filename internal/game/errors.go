package game

import (
	"errors"
	"fmt"
)

// Error codes carried on coded wire payloads.
const (
	CodeValidation  = "validation"
	CodeIllegalMove = "illegal_move"
	CodeNotYourTurn = "not_your_turn"
	CodeNotFound    = "not_found"
	CodePersistence = "persistence"
)

// ValidationError rejects a malformed or out-of-state command. Local to
// the caller; the session is not mutated.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// IllegalMoveError reports a move the oracle rejected.
type IllegalMoveError struct {
	Move string
}

func (e *IllegalMoveError) Error() string {
	return fmt.Sprintf("illegal move %q", e.Move)
}

// TurnError reports a move attempted by the color not on turn.
type TurnError struct {
	Color Color
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("not %s's turn", e.Color)
}

// NotFoundError reports an unknown session id with no creation
// parameters to fall back on.
type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

// PersistenceError wraps a store read/write failure. Never fatal: the
// in-memory state stays authoritative and terminal writes are retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrorCode maps a domain error to its wire code. Unknown errors map to
// validation so a caller always gets a coded payload.
func ErrorCode(err error) string {
	var (
		ve *ValidationError
		ie *IllegalMoveError
		te *TurnError
		ne *NotFoundError
		pe *PersistenceError
	)
	switch {
	case errors.As(err, &ie):
		return CodeIllegalMove
	case errors.As(err, &te):
		return CodeNotYourTurn
	case errors.As(err, &ne):
		return CodeNotFound
	case errors.As(err, &pe):
		return CodePersistence
	case errors.As(err, &ve):
		return CodeValidation
	default:
		return CodeValidation
	}
}
