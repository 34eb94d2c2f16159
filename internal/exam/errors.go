package exam

import (
	"errors"
	"fmt"

	"github.com/stemsi/exstem-station/internal/model"
)

var (
	// ErrValidation is a local input failure; nothing was sent to the platform.
	ErrValidation = errors.New("validation failed")
	// ErrWrongPhase rejects an operation the current phase does not allow.
	ErrWrongPhase = errors.New("operation not allowed in current phase")
	// ErrBlockLocked rejects edits to a block the candidate has moved past.
	ErrBlockLocked = errors.New("block is locked")
	// ErrJumpNotAllowed rejects index jumps outside the current unlocked block.
	ErrJumpNotAllowed = errors.New("jump not allowed")
	ErrNoBlocks       = errors.New("exam defines no blocks")
	ErrTimerStarted   = errors.New("timer already started")
	ErrTimerStopped   = errors.New("timer already stopped")
	// ErrSessionNotFound is returned by state stores for unknown sessions.
	ErrSessionNotFound = errors.New("session not found")
)

// UnansweredError asks the caller to confirm a manual finish.
type UnansweredError struct {
	Count int
}

func (e *UnansweredError) Error() string {
	return fmt.Sprintf("%d question(s) unanswered, confirmation required", e.Count)
}

func wrongPhase(op string, phase model.Phase) error {
	return fmt.Errorf("%s in phase %s: %w", op, phase, ErrWrongPhase)
}
