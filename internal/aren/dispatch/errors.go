package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/aren-assistant/aren/internal/aren/resolver"
)

// Turn error kinds. None of them is returned from HandleTurn: each ends in
// a reply and a recorded turn. Run reports them in Turn.Err for errors.Is.
var (
	ErrInputRejected = errors.New("input rejected")
	ErrNoIntent      = resolver.ErrNoIntent
	ErrAmbiguous     = resolver.ErrAmbiguous
	ErrContextMiss   = resolver.ErrContextMiss
	// ErrIllegalTransition reports a bug in the state machine.
	ErrIllegalTransition = errors.New("illegal state transition")
)

// SkillError wraps a failed or late skill invocation.
type SkillError struct {
	Skill string
	Err   error
}

func (e *SkillError) Error() string {
	return fmt.Sprintf("skill %s: %v", e.Skill, e.Err)
}

func (e *SkillError) Unwrap() error { return e.Err }

// Timeout reports whether the skill ran out of time.
func (e *SkillError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}
