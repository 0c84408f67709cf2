package skills

import (
	"context"

	"github.com/aren-assistant/aren/internal/aren/normalize"
)

// Request is what the dispatcher hands a skill: validated slots plus the
// turn context a skill may need to phrase its answer.
type Request struct {
	Skill string
	Slots map[string]string
	Lang  normalize.Lang
	// Turn is the zero-based index of the turn within its session.
	Turn  int
	Prefs map[string]string
}

// Result is a skill's structured answer. Fields are rendered by the
// response templates; Prefs, when set, are preference updates recorded
// with the turn.
type Result struct {
	Fields map[string]string
	Prefs  map[string]string
}

// Invoker is the uniform contract every skill implementation satisfies.
// Implementations must honour ctx cancellation.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (*Result, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
