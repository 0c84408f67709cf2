package dispatch

import "fmt"

// State is a step of one turn's lifecycle.
type State int

const (
	StateReceived State = iota
	StateNormalized
	StateClassified
	StateResolved
	StateDispatched
	StateClarifying
	StateRejected
	StateRecorded
)

var stateNames = [...]string{
	StateReceived:   "received",
	StateNormalized: "normalized",
	StateClassified: "classified",
	StateResolved:   "resolved",
	StateDispatched: "dispatched",
	StateClarifying: "clarifying",
	StateRejected:   "rejected",
	StateRecorded:   "recorded",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// transitions is the complete set of legal moves. Recorded is terminal.
var transitions = map[State][]State{
	StateReceived:   {StateNormalized, StateRejected},
	StateNormalized: {StateClassified},
	StateClassified: {StateResolved},
	StateResolved:   {StateDispatched, StateClarifying},
	StateDispatched: {StateRecorded},
	StateClarifying: {StateRecorded},
	StateRejected:   {StateRecorded},
}

// CanTransition reports whether to may follow s.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no state may follow s.
func (s State) Terminal() bool { return len(transitions[s]) == 0 }

// Transition is one observed move, reported to a TransitionHook.
type Transition struct {
	TurnID string
	From   State
	To     State
}
