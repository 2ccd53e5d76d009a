package turn

import (
	"errors"
	"fmt"
)

// State is a position in the turn state machine.
type State string

const (
	StateGenerating       State = "generating"
	StateParsingOutput    State = "parsing_output"
	StateExecutingTool    State = "executing_tool"
	StateAwaitingNextTurn State = "awaiting_next_turn"
	StateSelfCorrecting   State = "self_correcting"
	StateDone             State = "done"
	StateAborted          State = "aborted"
)

var (
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrBudgetExhausted    = errors.New("turn budget exhausted")
	ErrTooManyCorrections = errors.New("too many consecutive self-corrections")
)

// ParsingOutput may return straight to Generating when a duplicate call is
// skipped.
var allowedTransitions = map[State]map[State]struct{}{
	StateGenerating: {
		StateParsingOutput: {},
		StateAborted:       {},
	},
	StateParsingOutput: {
		StateExecutingTool:  {},
		StateSelfCorrecting: {},
		StateDone:           {},
		StateGenerating:     {},
		StateAborted:        {},
	},
	StateExecutingTool: {
		StateAwaitingNextTurn: {},
		StateAborted:          {},
	},
	StateAwaitingNextTurn: {
		StateGenerating: {},
		StateAborted:    {},
	},
	StateSelfCorrecting: {
		StateGenerating: {},
		StateAborted:    {},
	},
	StateDone:    {},
	StateAborted: {},
}

// Terminal reports whether the loop ends in s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

type machine struct {
	state State
	// onChange observes every accepted transition.
	onChange func(from, to State)
}

func newMachine(onChange func(from, to State)) *machine {
	return &machine{state: StateGenerating, onChange: onChange}
}

func (m *machine) State() State { return m.state }

func (m *machine) transition(next State) error {
	if _, known := allowedTransitions[next]; !known {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, next)
	}
	if _, ok := allowedTransitions[m.state][next]; !ok {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, m.state, next)
	}
	from := m.state
	m.state = next
	if m.onChange != nil {
		m.onChange(from, next)
	}
	return nil
}
