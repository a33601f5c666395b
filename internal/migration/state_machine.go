package migration

import (
	"fmt"

	"go.uber.org/zap"
)

// State is a step of the migration protocol.
type State string

// Engine states.
const (
	StateLoaded      State = "LOADED"
	StateValidated   State = "VALIDATED"
	StateResolving   State = "RESOLVING"
	StateNothingToDo State = "NOTHING_TO_DO"
	StateMigrating   State = "MIGRATING"
	StateCommitted   State = "COMMITTED"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

const (
	disallowedTransitionTemplateConstant = "disallowed engine transition %s -> %s"
	stateTransitionLogMessageConstant    = "Engine state transition"
	fromStateFieldConstant               = "from"
	toStateFieldConstant                 = "to"
)

// IsTerminal reports whether no further transition may leave the state.
func IsTerminal(state State) bool {
	switch state {
	case StateDone, StateFailed:
		return true
	default:
		return false
	}
}

func isAllowedTransition(from State, to State) bool {
	if to == StateFailed {
		return !IsTerminal(from)
	}
	switch from {
	case StateLoaded:
		return to == StateValidated
	case StateValidated:
		return to == StateResolving
	case StateResolving:
		return to == StateNothingToDo || to == StateMigrating
	case StateNothingToDo:
		return to == StateDone
	case StateMigrating:
		return to == StateCommitted
	case StateCommitted:
		return to == StateMigrating || to == StateDone
	default:
		return false
	}
}

// stateMachine tracks one run through the protocol and records every state it visits.
type stateMachine struct {
	current     State
	transitions []State
	logger      *zap.Logger
}

func newStateMachine(logger *zap.Logger) *stateMachine {
	return &stateMachine{current: StateLoaded, transitions: []State{StateLoaded}, logger: logger}
}

func (machine *stateMachine) Current() State {
	return machine.current
}

func (machine *stateMachine) Transitions() []State {
	return append([]State(nil), machine.transitions...)
}

// Transition moves to the next state. Disallowed transitions indicate an engine bug and are returned as errors.
func (machine *stateMachine) Transition(next State) error {
	if !isAllowedTransition(machine.current, next) {
		return fmt.Errorf(disallowedTransitionTemplateConstant, machine.current, next)
	}
	machine.logger.Debug(stateTransitionLogMessageConstant, zap.String(fromStateFieldConstant, string(machine.current)), zap.String(toStateFieldConstant, string(next)))
	machine.current = next
	machine.transitions = append(machine.transitions, next)
	return nil
}

// Fail moves to FAILED unless the run already reached a terminal state.
func (machine *stateMachine) Fail() {
	if IsTerminal(machine.current) {
		return
	}
	_ = machine.Transition(StateFailed)
}
