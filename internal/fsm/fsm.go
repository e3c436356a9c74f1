// Package fsm defines the listening supervisor's lifecycle states.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle            State = "idle"
	StateListening       State = "listening"
	StateAwaitingRestart State = "awaiting_restart"
	StateShutdown        State = "shutdown"
)

const (
	// EventStart opens a recognition session.
	EventStart Event = "start"
	// EventResult is a partial or final result; listening continues.
	EventResult Event = "result"
	// EventSessionEnd covers end-of-speech, session error and session timeout.
	EventSessionEnd Event = "session_end"
	// EventDefer schedules another attempt without opening a session.
	EventDefer Event = "defer"
	// EventShutdown is accepted from every state and is terminal.
	EventShutdown Event = "shutdown"
)

func Transition(current State, event Event) (State, error) {
	if event == EventShutdown {
		return StateShutdown, nil
	}

	switch current {
	case StateIdle, StateAwaitingRestart:
		switch event {
		case EventStart:
			return StateListening, nil
		case EventDefer:
			return StateAwaitingRestart, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateListening:
		switch event {
		case EventResult:
			return StateListening, nil
		case EventSessionEnd:
			return StateAwaitingRestart, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateShutdown:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
