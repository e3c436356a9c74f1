// Package listen keeps one recognition session alive and forwards every
// recognized utterance to the alert router.
package listen

import (
	"context"
	"errors"

	"github.com/rbright/pulselink/internal/alert"
)

// ErrRecognizerUnavailable marks the one fatal, non-retried supervisor condition:
// the recognition capability is unsupported on this host.
var ErrRecognizerUnavailable = errors.New("speech recognition unavailable")

// EventKind classifies one session outcome.
type EventKind int

const (
	EventPartial EventKind = iota + 1
	EventFinal
	EventEndOfSpeech
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventEndOfSpeech:
		return "end_of_speech"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one result or terminal outcome emitted by a Session.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Session is one running recognition session.
// Events is closed when the session ends on its own.
type Session interface {
	Events() <-chan Event
	Close() error
}

// Recognizer opens recognition sessions.
type Recognizer interface {
	// Available returns an error wrapping ErrRecognizerUnavailable when recognition is unsupported.
	Available(context.Context) error
	Open(context.Context) (Session, error)
}

// PhraseHandler receives every partial and final result. *alert.Router implements it.
type PhraseHandler interface {
	OnPhraseDetected(ctx context.Context, text string) (*alert.Event, error)
}

// GateFunc reports whether listening is currently enabled.
type GateFunc func(context.Context) (bool, error)

// Metrics receives supervisor lifecycle counters.
type Metrics interface {
	SessionOpened(context.Context)
	SessionRestarted(ctx context.Context, reason string)
}

type noopMetrics struct{}

func (noopMetrics) SessionOpened(context.Context)            {}
func (noopMetrics) SessionRestarted(context.Context, string) {}
