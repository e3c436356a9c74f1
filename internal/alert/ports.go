package alert

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownTier indicates a tier outside EMERGENCY / CHECK_IN.
	ErrUnknownTier = errors.New("unknown escalation tier")
	// ErrNoContacts indicates the dispatcher was handed an empty recipient list.
	ErrNoContacts = errors.New("no contacts to alert")
)

// SettingsProvider returns the current settings snapshot.
type SettingsProvider interface {
	Snapshot(context.Context) (Settings, error)
}

// ContactStore answers tier-scoped contact queries.
type ContactStore interface {
	ContactsByTier(context.Context, Tier) ([]Contact, error)
}

// AuditStore appends audit events.
type AuditStore interface {
	Record(context.Context, Event) (Event, error)
}

// LocationProvider returns the last-known position, best effort.
type LocationProvider interface {
	LastKnown(context.Context) (Position, error)
}

// SMSSender delivers one text message to one phone number.
type SMSSender interface {
	SendText(ctx context.Context, to string, body string) error
}

// SoundResolver maps a profile sound key to a playable sound.
// Resolve returns false when neither the key nor the fallback category resolves.
type SoundResolver interface {
	Resolve(key string, fallback SoundCategory) (SoundOption, bool)
}

// Priority orders notifications on the host.
type Priority int

const (
	PriorityDefault Priority = iota
	PriorityMax
)

// Action is an optional notification button.
type Action struct {
	Key   string
	Label string
}

// Notification is one local notification request.
type Notification struct {
	// ID is stable per tier so a newer alert replaces the previous one.
	ID        uint32
	Channel   string
	Title     string
	Body      string
	Priority  Priority
	Alarm     bool
	Sound     *SoundOption
	Category  SoundCategory
	Vibration []time.Duration
	Action    *Action
}

// Notifier raises local notifications.
type Notifier interface {
	Notify(context.Context, Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(context.Context, Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Metrics receives dispatch outcomes.
type Metrics interface {
	DispatchCompleted(ctx context.Context, tier Tier, outcome string, elapsed time.Duration)
	SMSAttempted(ctx context.Context, tier Tier, ok bool)
}

type noopMetrics struct{}

func (noopMetrics) DispatchCompleted(context.Context, Tier, string, time.Duration) {}
func (noopMetrics) SMSAttempted(context.Context, Tier, bool)                       {}
