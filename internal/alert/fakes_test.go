package alert

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type staticSettings struct {
	settings Settings
	err      error
}

func (s staticSettings) Snapshot(context.Context) (Settings, error) {
	return s.settings, s.err
}

type fakeContacts struct {
	byTier map[Tier][]Contact
	err    error
	calls  atomic.Int32
}

func (f *fakeContacts) ContactsByTier(_ context.Context, tier Tier) ([]Contact, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.byTier[tier], nil
}

type memoryAudit struct {
	mu     sync.Mutex
	events []Event
	err    error
	// onRecord runs before the event is appended.
	onRecord func(Event)
}

func (m *memoryAudit) Record(_ context.Context, event Event) (Event, error) {
	if m.onRecord != nil {
		m.onRecord(event)
	}
	if m.err != nil {
		return Event{}, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return event, nil
}

func (m *memoryAudit) snapshot() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

type sendCall struct {
	trigger  string
	tier     Tier
	contacts []Contact
}

type fakeSender struct {
	mu     sync.Mutex
	calls  []sendCall
	result Result
	err    error
	// block, when set, is waited on inside Dispatch.
	block    chan struct{}
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeSender) Dispatch(ctx context.Context, trigger string, tier Tier, contacts []Contact, _ Settings) (Result, error) {
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if current <= seen || f.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, sendCall{trigger: trigger, tier: tier, contacts: contacts})
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return f.result, f.err
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSMS struct {
	mu      sync.Mutex
	sent    map[string]string
	failFor map[string]bool
}

func (f *fakeSMS) SendText(_ context.Context, to string, body string) error {
	if f.failFor[to] {
		return errors.New("carrier rejected message")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = map[string]string{}
	}
	f.sent[to] = body
	return nil
}

type fakeLocation struct {
	pos Position
	err error
}

func (f fakeLocation) LastKnown(context.Context) (Position, error) {
	return f.pos, f.err
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recordingNotifier) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

type mapSounds map[string]SoundOption

func (m mapSounds) Resolve(key string, fallback SoundCategory) (SoundOption, bool) {
	if option, ok := m[key]; ok {
		return option, true
	}
	for _, option := range m {
		if option.Category == fallback {
			return option, true
		}
	}
	return SoundOption{}, false
}

func fixedClock() time.Time {
	return time.Date(2026, time.March, 4, 21, 7, 0, 0, time.UTC)
}

type completedDispatch struct {
	tier    Tier
	outcome string
	elapsed time.Duration
}

type recordingMetrics struct {
	mu        sync.Mutex
	completed []completedDispatch
}

func (m *recordingMetrics) DispatchCompleted(_ context.Context, tier Tier, outcome string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, completedDispatch{tier: tier, outcome: outcome, elapsed: elapsed})
}

func (m *recordingMetrics) SMSAttempted(context.Context, Tier, bool) {}

func (m *recordingMetrics) all() []completedDispatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]completedDispatch(nil), m.completed...)
}

// steppingClock advances by step on every reading.
func steppingClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	current := fixedClock()
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := current
		current = current.Add(step)
		return now
	}
}
