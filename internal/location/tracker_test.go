package location

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/pulselink/internal/alert"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func newTestTracker(maxAge time.Duration, now time.Time) *Tracker {
	tracker := NewTracker(Config{MaxAge: maxAge}, nil)
	tracker.now = func() time.Time { return now }
	return tracker
}

func TestLastKnownWithoutFix(t *testing.T) {
	tracker := newTestTracker(0, time.Now())
	_, err := tracker.LastKnown(context.Background())
	require.ErrorIs(t, err, ErrNoFix)
}

func TestHandleStoresFix(t *testing.T) {
	now := time.Date(2026, 3, 4, 21, 7, 0, 0, time.UTC)
	tracker := newTestTracker(0, now)

	tracker.onMessage(nil, fakeMessage{
		topic:   "owntracks/ada/phone",
		payload: []byte(`{"_type":"location","lat":52.52,"lon":13.405,"tst":1772658000}`),
	})

	pos, err := tracker.LastKnown(context.Background())
	require.NoError(t, err)
	require.Equal(t, alert.Position{Latitude: 52.52, Longitude: 13.405, FixedAt: time.Unix(1772658000, 0)}, pos)
}

func TestHandleWithoutTimestampUsesClock(t *testing.T) {
	now := time.Date(2026, 3, 4, 21, 7, 0, 0, time.UTC)
	tracker := newTestTracker(0, now)

	require.NoError(t, tracker.Handle("owntracks/ada/phone", []byte(`{"_type":"location","lat":0,"lon":0}`)))
	pos, err := tracker.LastKnown(context.Background())
	require.NoError(t, err)
	require.Equal(t, now, pos.FixedAt)
	require.Zero(t, pos.Latitude)
}

func TestHandleIgnoresOtherTypesAndOlderFixes(t *testing.T) {
	tracker := newTestTracker(0, time.Now())

	require.NoError(t, tracker.Handle("t", []byte(`{"_type":"location","lat":1,"lon":2,"tst":200}`)))
	require.NoError(t, tracker.Handle("t", []byte(`{"_type":"transition","lat":9,"lon":9,"tst":300}`)))
	require.NoError(t, tracker.Handle("t", []byte(`{"_type":"location","lat":5,"lon":6,"tst":100}`)))

	pos, err := tracker.LastKnown(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1.0, pos.Latitude)
	require.Equal(t, 2.0, pos.Longitude)
}

func TestHandleRejectsInvalidPayloads(t *testing.T) {
	tracker := newTestTracker(0, time.Now())

	require.Error(t, tracker.Handle("t", []byte(`not json`)))
	require.Error(t, tracker.Handle("t", []byte(`{"_type":"location","lat":1}`)))
	require.Error(t, tracker.Handle("t", []byte(`{"_type":"location","lat":91,"lon":0}`)))

	_, err := tracker.LastKnown(context.Background())
	require.ErrorIs(t, err, ErrNoFix)
}

func TestLastKnownStaleFix(t *testing.T) {
	fixedAt := time.Unix(1772658000, 0)
	tracker := newTestTracker(10*time.Minute, fixedAt.Add(11*time.Minute))
	require.NoError(t, tracker.Handle("t", []byte(`{"_type":"location","lat":1,"lon":2,"tst":1772658000}`)))

	_, err := tracker.LastKnown(context.Background())
	require.ErrorIs(t, err, ErrNoFix)
	require.Contains(t, err.Error(), "stale")

	tracker.now = func() time.Time { return fixedAt.Add(5 * time.Minute) }
	_, err = tracker.LastKnown(context.Background())
	require.NoError(t, err)
}

func TestLastKnownCancelledContext(t *testing.T) {
	tracker := newTestTracker(0, time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tracker.LastKnown(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewTrackerDefaults(t *testing.T) {
	tracker := NewTracker(Config{}, nil)
	require.False(t, tracker.Configured())
	require.Equal(t, DefaultTopic, tracker.cfg.Topic)
	require.Equal(t, "pulselink", tracker.cfg.ClientID)
	require.Error(t, tracker.Connect(context.Background()))
	tracker.Close()
}

func TestConnectUnreachableBroker(t *testing.T) {
	tracker := NewTracker(Config{Broker: "tcp://127.0.0.1:1"}, nil)
	require.True(t, tracker.Configured())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.Error(t, tracker.Connect(ctx))
}
