package alert

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func threeContacts() []Contact {
	return []Contact{
		{ID: 7, DisplayName: "Ada", PhoneNumber: "+15550001", Tier: TierEmergency},
		{ID: 8, DisplayName: "Grace", PhoneNumber: "+15550002", Tier: TierEmergency},
		{ID: 9, DisplayName: "Alan", PhoneNumber: "+15550003", Tier: TierEmergency},
	}
}

func TestDispatchToleratesPartialSMSFailure(t *testing.T) {
	sms := &fakeSMS{failFor: map[string]bool{"+15550002": true}}
	notifier := &recordingNotifier{}
	d := NewDispatcher(DispatcherOptions{SMS: sms, Notifier: notifier, Now: fixedClock})

	result, err := d.Dispatch(context.Background(), "help me pulselink", TierEmergency, threeContacts(), Settings{})
	require.NoError(t, err)
	require.Equal(t, 2, result.SMSSuccessCount)
	require.Len(t, notifier.all(), 1)
	require.Len(t, sms.sent, 2)
	require.Equal(t, result.Message, sms.sent["+15550001"])
}

func TestDispatchAllSMSFailStillNotifies(t *testing.T) {
	sms := &fakeSMS{failFor: map[string]bool{"+15550001": true, "+15550002": true, "+15550003": true}}
	notifier := &recordingNotifier{}
	d := NewDispatcher(DispatcherOptions{SMS: sms, Notifier: notifier})

	result, err := d.Dispatch(context.Background(), "x", TierEmergency, threeContacts(), Settings{})
	require.NoError(t, err)
	require.Zero(t, result.SMSSuccessCount)
	require.Len(t, notifier.all(), 1)
}

func TestDispatchWithoutSMSChannelCountsZero(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(DispatcherOptions{Notifier: notifier})

	result, err := d.Dispatch(context.Background(), "x", TierCheckIn, threeContacts()[:1], Settings{})
	require.NoError(t, err)
	require.Zero(t, result.SMSSuccessCount)
	require.Len(t, notifier.all(), 1)
}

func TestDispatchIncludesLocation(t *testing.T) {
	pos := Position{Latitude: 51.5072, Longitude: -0.1276, FixedAt: fixedClock()}
	d := NewDispatcher(DispatcherOptions{
		Location: fakeLocation{pos: pos},
		SMS:      &fakeSMS{},
		TimeZone: time.UTC,
	})

	result, err := d.Dispatch(context.Background(), "help me pulselink", TierEmergency, threeContacts(), Settings{IncludeLocation: true})
	require.NoError(t, err)
	require.True(t, result.LocationIncluded)
	require.Equal(t, strings.Join([]string{
		"PulseLink EMERGENCY: I need help right now.",
		`Phrase triggered: "help me pulselink".`,
		"Last known location @ Mar 4, 21:07: https://maps.google.com/?q=51.5072,-0.1276",
		"This message was sent automatically via PulseLink.",
	}, "\n"), result.Message)
}

func TestDispatchStampsLocationWithDispatchTimeWhenFixTimeUnknown(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{
		Location: fakeLocation{pos: Position{Latitude: 51.5072, Longitude: -0.1276}},
		SMS:      &fakeSMS{},
		Now:      func() time.Time { return fixedClock().Add(2 * time.Hour) },
		TimeZone: time.UTC,
	})

	result, err := d.Dispatch(context.Background(), "help me pulselink", TierEmergency, threeContacts(), Settings{IncludeLocation: true})
	require.NoError(t, err)
	require.Contains(t, result.Message, "Last known location @ Mar 4, 23:07: https://maps.google.com/?q=51.5072,-0.1276")
}

func TestDispatchOmitsLocationWhenProviderFails(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{
		Location: fakeLocation{err: errors.New("no fix")},
		SMS:      &fakeSMS{},
	})

	result, err := d.Dispatch(context.Background(), "check in pulselink", TierCheckIn, threeContacts(), Settings{IncludeLocation: true})
	require.NoError(t, err)
	require.False(t, result.LocationIncluded)
	require.NotContains(t, result.Message, "Last known location")
	require.Equal(t, 3, result.SMSSuccessCount)
}

func TestDispatchSkipsLocationWhenDisabled(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{
		Location: fakeLocation{pos: Position{Latitude: 1, Longitude: 2}},
	})

	result, err := d.Dispatch(context.Background(), "x", TierCheckIn, threeContacts(), Settings{IncludeLocation: false})
	require.NoError(t, err)
	require.False(t, result.LocationIncluded)
}

func TestDispatchLocationTimeoutIsBestEffort(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{
		Location:        blockingLocation{},
		LocationTimeout: 20 * time.Millisecond,
	})

	started := time.Now()
	result, err := d.Dispatch(context.Background(), "x", TierEmergency, threeContacts(), Settings{IncludeLocation: true})
	require.NoError(t, err)
	require.False(t, result.LocationIncluded)
	require.Less(t, time.Since(started), time.Second)
}

type blockingLocation struct{}

func (blockingLocation) LastKnown(ctx context.Context) (Position, error) {
	<-ctx.Done()
	return Position{}, ctx.Err()
}

func TestDispatchEmergencyNotification(t *testing.T) {
	notifier := &recordingNotifier{}
	sounds := mapSounds{
		"alert_siren_loud": {Key: "alert_siren_loud", Label: "Loud", Category: SoundSiren},
	}
	d := NewDispatcher(DispatcherOptions{Notifier: notifier, Sounds: sounds})

	settings := DefaultSettings()
	settings.EmergencyProfile.SoundKey = "missing"
	_, err := d.Dispatch(context.Background(), "x", TierEmergency, threeContacts(), settings)
	require.NoError(t, err)

	sent := notifier.all()
	require.Len(t, sent, 1)
	n := sent[0]
	require.Equal(t, ChannelAlerts, n.Channel)
	require.Equal(t, "PulseLink alert", n.Title)
	require.Equal(t, PriorityMax, n.Priority)
	require.True(t, n.Alarm)
	require.Equal(t, VibrationPattern, n.Vibration)
	require.NotNil(t, n.Sound)
	require.Equal(t, "alert_siren_loud", n.Sound.Key)
	require.Equal(t, &Action{Key: "tel:+15550001", Label: "Call Ada"}, n.Action)
}

func TestDispatchCheckInNotificationHonorsProfile(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(DispatcherOptions{Notifier: notifier, Sounds: mapSounds{}})

	settings := DefaultSettings()
	settings.CheckInProfile = Profile{Vibrate: false, BreakThroughDND: false}
	_, err := d.Dispatch(context.Background(), "x", TierCheckIn, threeContacts()[2:], settings)
	require.NoError(t, err)

	n := notifier.all()[0]
	require.Equal(t, ChannelCheckIns, n.Channel)
	require.Equal(t, "PulseLink check-in", n.Title)
	require.False(t, n.Alarm)
	require.Nil(t, n.Vibration)
	require.Nil(t, n.Sound)
	require.Equal(t, SoundChime, n.Category)
	require.Equal(t, "Call Alan", n.Action.Label)
}

func TestDispatchNotificationFailureIsNotPropagated(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("bus unavailable")}
	d := NewDispatcher(DispatcherOptions{Notifier: notifier, SMS: &fakeSMS{}})

	result, err := d.Dispatch(context.Background(), "x", TierEmergency, threeContacts(), Settings{})
	require.NoError(t, err)
	require.Equal(t, 3, result.SMSSuccessCount)
}

func TestDispatchRejectsInvalidInput(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{})

	_, err := d.Dispatch(context.Background(), "x", Tier("LOUD"), threeContacts(), Settings{})
	require.ErrorIs(t, err, ErrUnknownTier)

	_, err = d.Dispatch(context.Background(), "x", TierEmergency, nil, Settings{})
	require.ErrorIs(t, err, ErrNoContacts)
}

func TestDispatchCancelledContext(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(DispatcherOptions{Notifier: notifier})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Dispatch(ctx, "x", TierEmergency, threeContacts(), Settings{})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, notifier.all())
}
