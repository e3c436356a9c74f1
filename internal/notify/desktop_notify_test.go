package notify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/pulselink/internal/alert"
)

func TestNotifyArgsIncludesActionsAndHints(t *testing.T) {
	args := notifyArgs(desktopRequest{
		AppName:   "pulselink",
		ReplaceID: 7,
		Icon:      "dialog-warning",
		Summary:   "PulseLink alert",
		Body:      "body",
		Actions:   []alert.Action{{Key: "tel:+15550100", Label: "Call Ada"}},
		Urgency:   urgencyCritical,
		Category:  "im.received",
		SoundFile: "/sounds/alert_siren.ogg",
		TimeoutMS: 0,
	})

	require.Equal(t, []string{
		"--user", "call",
		"org.freedesktop.Notifications",
		"/org/freedesktop/Notifications",
		"org.freedesktop.Notifications",
		"Notify", "susssasa{sv}i",
		"pulselink", "7", "dialog-warning", "PulseLink alert", "body",
		"2", "tel:+15550100", "Call Ada",
		"3",
		"urgency", "y", "2",
		"category", "s", "im.received",
		"sound-file", "s", "/sounds/alert_siren.ogg",
		"0",
	}, args)
}

func TestNotifyArgsMinimal(t *testing.T) {
	args := notifyArgs(desktopRequest{AppName: "pulselink", Summary: "s", Urgency: urgencyNormal, TimeoutMS: 5000})
	require.Equal(t, []string{"0", "1", "urgency", "y", "1", "5000"}, args[len(args)-6:])
}

func TestParseNotifyReply(t *testing.T) {
	id, err := parseNotifyReply("u 42\n")
	require.NoError(t, err)
	require.Equal(t, uint32(42), id)

	_, err = parseNotifyReply("s nope")
	require.Error(t, err)

	_, err = parseNotifyReply("u -1")
	require.Error(t, err)
}
