package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rbright/pulselink/internal/alert"
)

// desktopRequest is one freedesktop Notify call.
type desktopRequest struct {
	AppName   string
	ReplaceID uint32
	Icon      string
	Summary   string
	Body      string
	Actions   []alert.Action
	Urgency   byte
	Category  string
	SoundFile string
	TimeoutMS int
}

// notifyArgs renders req as busctl arguments for the Notify signature susssasa{sv}i.
func notifyArgs(req desktopRequest) []string {
	args := []string{
		"--user",
		"call",
		"org.freedesktop.Notifications",
		"/org/freedesktop/Notifications",
		"org.freedesktop.Notifications",
		"Notify",
		"susssasa{sv}i",
		req.AppName,
		strconv.FormatUint(uint64(req.ReplaceID), 10),
		req.Icon,
		req.Summary,
		req.Body,
	}

	args = append(args, strconv.Itoa(len(req.Actions)*2))
	for _, action := range req.Actions {
		args = append(args, action.Key, action.Label)
	}

	hints := [][]string{{"urgency", "y", strconv.Itoa(int(req.Urgency))}}
	if req.Category != "" {
		hints = append(hints, []string{"category", "s", req.Category})
	}
	if req.SoundFile != "" {
		hints = append(hints, []string{"sound-file", "s", req.SoundFile})
	}
	args = append(args, strconv.Itoa(len(hints)))
	for _, hint := range hints {
		args = append(args, hint...)
	}

	return append(args, strconv.Itoa(req.TimeoutMS))
}

// desktopNotify sends a freedesktop notification over DBus via busctl.
// It returns the notification ID assigned by the server.
func desktopNotify(ctx context.Context, req desktopRequest) (uint32, error) {
	out, err := exec.CommandContext(ctx, "busctl", notifyArgs(req)...).CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(out))
		if trimmed == "" {
			return 0, fmt.Errorf("desktop notify failed: %w", err)
		}
		return 0, fmt.Errorf("desktop notify failed: %w (%s)", err, trimmed)
	}
	return parseNotifyReply(string(out))
}

func parseNotifyReply(out string) (uint32, error) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) < 2 || fields[0] != "u" {
		return 0, fmt.Errorf("desktop notify invalid response: %q", strings.TrimSpace(out))
	}

	value, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("desktop notify parse id %q: %w", fields[1], err)
	}
	return uint32(value), nil
}

// desktopDismiss requests explicit close by notification ID.
func desktopDismiss(ctx context.Context, id uint32) error {
	args := []string{
		"--user",
		"call",
		"org.freedesktop.Notifications",
		"/org/freedesktop/Notifications",
		"org.freedesktop.Notifications",
		"CloseNotification",
		"u",
		strconv.FormatUint(uint64(id), 10),
	}

	out, err := exec.CommandContext(ctx, "busctl", args...).CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(out))
		if trimmed == "" {
			return fmt.Errorf("desktop dismiss failed: %w", err)
		}
		return fmt.Errorf("desktop dismiss failed: %w (%s)", err, trimmed)
	}
	return nil
}
