// Package notify raises local alert notifications, plays alert sounds, and
// resolves profile sound keys against an on-disk sound catalog.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/pulselink/internal/alert"
)

const (
	BackendDesktop = "desktop"
	BackendLog     = "log"

	defaultAppName     = "pulselink"
	defaultCallTimeout = 400 * time.Millisecond

	urgencyNormal   byte = 1
	urgencyCritical byte = 2
)

// Options configures a Notifier.
type Options struct {
	Backend     string
	AppName     string
	SoundEnable bool
	// Player is the sound file player argv. The file path replaces
	// FilePlaceholder, or is appended when there is none.
	Player      []string
	Logger      *slog.Logger
	CallTimeout time.Duration
}

// Notifier implements alert.Notifier over freedesktop notifications or the log.
type Notifier struct {
	backend     string
	appName     string
	soundEnable bool
	player      []string
	logger      *slog.Logger
	callTimeout time.Duration

	mu         sync.Mutex
	desktopIDs map[uint32]uint32
	soundMu    sync.Mutex

	send    func(context.Context, desktopRequest) (uint32, error)
	dismiss func(context.Context, uint32) error
	play    func(context.Context, []string, *alert.SoundOption, alert.SoundCategory) error
}

// New constructs a notifier; unknown backends fall back to the log backend.
func New(opts Options) *Notifier {
	n := &Notifier{
		backend:     strings.ToLower(strings.TrimSpace(opts.Backend)),
		appName:     strings.TrimSpace(opts.AppName),
		soundEnable: opts.SoundEnable,
		player:      opts.Player,
		logger:      opts.Logger,
		callTimeout: opts.CallTimeout,
		desktopIDs:  make(map[uint32]uint32),
		send:        desktopNotify,
		dismiss:     desktopDismiss,
		play:        playSound,
	}
	if n.backend != BackendDesktop {
		n.backend = BackendLog
	}
	if n.appName == "" {
		n.appName = defaultAppName
	}
	if n.logger == nil {
		n.logger = slog.New(slog.DiscardHandler)
	}
	if len(n.player) == 0 {
		n.player = DefaultPlayer
	}
	if n.callTimeout <= 0 {
		n.callTimeout = defaultCallTimeout
	}
	return n
}

// Backend reports the active backend name.
func (n *Notifier) Backend() string {
	return n.backend
}

// Notify raises notification and starts its sound. Sound playback never blocks the caller.
func (n *Notifier) Notify(ctx context.Context, notification alert.Notification) error {
	n.startSound(notification)

	if n.backend == BackendLog {
		n.logger.Info("alert notification",
			"channel", notification.Channel,
			"title", notification.Title,
			"body", notification.Body,
			"alarm", notification.Alarm,
			"vibrate", len(notification.Vibration) > 0,
			"action", actionLabel(notification.Action),
		)
		return nil
	}

	n.mu.Lock()
	replaceID := n.desktopIDs[notification.ID]
	n.mu.Unlock()

	req := desktopRequest{
		AppName:   n.appName,
		ReplaceID: replaceID,
		Icon:      "dialog-warning",
		Summary:   notification.Title,
		Body:      notification.Body,
		Urgency:   urgencyFor(notification),
		Category:  "im.received",
	}
	if notification.Sound != nil && !n.soundEnable {
		req.SoundFile = notification.Sound.Path
	}
	if notification.Action != nil {
		req.Actions = []alert.Action{*notification.Action}
	}

	var id uint32
	err := n.run(ctx, func(ctx context.Context) error {
		var sendErr error
		id, sendErr = n.send(ctx, req)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("notify %s: %w", notification.Channel, err)
	}

	n.mu.Lock()
	n.desktopIDs[notification.ID] = id
	n.mu.Unlock()
	return nil
}

// Dismiss closes the desktop notification previously raised with notificationID.
func (n *Notifier) Dismiss(ctx context.Context, notificationID uint32) error {
	n.mu.Lock()
	id, ok := n.desktopIDs[notificationID]
	delete(n.desktopIDs, notificationID)
	n.mu.Unlock()

	if !ok || n.backend != BackendDesktop {
		return nil
	}
	return n.run(ctx, func(ctx context.Context) error { return n.dismiss(ctx, id) })
}

// run executes a notification call with a bounded timeout.
func (n *Notifier) run(ctx context.Context, fn func(context.Context) error) error {
	runCtx, cancel := context.WithTimeout(ctx, n.callTimeout)
	defer cancel()
	return fn(runCtx)
}

// startSound serializes playback and emits audio asynchronously.
func (n *Notifier) startSound(notification alert.Notification) {
	if !n.soundEnable {
		return
	}
	go func() {
		n.soundMu.Lock()
		defer n.soundMu.Unlock()
		if err := n.play(context.Background(), n.player, notification.Sound, notification.Category); err != nil {
			n.logger.Debug("alert sound failed", "error", err.Error())
		}
	}()
}

func urgencyFor(notification alert.Notification) byte {
	if notification.Channel == alert.ChannelAlerts || notification.Alarm {
		return urgencyCritical
	}
	return urgencyNormal
}

func actionLabel(action *alert.Action) string {
	if action == nil {
		return ""
	}
	return action.Label
}
