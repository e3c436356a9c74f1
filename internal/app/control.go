package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rbright/pulselink/internal/alert"
	"github.com/rbright/pulselink/internal/ipc"
	"github.com/rbright/pulselink/internal/listen"
)

type manualDispatcher interface {
	DispatchManual(ctx context.Context, tier alert.Tier, trigger string) (*alert.Event, error)
}

type inboundHandler interface {
	OnInboundMessage(ctx context.Context, body string) (*alert.Event, error)
}

type supervisorView interface {
	Status() listen.Status
	Wake()
}

type listeningStore interface {
	ListeningEnabled(ctx context.Context) (bool, error)
	SetListening(ctx context.Context, enabled bool) (alert.Settings, error)
}

type dismisser interface {
	Dismiss(ctx context.Context, notificationID uint32) error
}

// acknowledger clears the check-in notification once a contact acknowledges it.
type acknowledger struct {
	inbound  inboundHandler
	notifier dismisser
	logger   *slog.Logger
}

func (a acknowledger) OnInboundMessage(ctx context.Context, body string) (*alert.Event, error) {
	event, err := a.inbound.OnInboundMessage(ctx, body)
	if err != nil || event == nil {
		return event, err
	}
	if a.notifier != nil {
		if err := a.notifier.Dismiss(ctx, alert.NotificationID(alert.TierCheckIn)); err != nil {
			a.logger.Warn("dismiss check-in notification failed", "error", err.Error())
		}
	}
	return event, nil
}

// controller answers IPC requests from CLI invocations.
type controller struct {
	dispatcher manualDispatcher
	inbound    inboundHandler
	supervisor supervisorView
	store      listeningStore
	logger     *slog.Logger
}

func (c *controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return c.status(ctx)
	case ipc.CommandTrigger:
		return c.trigger(ctx, req)
	case ipc.CommandInbound:
		return c.acknowledge(ctx, req.Text)
	case ipc.CommandListening:
		return c.listening(ctx, req.Args)
	default:
		return ipc.Response{OK: false, Error: fmt.Sprintf("unsupported command %q", req.Command)}
	}
}

func (c *controller) status(ctx context.Context) ipc.Response {
	status := c.supervisor.Status()
	enabled, err := c.store.ListeningEnabled(ctx)
	if err != nil {
		return ipc.Response{OK: false, Error: err.Error()}
	}

	message := fmt.Sprintf("listening_enabled=%t sessions=%d restarts=%d", enabled, status.Sessions, status.Restarts)
	if status.LastError != "" {
		message += fmt.Sprintf(" last_error=%q", status.LastError)
	}
	return ipc.Response{OK: true, State: string(status.State), Message: message}
}

func (c *controller) trigger(ctx context.Context, req ipc.Request) ipc.Response {
	tier, err := alert.ParseTier(req.Tier)
	if err != nil {
		return ipc.Response{OK: false, Error: err.Error()}
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = manualTrigger
	}

	event, err := c.dispatcher.DispatchManual(ctx, tier, text)
	if err != nil {
		c.logger.Error("manual dispatch failed", "tier", tier, "error", err.Error())
		return ipc.Response{OK: false, Error: err.Error()}
	}
	if event == nil {
		return ipc.Response{OK: true, Message: fmt.Sprintf("no %s contacts; nothing sent", tier)}
	}
	return ipc.Response{
		OK:      true,
		EventID: event.ID,
		Message: fmt.Sprintf("%s alert sent to %d contact(s)", tier, event.ContactCount),
	}
}

func (c *controller) acknowledge(ctx context.Context, body string) ipc.Response {
	event, err := c.inbound.OnInboundMessage(ctx, body)
	if err != nil {
		return ipc.Response{OK: false, Error: err.Error()}
	}
	if event == nil {
		return ipc.Response{OK: true, Message: "message ignored"}
	}
	return ipc.Response{OK: true, EventID: event.ID, Message: "acknowledgement recorded"}
}

func (c *controller) listening(ctx context.Context, args []string) ipc.Response {
	if len(args) != 1 {
		return ipc.Response{OK: false, Error: "listening expects on or off"}
	}

	var enabled bool
	switch strings.ToLower(args[0]) {
	case "on":
		enabled = true
	case "off":
	default:
		return ipc.Response{OK: false, Error: fmt.Sprintf("listening expects on or off, got %q", args[0])}
	}

	wasEnabled, err := c.store.ListeningEnabled(ctx)
	if err != nil {
		return ipc.Response{OK: false, Error: err.Error()}
	}
	settings, err := c.store.SetListening(ctx, enabled)
	if err != nil {
		return ipc.Response{OK: false, Error: err.Error()}
	}
	if settings.ListeningEnabled && !wasEnabled {
		c.supervisor.Wake()
	}
	c.logger.Info("listening toggled", "enabled", settings.ListeningEnabled)
	return ipc.Response{OK: true, Message: listeningMessage(settings.ListeningEnabled)}
}
