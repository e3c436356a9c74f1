// Package app executes pulselink CLI commands and wires the long-running daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rbright/pulselink/internal/alert"
	"github.com/rbright/pulselink/internal/audio"
	"github.com/rbright/pulselink/internal/cli"
	"github.com/rbright/pulselink/internal/config"
	"github.com/rbright/pulselink/internal/doctor"
	"github.com/rbright/pulselink/internal/ipc"
	"github.com/rbright/pulselink/internal/logging"
	"github.com/rbright/pulselink/internal/notify"
	"github.com/rbright/pulselink/internal/store/sqlite"
	"github.com/rbright/pulselink/internal/version"
)

const (
	binaryName = "pulselink"

	statusTimeout   = 220 * time.Millisecond
	dispatchTimeout = 30 * time.Second

	defaultHistoryLimit = 20
	manualTrigger       = "Manual trigger"
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logRuntime, err := logging.New(logging.Options{
		Level:      cfgLoaded.Config.Log.Level,
		MaxSizeMB:  cfgLoaded.Config.Log.MaxSizeMB,
		MaxBackups: cfgLoaded.Config.Log.MaxBackups,
		Compress:   cfgLoaded.Config.Log.Compress,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandRun:
		return r.commandRun(ctx, cfgLoaded.Config, logger)
	case cli.CommandTrigger:
		return r.commandTrigger(ctx, parsed.Args)
	case cli.CommandInbound:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandInbound, Text: strings.Join(parsed.Args, " ")}, dispatchTimeout)
	case cli.CommandListening:
		return r.commandListening(ctx, cfgLoaded.Config, parsed.Args[0])
	case cli.CommandHistory:
		return r.commandHistory(ctx, cfgLoaded.Config, parsed.Args)
	case cli.CommandContacts:
		return r.commandContacts(ctx, cfgLoaded.Config, parsed.Args)
	case cli.CommandSounds:
		return r.commandSounds(cfgLoaded.Config)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}

	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "stopped")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandStatus}, statusTimeout)
	if !handled {
		fmt.Fprintln(r.Stdout, "stopped")
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.State == "" {
		resp.State = "idle"
	}
	fmt.Fprintln(r.Stdout, resp.State)
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func (r Runner) commandTrigger(ctx context.Context, args []string) int {
	tier, err := alert.ParseTier(args[0])
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 2
	}
	text := strings.TrimSpace(strings.Join(args[1:], " "))
	if text == "" {
		text = manualTrigger
	}
	return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandTrigger, Tier: string(tier), Text: text}, dispatchTimeout)
}

// commandListening goes through the daemon when one is running so the
// supervisor is woken; otherwise the setting is written directly.
func (r Runner) commandListening(ctx context.Context, cfg config.Config, value string) int {
	value = strings.ToLower(value)
	if socketPath, err := ipc.RuntimeSocketPath(); err == nil {
		resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandListening, Args: []string{value}}, statusTimeout)
		if handled {
			if err != nil {
				fmt.Fprintf(r.Stderr, "error: %v\n", err)
				return 1
			}
			fmt.Fprintln(r.Stdout, resp.Message)
			return 0
		}
	}

	db, code := r.openStore(cfg)
	if db == nil {
		return code
	}
	defer db.Close()

	settings, err := db.SetListening(ctx, value == "on")
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(r.Stdout, listeningMessage(settings.ListeningEnabled))
	return 0
}

func (r Runner) commandHistory(ctx context.Context, cfg config.Config, args []string) int {
	limit := defaultHistoryLimit
	if len(args) == 1 {
		limit, _ = strconv.Atoi(args[0])
	}

	db, code := r.openStore(cfg)
	if db == nil {
		return code
	}
	defer db.Close()

	events, err := db.Recent(ctx, limit)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(events) == 0 {
		fmt.Fprintln(r.Stdout, "no alert events")
		return 0
	}
	for _, event := range events {
		fmt.Fprintf(
			r.Stdout,
			"%d | %s | %s | contacts=%d | sms=%s | location=%s | %q\n",
			event.ID,
			event.Timestamp.Local().Format(time.RFC3339),
			event.Tier,
			event.ContactCount,
			yesNo(event.SentSMS),
			yesNo(event.SharedLocation),
			event.TriggeredBy,
		)
	}
	return 0
}

func (r Runner) commandContacts(ctx context.Context, cfg config.Config, args []string) int {
	db, code := r.openStore(cfg)
	if db == nil {
		return code
	}
	defer db.Close()

	switch args[0] {
	case "add":
		tier, err := alert.ParseTier(args[1])
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 2
		}
		contact, err := db.UpsertContact(ctx, alert.Contact{
			DisplayName:     args[2],
			PhoneNumber:     args[3],
			Tier:            tier,
			IncludeLocation: true,
		})
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Fprintf(r.Stdout, "added contact %d\n", contact.ID)
		return 0
	case "remove":
		id, _ := strconv.ParseInt(args[1], 10, 64)
		if err := db.DeleteContact(ctx, id); err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Fprintf(r.Stdout, "removed contact %d\n", id)
		return 0
	default:
		contacts, err := db.ListContacts(ctx)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if len(contacts) == 0 {
			fmt.Fprintln(r.Stdout, "no contacts")
			return 0
		}
		for _, contact := range contacts {
			fmt.Fprintf(r.Stdout, "%d | %s | %s | %s\n", contact.ID, contact.Tier, contact.DisplayName, contact.PhoneNumber)
		}
		return 0
	}
}

func (r Runner) commandSounds(cfg config.Config) int {
	catalog, err := notify.LoadCatalog(cfg.Notify.SoundDir)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	groups := []struct {
		tier    alert.Tier
		options []alert.SoundOption
	}{
		{alert.TierEmergency, catalog.EmergencyOptions()},
		{alert.TierCheckIn, catalog.CheckInOptions()},
	}
	for _, group := range groups {
		if len(group.options) == 0 {
			fmt.Fprintf(r.Stdout, "%s: synthesized %s\n", group.tier, group.tier.DefaultSoundCategory())
			continue
		}
		for _, option := range group.options {
			fmt.Fprintf(r.Stdout, "%s: %s | %s | %s\n", group.tier, option.Key, option.Label, option.Path)
		}
	}
	return 0
}

func (r Runner) openStore(cfg config.Config) (*sqlite.DB, int) {
	path, err := cfg.StorePath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return nil, 1
	}
	db, err := sqlite.Open(path, cfg.SeedSettings())
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return nil, 1
	}
	return db, 0
}

func (r Runner) forwardOrFail(ctx context.Context, req ipc.Request, timeout time.Duration) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, req, timeout)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: pulselink daemon is not running\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func tryForward(ctx context.Context, socketPath string, req ipc.Request, timeout time.Duration) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, req, timeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

func listeningMessage(enabled bool) string {
	if enabled {
		return "listening enabled"
	}
	return "listening disabled"
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
