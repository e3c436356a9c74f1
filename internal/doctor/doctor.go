// Package doctor runs readiness diagnostics for config, tools, audio, the
// recognizer, the store and the outbound integrations.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rbright/pulselink/internal/alert"
	"github.com/rbright/pulselink/internal/asr"
	"github.com/rbright/pulselink/internal/audio"
	"github.com/rbright/pulselink/internal/config"
	"github.com/rbright/pulselink/internal/location"
	"github.com/rbright/pulselink/internal/store/sqlite"
)

const checkTimeout = 3 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "control socket directory available", "XDG_RUNTIME_DIR is empty; CLI cannot reach the daemon"))

	if strings.EqualFold(cfg.Config.Notify.Backend, "desktop") {
		checks = append(checks, checkBinary("busctl", "desktop notifications use busctl"))
	}
	if cfg.Config.Notify.SoundEnable {
		checks = append(checks, checkCommand(cfg.Config.Notify.Player.Argv, "notify.player_cmd"))
	}

	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	checks = append(checks, checkRecognizer(ctx, cfg.Config.Recognizer))
	checks = append(checks, checkStore(ctx, cfg.Config))
	checks = append(checks, checkSMS(cfg.Config.SMS))
	checks = append(checks, checkLocation(ctx, cfg.Config.Location))
	checks = append(checks, checkInbound(ctx, cfg.Config.Inbound))

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkRecognizer queries the recognizer's gRPC health service.
func checkRecognizer(ctx context.Context, cfg config.RecognizerConfig) Check {
	client, err := asr.NewClient(asr.Config{
		Endpoint:      cfg.GRPC,
		HealthService: cfg.HealthService,
		LanguageCode:  cfg.LanguageCode,
		DialTimeout:   cfg.DialTimeout,
	})
	if err != nil {
		return Check{Name: "recognizer", Pass: false, Message: err.Error()}
	}
	defer client.Close()

	if err := client.Check(ctx); err != nil {
		return Check{Name: "recognizer", Pass: false, Message: err.Error()}
	}
	return Check{Name: "recognizer", Pass: true, Message: fmt.Sprintf("serving at %s", cfg.GRPC)}
}

// checkStore opens the database and requires at least one EMERGENCY contact.
func checkStore(ctx context.Context, cfg config.Config) Check {
	path, err := cfg.StorePath()
	if err != nil {
		return Check{Name: "store", Pass: false, Message: err.Error()}
	}
	db, err := sqlite.Open(path, cfg.SeedSettings())
	if err != nil {
		return Check{Name: "store", Pass: false, Message: err.Error()}
	}
	defer db.Close()

	contacts, err := db.ContactsByTier(ctx, alert.TierEmergency)
	if err != nil {
		return Check{Name: "store", Pass: false, Message: err.Error()}
	}
	if len(contacts) == 0 {
		return Check{Name: "store", Pass: false, Message: fmt.Sprintf("%s has no EMERGENCY contacts; emergency alerts will not be sent", path)}
	}
	return Check{Name: "store", Pass: true, Message: fmt.Sprintf("%s (%d emergency contact(s))", path, len(contacts))}
}

// checkSMS fails when no gateway is configured since contacts cannot be texted.
func checkSMS(cfg config.SMSConfig) Check {
	if strings.TrimSpace(cfg.GatewayURL) == "" {
		return Check{Name: "sms", Pass: false, Message: "sms.gateway_url is unset; contacts will not be texted"}
	}
	return Check{Name: "sms", Pass: true, Message: fmt.Sprintf("gateway %s", cfg.GatewayURL)}
}

// checkLocation connects to the MQTT broker once; an unset broker is reported, not failed.
func checkLocation(ctx context.Context, cfg config.LocationConfig) Check {
	if strings.TrimSpace(cfg.Broker) == "" {
		return Check{Name: "location", Pass: true, Message: "disabled (location.broker unset)"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	tracker := location.NewTracker(location.Config{
		Broker:   cfg.Broker,
		Topic:    cfg.Topic,
		ClientID: cfg.ClientID + "-doctor",
		Username: cfg.Username,
		Password: cfg.Password,
	}, nil)
	if err := tracker.Connect(checkCtx); err != nil {
		return Check{Name: "location", Pass: false, Message: err.Error()}
	}
	tracker.Close()
	return Check{Name: "location", Pass: true, Message: fmt.Sprintf("connected to %s", cfg.Broker)}
}

// checkInbound pings Redis; an unset address is reported, not failed.
func checkInbound(ctx context.Context, cfg config.InboundConfig) Check {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return Check{Name: "inbound", Pass: true, Message: "disabled (inbound.redis_addr unset)"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()

	if err := client.Ping(checkCtx).Err(); err != nil {
		return Check{Name: "inbound", Pass: false, Message: fmt.Sprintf("redis %s: %v", cfg.RedisAddr, err)}
	}
	return Check{Name: "inbound", Pass: true, Message: fmt.Sprintf("redis %s stream %s", cfg.RedisAddr, cfg.Stream)}
}
