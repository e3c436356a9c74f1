package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Recognizer.GRPC) == "" {
		return nil, fmt.Errorf("recognizer.grpc must not be empty")
	}
	if strings.TrimSpace(cfg.Recognizer.LanguageCode) == "" {
		return nil, fmt.Errorf("recognizer.language_code must not be empty")
	}
	if cfg.Recognizer.DialTimeout <= 0 {
		return nil, fmt.Errorf("recognizer.dial_timeout_ms must be > 0")
	}
	if cfg.Listen.RestartDelay < 0 {
		return nil, fmt.Errorf("listen.restart_delay_ms must be >= 0")
	}
	if cfg.Listen.SessionTimeout < 0 {
		return nil, fmt.Errorf("listen.session_timeout_ms must be >= 0")
	}
	if cfg.Dispatch.LocationTimeout <= 0 {
		return nil, fmt.Errorf("dispatch.location_timeout_ms must be > 0")
	}
	if cfg.Dispatch.SMSTimeout <= 0 {
		return nil, fmt.Errorf("dispatch.sms_timeout_ms must be > 0")
	}
	if cfg.Dispatch.SMSConcurrency <= 0 {
		return nil, fmt.Errorf("dispatch.sms_concurrency must be > 0")
	}
	if cfg.SMS.RetryCount < 0 {
		return nil, fmt.Errorf("sms.retry_count must be >= 0")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Notify.Backend))
	if backend != "desktop" && backend != "log" {
		return nil, fmt.Errorf("notify.backend must be one of: desktop, log")
	}
	if backend == "desktop" && strings.TrimSpace(cfg.Notify.AppName) == "" {
		return nil, fmt.Errorf("notify.app_name must not be empty when notify.backend=desktop")
	}
	if cfg.Notify.Player.Raw != "" && len(cfg.Notify.Player.Argv) == 0 {
		return nil, fmt.Errorf("notify.player_cmd is configured but empty")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Log.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	if cfg.Log.MaxSizeMB <= 0 {
		return nil, fmt.Errorf("log.max_size_mb must be > 0")
	}

	if cfg.SMS.GatewayURL == "" {
		warnings = append(warnings, Warning{Key: "sms.gateway_url", Message: "sms.gateway_url is unset; emergency contacts will not be texted"})
	} else if u, err := url.Parse(cfg.SMS.GatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("sms.gateway_url %q must be an absolute URL", cfg.SMS.GatewayURL)
	}
	if cfg.Location.Broker == "" {
		warnings = append(warnings, Warning{Key: "location.broker", Message: "location.broker is unset; alerts will be sent without location"})
	}
	if cfg.Inbound.RedisAddr == "" {
		warnings = append(warnings, Warning{Key: "inbound.redis_addr", Message: "inbound.redis_addr is unset; inbound messages are only accepted over the local socket"})
	}

	phrases := cfg.SeedSettings().TriggerPhrases()
	switch {
	case len(phrases) == 0:
		warnings = append(warnings, Warning{Key: "settings", Message: "both trigger phrases are blank; speech will never raise an alert"})
	case len(phrases) == 1 && strings.TrimSpace(cfg.Settings.PrimaryPhrase) == "":
		warnings = append(warnings, Warning{Key: "settings.primary_phrase", Message: "settings.primary_phrase is blank; the secondary phrase will raise EMERGENCY alerts"})
	case len(phrases) == 2 && phrases[0].Phrase == phrases[1].Phrase:
		warnings = append(warnings, Warning{Key: "settings.secondary_phrase", Message: "settings.primary_phrase equals settings.secondary_phrase; check-ins will never trigger"})
	}

	return warnings, nil
}
