package config

import (
	"fmt"
	"strings"
	"time"
)

type jsoncConfig struct {
	Recognizer *jsoncRecognizer `json:"recognizer"`
	Audio      *jsoncAudio      `json:"audio"`
	Listen     *jsoncListen     `json:"listen"`
	Dispatch   *jsoncDispatch   `json:"dispatch"`
	Store      *jsoncStore      `json:"store"`
	Settings   *jsoncSettings   `json:"settings"`
	SMS        *jsoncSMS        `json:"sms"`
	Location   *jsoncLocation   `json:"location"`
	Inbound    *jsoncInbound    `json:"inbound"`
	Notify     *jsoncNotify     `json:"notify"`
	Observe    *jsoncObserve    `json:"observe"`
	Log        *jsoncLog        `json:"log"`
}

type jsoncRecognizer struct {
	GRPC          *string `json:"grpc"`
	HealthService *string `json:"health_service"`
	LanguageCode  *string `json:"language_code"`
	DialTimeoutMS *int    `json:"dial_timeout_ms"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type jsoncListen struct {
	RestartDelayMS   *int `json:"restart_delay_ms"`
	SessionTimeoutMS *int `json:"session_timeout_ms"`
}

type jsoncDispatch struct {
	LocationTimeoutMS *int `json:"location_timeout_ms"`
	SMSTimeoutMS      *int `json:"sms_timeout_ms"`
	SMSConcurrency    *int `json:"sms_concurrency"`
}

type jsoncStore struct {
	Path *string `json:"path"`
}

type jsoncSettings struct {
	PrimaryPhrase    *string `json:"primary_phrase"`
	SecondaryPhrase  *string `json:"secondary_phrase"`
	IncludeLocation  *bool   `json:"include_location"`
	ListeningEnabled *bool   `json:"listening_enabled"`
}

type jsoncSMS struct {
	GatewayURL *string `json:"gateway_url"`
	Token      *string `json:"token"`
	Sender     *string `json:"sender"`
	TimeoutMS  *int    `json:"timeout_ms"`
	RetryCount *int    `json:"retry_count"`
}

type jsoncLocation struct {
	Broker   *string `json:"broker"`
	Topic    *string `json:"topic"`
	ClientID *string `json:"client_id"`
	Username *string `json:"username"`
	Password *string `json:"password"`
	MaxAgeS  *int    `json:"max_age_s"`
}

type jsoncInbound struct {
	RedisAddr     *string `json:"redis_addr"`
	RedisPassword *string `json:"redis_password"`
	RedisDB       *int    `json:"redis_db"`
	Stream        *string `json:"stream"`
	Group         *string `json:"group"`
	Consumer      *string `json:"consumer"`
}

type jsoncNotify struct {
	Backend     *string `json:"backend"`
	AppName     *string `json:"app_name"`
	SoundDir    *string `json:"sound_dir"`
	SoundEnable *bool   `json:"sound_enable"`
	PlayerCmd   *string `json:"player_cmd"`
}

type jsoncObserve struct {
	ListenAddr *string `json:"listen_addr"`
}

type jsoncLog struct {
	Level      *string `json:"level"`
	MaxSizeMB  *int    `json:"max_size_mb"`
	MaxBackups *int    `json:"max_backups"`
	Compress   *bool   `json:"compress"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	plain, err := stripJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}
	if strings.TrimSpace(plain) == "" {
		return validated(base, nil)
	}

	keys, err := indexKeys(plain)
	if err != nil {
		return Config{}, nil, err
	}
	payload, err := decodeConfig(plain)
	if err != nil {
		return Config{}, nil, err
	}

	cfg := base
	if err := payload.applyTo(&cfg); err != nil {
		return Config{}, nil, err
	}
	return validated(cfg, keys)
}

// validated runs Validate and pins each warning to the line of the key it
// concerns when that key appears in the file.
func validated(cfg Config, keys map[string]position) (Config, []Warning, error) {
	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	for i, w := range warnings {
		if at, ok := keys[w.Key]; ok {
			warnings[i].Line = at.Line
		}
	}
	return cfg, warnings, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *int, unit time.Duration) {
	if src != nil {
		*dst = time.Duration(*src) * unit
	}
}

func (payload jsoncConfig) applyTo(cfg *Config) error {
	if r := payload.Recognizer; r != nil {
		setString(&cfg.Recognizer.GRPC, r.GRPC)
		setString(&cfg.Recognizer.HealthService, r.HealthService)
		setString(&cfg.Recognizer.LanguageCode, r.LanguageCode)
		setDuration(&cfg.Recognizer.DialTimeout, r.DialTimeoutMS, time.Millisecond)
	}

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
	}

	if l := payload.Listen; l != nil {
		setDuration(&cfg.Listen.RestartDelay, l.RestartDelayMS, time.Millisecond)
		setDuration(&cfg.Listen.SessionTimeout, l.SessionTimeoutMS, time.Millisecond)
	}

	if d := payload.Dispatch; d != nil {
		setDuration(&cfg.Dispatch.LocationTimeout, d.LocationTimeoutMS, time.Millisecond)
		setDuration(&cfg.Dispatch.SMSTimeout, d.SMSTimeoutMS, time.Millisecond)
		setInt(&cfg.Dispatch.SMSConcurrency, d.SMSConcurrency)
	}

	if payload.Store != nil {
		setString(&cfg.Store.Path, payload.Store.Path)
	}

	if s := payload.Settings; s != nil {
		// Phrases keep their spacing; the router normalizes before matching.
		if s.PrimaryPhrase != nil {
			cfg.Settings.PrimaryPhrase = *s.PrimaryPhrase
		}
		if s.SecondaryPhrase != nil {
			cfg.Settings.SecondaryPhrase = *s.SecondaryPhrase
		}
		setBool(&cfg.Settings.IncludeLocation, s.IncludeLocation)
		setBool(&cfg.Settings.ListeningEnabled, s.ListeningEnabled)
	}

	if s := payload.SMS; s != nil {
		setString(&cfg.SMS.GatewayURL, s.GatewayURL)
		setString(&cfg.SMS.Token, s.Token)
		setString(&cfg.SMS.Sender, s.Sender)
		setDuration(&cfg.SMS.Timeout, s.TimeoutMS, time.Millisecond)
		setInt(&cfg.SMS.RetryCount, s.RetryCount)
	}

	if l := payload.Location; l != nil {
		setString(&cfg.Location.Broker, l.Broker)
		setString(&cfg.Location.Topic, l.Topic)
		setString(&cfg.Location.ClientID, l.ClientID)
		setString(&cfg.Location.Username, l.Username)
		if l.Password != nil {
			cfg.Location.Password = *l.Password
		}
		setDuration(&cfg.Location.MaxAge, l.MaxAgeS, time.Second)
	}

	if in := payload.Inbound; in != nil {
		setString(&cfg.Inbound.RedisAddr, in.RedisAddr)
		if in.RedisPassword != nil {
			cfg.Inbound.RedisPassword = *in.RedisPassword
		}
		setInt(&cfg.Inbound.RedisDB, in.RedisDB)
		setString(&cfg.Inbound.Stream, in.Stream)
		setString(&cfg.Inbound.Group, in.Group)
		setString(&cfg.Inbound.Consumer, in.Consumer)
	}

	if n := payload.Notify; n != nil {
		setString(&cfg.Notify.Backend, n.Backend)
		setString(&cfg.Notify.AppName, n.AppName)
		setString(&cfg.Notify.SoundDir, n.SoundDir)
		setBool(&cfg.Notify.SoundEnable, n.SoundEnable)
		if n.PlayerCmd != nil {
			player, err := parsePlayerCommand(*n.PlayerCmd)
			if err != nil {
				return fmt.Errorf("invalid notify.player_cmd: %w", err)
			}
			cfg.Notify.Player = player
		}
	}

	if payload.Observe != nil {
		setString(&cfg.Observe.ListenAddr, payload.Observe.ListenAddr)
	}

	if l := payload.Log; l != nil {
		setString(&cfg.Log.Level, l.Level)
		setInt(&cfg.Log.MaxSizeMB, l.MaxSizeMB)
		setInt(&cfg.Log.MaxBackups, l.MaxBackups)
		setBool(&cfg.Log.Compress, l.Compress)
	}

	return nil
}
