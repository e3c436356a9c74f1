package config

import (
	"time"

	"github.com/rbright/pulselink/internal/alert"
)

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	seed := alert.DefaultSettings()

	return Config{
		Recognizer: RecognizerConfig{
			GRPC:          "127.0.0.1:50051",
			HealthService: "pulselink.asr.v1.Recognizer",
			LanguageCode:  "en-US",
			DialTimeout:   3 * time.Second,
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Listen: ListenConfig{
			RestartDelay: 750 * time.Millisecond,
		},
		Dispatch: DispatchConfig{
			LocationTimeout: 5 * time.Second,
			SMSTimeout:      10 * time.Second,
			SMSConcurrency:  4,
		},
		Settings: SettingsConfig{
			PrimaryPhrase:    seed.PrimaryPhrase,
			SecondaryPhrase:  seed.SecondaryPhrase,
			IncludeLocation:  seed.IncludeLocation,
			ListeningEnabled: seed.ListeningEnabled,
		},
		SMS: SMSConfig{
			Timeout:    10 * time.Second,
			RetryCount: 2,
		},
		Location: LocationConfig{
			Topic:    "owntracks/+/+",
			ClientID: "pulselink",
			MaxAge:   30 * time.Minute,
		},
		Inbound: InboundConfig{
			Stream:   "pulselink:inbound",
			Group:    "pulselink",
			Consumer: "pulselink-daemon",
		},
		Notify: NotifyConfig{
			Backend:     "desktop",
			AppName:     "pulselink",
			SoundEnable: true,
			Player:      mustPlayerCommand("pw-play --media-role Alarm {file}"),
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

// SeedSettings converts the settings section into the store's seed snapshot.
func (c Config) SeedSettings() alert.Settings {
	seed := alert.DefaultSettings()
	seed.PrimaryPhrase = c.Settings.PrimaryPhrase
	seed.SecondaryPhrase = c.Settings.SecondaryPhrase
	seed.IncludeLocation = c.Settings.IncludeLocation
	seed.ListeningEnabled = c.Settings.ListeningEnabled
	return seed
}
