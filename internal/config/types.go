// Package config resolves, parses, validates, and defaults pulselink configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by pulselink.
type Config struct {
	Recognizer RecognizerConfig
	Audio      AudioConfig
	Listen     ListenConfig
	Dispatch   DispatchConfig
	Store      StoreConfig
	Settings   SettingsConfig
	SMS        SMSConfig
	Location   LocationConfig
	Inbound    InboundConfig
	Notify     NotifyConfig
	Observe    ObserveConfig
	Log        LogConfig
}

// RecognizerConfig locates the speech recognition backend.
type RecognizerConfig struct {
	GRPC          string
	HealthService string
	LanguageCode  string
	DialTimeout   time.Duration
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// ListenConfig controls the listening supervisor.
type ListenConfig struct {
	RestartDelay time.Duration
	// SessionTimeout bounds one recognition session; zero disables the bound.
	SessionTimeout time.Duration
}

// DispatchConfig bounds the best-effort stages of a dispatch.
type DispatchConfig struct {
	LocationTimeout time.Duration
	SMSTimeout      time.Duration
	SMSConcurrency  int
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string
}

// SettingsConfig seeds settings keys never written to the store.
type SettingsConfig struct {
	PrimaryPhrase    string
	SecondaryPhrase  string
	IncludeLocation  bool
	ListeningEnabled bool
}

// SMSConfig points at the HTTP SMS gateway. An empty GatewayURL disables SMS.
type SMSConfig struct {
	GatewayURL string
	Token      string
	Sender     string
	Timeout    time.Duration
	RetryCount int
}

// LocationConfig points at the MQTT broker publishing OwnTracks fixes.
type LocationConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	MaxAge   time.Duration
}

// InboundConfig points at the Redis stream carrying inbound messages.
type InboundConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Stream        string
	Group         string
	Consumer      string
}

// NotifyConfig controls local notifications and alert sounds.
type NotifyConfig struct {
	Backend     string
	AppName     string
	SoundDir    string
	SoundEnable bool
	Player      CommandConfig
}

// ObserveConfig enables the metrics and health HTTP server.
type ObserveConfig struct {
	ListenAddr string
}

// LogConfig controls the JSONL log sink.
type LogConfig struct {
	Level      string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message. Key names the dotted
// config key it concerns; Line is set when that key appears in the file.
type Warning struct {
	Key     string
	Line    int
	Message string
}
