// Package location keeps the last known device position reported over MQTT
// in OwnTracks format.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rbright/pulselink/internal/alert"
)

const (
	DefaultTopic = "owntracks/+/+"

	connectTimeout    = 5 * time.Second
	disconnectQuiesce = 250
)

// ErrNoFix reports that no usable position is cached.
var ErrNoFix = errors.New("no location fix")

// Config controls the broker subscription.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	MaxAge   time.Duration
}

type ownTracksMessage struct {
	Type      string   `json:"_type"`
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lon"`
	Timestamp int64    `json:"tst"`
}

// Tracker caches the newest fix. It implements alert.LocationProvider.
type Tracker struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu  sync.RWMutex
	fix *alert.Position

	client mqtt.Client
}

// NewTracker constructs a tracker; call Connect to start receiving fixes.
func NewTracker(cfg Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = DefaultTopic
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		cfg.ClientID = "pulselink"
	}
	return &Tracker{cfg: cfg, logger: logger, now: time.Now}
}

// Configured reports whether a broker was provided.
func (t *Tracker) Configured() bool {
	return strings.TrimSpace(t.cfg.Broker) != ""
}

// Connect dials the broker and subscribes on every (re)connect.
func (t *Tracker) Connect(ctx context.Context) error {
	if !t.Configured() {
		return errors.New("location broker is empty")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.cfg.Broker)
	opts.SetClientID(t.cfg.ClientID)
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		token := client.Subscribe(t.cfg.Topic, 1, t.onMessage)
		if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
			t.logger.Warn("location subscribe failed", "topic", t.cfg.Topic, "error", tokenError(token))
			return
		}
		t.logger.Info("location subscribed", "topic", t.cfg.Topic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.logger.Warn("location broker connection lost", "error", err.Error())
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return fmt.Errorf("connect location broker: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect location broker %q: %w", t.cfg.Broker, err)
	}

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()
	return nil
}

// Close disconnects from the broker.
func (t *Tracker) Close() {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()
	if client != nil {
		client.Disconnect(disconnectQuiesce)
	}
}

// LastKnown returns the cached fix, or ErrNoFix when none is usable.
func (t *Tracker) LastKnown(ctx context.Context) (alert.Position, error) {
	if err := ctx.Err(); err != nil {
		return alert.Position{}, err
	}

	t.mu.RLock()
	fix := t.fix
	t.mu.RUnlock()

	if fix == nil {
		return alert.Position{}, ErrNoFix
	}
	if t.cfg.MaxAge > 0 && t.now().Sub(fix.FixedAt) > t.cfg.MaxAge {
		return alert.Position{}, fmt.Errorf("%w: last fix at %s is stale", ErrNoFix, fix.FixedAt.Format(time.RFC3339))
	}
	return *fix, nil
}

func (t *Tracker) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := t.Handle(msg.Topic(), msg.Payload()); err != nil {
		t.logger.Debug("location message ignored", "topic", msg.Topic(), "error", err.Error())
	}
}

// Handle applies one OwnTracks payload. Non-location payloads are ignored
// and older fixes never replace newer ones.
func (t *Tracker) Handle(topic string, payload []byte) error {
	var msg ownTracksMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode location payload: %w", err)
	}
	if msg.Type != "location" {
		return nil
	}
	if msg.Latitude == nil || msg.Longitude == nil {
		return errors.New("location payload missing lat/lon")
	}
	if *msg.Latitude < -90 || *msg.Latitude > 90 || *msg.Longitude < -180 || *msg.Longitude > 180 {
		return fmt.Errorf("location payload out of range: %f,%f", *msg.Latitude, *msg.Longitude)
	}

	fixedAt := t.now()
	if msg.Timestamp > 0 {
		fixedAt = time.Unix(msg.Timestamp, 0)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fix != nil && fixedAt.Before(t.fix.FixedAt) {
		return nil
	}
	t.fix = &alert.Position{Latitude: *msg.Latitude, Longitude: *msg.Longitude, FixedAt: fixedAt}
	t.logger.Debug("location fix updated", "topic", topic)
	return nil
}

func tokenError(token mqtt.Token) string {
	if err := token.Error(); err != nil {
		return err.Error()
	}
	return "timed out"
}
