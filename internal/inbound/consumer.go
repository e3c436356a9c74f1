// Package inbound feeds inbound text messages from a Redis stream to the alert router.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rbright/pulselink/internal/alert"
)

const (
	DefaultStream   = "pulselink:inbound"
	DefaultGroup    = "pulselink"
	DefaultConsumer = "pulselink-daemon"

	// BodyField carries the raw message text in each stream entry.
	BodyField = "body"

	defaultBlock     = time.Second
	defaultBatchSize = 16
	retryBackoff     = time.Second
)

// Handler receives raw inbound message bodies.
type Handler interface {
	OnInboundMessage(ctx context.Context, body string) (*alert.Event, error)
}

// Config selects the stream and consumer identity.
type Config struct {
	Stream    string
	Group     string
	Consumer  string
	Block     time.Duration
	BatchSize int64
}

// Consumer reads the stream through a consumer group and acknowledges
// entries once the handler accepts them.
type Consumer struct {
	client  *redis.Client
	cfg     Config
	handler Handler
	logger  *slog.Logger
}

// NewConsumer validates collaborators and fills config defaults.
func NewConsumer(client *redis.Client, cfg Config, handler Handler, logger *slog.Logger) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("inbound consumer requires a redis client")
	}
	if handler == nil {
		return nil, errors.New("inbound consumer requires a handler")
	}
	if strings.TrimSpace(cfg.Stream) == "" {
		cfg.Stream = DefaultStream
	}
	if strings.TrimSpace(cfg.Group) == "" {
		cfg.Group = DefaultGroup
	}
	if strings.TrimSpace(cfg.Consumer) == "" {
		cfg.Consumer = DefaultConsumer
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Consumer{client: client, cfg: cfg, handler: handler, logger: logger}, nil
}

// EnsureGroup creates the stream and consumer group when missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", c.cfg.Group, c.cfg.Stream, err)
	}
	return nil
}

// Run redelivers this consumer's pending entries, then consumes new entries
// until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	c.logger.Info("inbound consumer started", "stream", c.cfg.Stream, "group", c.cfg.Group, "consumer", c.cfg.Consumer)

	if _, err := c.Poll(ctx, "0"); err != nil && ctx.Err() == nil {
		c.logger.Warn("inbound pending replay failed", "error", err.Error())
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := c.Poll(ctx, ">"); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("inbound read failed", "error", err.Error())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryBackoff):
			}
		}
	}
}

// Poll reads one batch starting after id (">" for new entries, "0" for
// pending ones) and returns how many entries were acknowledged.
func (c *Consumer) Poll(ctx context.Context, id string) (int, error) {
	block := c.cfg.Block
	if id != ">" {
		block = -1
	}
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, id},
		Count:    c.cfg.BatchSize,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("read inbound stream: %w", err)
	}

	acked := 0
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if c.handle(ctx, msg) {
				acked++
			}
		}
	}
	return acked, nil
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) bool {
	body, _ := msg.Values[BodyField].(string)

	event, err := c.handler.OnInboundMessage(ctx, body)
	if err != nil {
		c.logger.Warn("inbound message handling failed; leaving pending",
			"message_id", msg.ID,
			"error", err.Error(),
		)
		return false
	}
	if event != nil {
		c.logger.Info("inbound message acknowledged check-in", "message_id", msg.ID, "event_id", event.ID)
	}

	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		c.logger.Warn("inbound ack failed", "message_id", msg.ID, "error", err.Error())
		return false
	}
	return true
}
