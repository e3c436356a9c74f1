// Package sms delivers alert text messages through an HTTP SMS gateway.
package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultRetryCount = 2
	messagesPath      = "/messages"

	// idempotencyHeader carries one key per message, repeated on retries.
	idempotencyHeader = "Idempotency-Key"
)

// ErrGatewayUnavailable reports that no SMS gateway is configured.
var ErrGatewayUnavailable = errors.New("sms gateway unavailable")

// Config controls the gateway client.
type Config struct {
	GatewayURL string
	Token      string
	Sender     string
	Timeout    time.Duration
	RetryCount int
}

type messageRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Gateway implements alert.SMSSender.
type Gateway struct {
	http   *resty.Client
	sender string
	logger *slog.Logger
}

// NewGateway builds a client for cfg. An empty GatewayURL yields a gateway
// whose sends all fail with ErrGatewayUnavailable.
func NewGateway(cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	g := &Gateway{sender: strings.TrimSpace(cfg.Sender), logger: logger}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.GatewayURL), "/")
	if baseURL == "" {
		return g
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.RetryCount
	if retries < 0 {
		retries = defaultRetryCount
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(retryable)
	if token := strings.TrimSpace(cfg.Token); token != "" {
		client.SetAuthToken(token)
	}
	g.http = client
	return g
}

// retryable allows a retry only when the gateway cannot have accepted the
// message: it refused with 429, or the connection was never made. A 5xx or a
// timeout after the request went out may already have texted the contact.
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return connectFailed(err)
	}
	return resp != nil && resp.StatusCode() == http.StatusTooManyRequests
}

func connectFailed(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// Configured reports whether a gateway URL was provided.
func (g *Gateway) Configured() bool {
	return g.http != nil
}

// SendText posts one message for to. Any 2xx response is success.
func (g *Gateway) SendText(ctx context.Context, to string, body string) error {
	if g.http == nil {
		return ErrGatewayUnavailable
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("sms recipient is empty")
	}

	var failure errorResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetHeader(idempotencyHeader, uuid.NewString()).
		SetBody(messageRequest{To: to, From: g.sender, Body: body}).
		SetError(&failure).
		Post(messagesPath)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	if !resp.IsSuccess() {
		detail := strings.TrimSpace(failure.Error)
		if detail == "" {
			detail = strings.TrimSpace(resp.String())
		}
		return fmt.Errorf("send sms: gateway returned %d: %s", resp.StatusCode(), detail)
	}

	g.logger.Debug("sms accepted", "status_code", resp.StatusCode())
	return nil
}
