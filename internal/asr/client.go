// Package asr streams PCM audio to a gRPC speech recognition backend and
// surfaces partial, final and end-of-speech results.
package asr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the recognizer's gRPC service and default health service name.
	ServiceName = "pulselink.asr.v1.Recognizer"
	// ListenMethod is the full bidi streaming method path.
	ListenMethod = "/" + ServiceName + "/Listen"

	defaultDialTimeout = 3 * time.Second
	defaultLanguage    = "en-US"
	sampleRateHz       = 16000
)

// ErrUnsupported reports that the backend does not offer speech recognition.
var ErrUnsupported = errors.New("recognizer service not serving")

var listenStreamDesc = &grpc.StreamDesc{
	StreamName:    "Listen",
	ServerStreams: true,
	ClientStreams: true,
}

// Config controls backend connection and stream initialization.
type Config struct {
	Endpoint      string
	HealthService string
	LanguageCode  string
	DialTimeout   time.Duration
}

// Client holds one lazily connected gRPC channel to the recognizer backend.
type Client struct {
	cfg  Config
	conn *grpc.ClientConn
}

// NewClient validates cfg and prepares the channel without dialing.
func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("recognizer endpoint is empty")
	}
	cfg.Endpoint = endpoint
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if strings.TrimSpace(cfg.LanguageCode) == "" {
		cfg.LanguageCode = defaultLanguage
	}
	if strings.TrimSpace(cfg.HealthService) == "" {
		cfg.HealthService = ServiceName
	}

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial recognizer grpc %q: %w", endpoint, err)
	}
	return &Client{cfg: cfg, conn: conn}, nil
}

// Close releases the gRPC channel.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Check queries the standard health service. A backend that answers but does
// not serve recognition yields an error wrapping ErrUnsupported; transport
// failures are returned as-is.
func (c *Client) Check(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(c.conn).Check(checkCtx, &healthpb.HealthCheckRequest{
		Service: c.cfg.HealthService,
	})
	if err != nil {
		switch status.Code(err) {
		case codes.Unimplemented, codes.NotFound:
			return fmt.Errorf("%w: health %s: %s", ErrUnsupported, c.cfg.HealthService, status.Code(err))
		default:
			return fmt.Errorf("recognizer health check: %w", err)
		}
	}

	switch resp.GetStatus() {
	case healthpb.HealthCheckResponse_SERVING:
		return nil
	default:
		return fmt.Errorf("%w: health %s: %s", ErrUnsupported, c.cfg.HealthService, resp.GetStatus())
	}
}

// Result is one recognizer response.
type Result struct {
	Transcript  string
	IsFinal     bool
	EndOfSpeech bool
}

// Stream wraps one active Listen RPC.
type Stream struct {
	stream grpc.ClientStream
	ctx    context.Context
	cancel context.CancelFunc

	results  chan Result
	recvDone chan struct{}

	mu         sync.Mutex
	recvErr    error
	closedSend bool
}

// Listen waits for the channel to become ready, opens the bidi stream and
// sends the stream configuration.
func (c *Client) Listen(ctx context.Context) (*Stream, error) {
	readyCtx, cancelReady := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancelReady()
	c.conn.Connect()
	if err := waitForReady(readyCtx, c.conn); err != nil {
		return nil, fmt.Errorf("wait for recognizer grpc readiness: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := openWithTimeout(streamCtx, c.cfg.DialTimeout, func() (grpc.ClientStream, error) {
		return c.conn.NewStream(streamCtx, listenStreamDesc, ListenMethod)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open recognizer stream: %w", err)
	}

	config, err := streamConfig(c.cfg.LanguageCode)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := runWithTimeout(streamCtx, c.cfg.DialTimeout, func() error { return stream.SendMsg(config) }); err != nil {
		cancel()
		return nil, fmt.Errorf("send stream config: %w", err)
	}

	s := &Stream{
		stream:   stream,
		ctx:      streamCtx,
		cancel:   cancel,
		results:  make(chan Result, 32),
		recvDone: make(chan struct{}),
	}
	go s.recvLoop()
	return s, nil
}

func streamConfig(languageCode string) (*structpb.Struct, error) {
	config, err := structpb.NewStruct(map[string]any{
		"language_code":   languageCode,
		"sample_rate_hz":  sampleRateHz,
		"interim_results": true,
	})
	if err != nil {
		return nil, fmt.Errorf("build stream config: %w", err)
	}
	return config, nil
}

// Results delivers responses in order and is closed when the server ends the stream.
func (s *Stream) Results() <-chan Result {
	return s.results
}

// Err returns the receive error after Results is closed; nil means a clean server EOF.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvErr
}

// SendAudio sends one chunk of PCM audio over the active stream.
func (s *Stream) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.mu.Lock()
	closed := s.closedSend
	recvErr := s.recvErr
	s.mu.Unlock()

	if closed {
		return errors.New("stream already closed for sending")
	}
	if recvErr != nil {
		return fmt.Errorf("stream receive loop failed: %w", recvErr)
	}
	return s.stream.SendMsg(wrapperspb.Bytes(chunk))
}

// CloseSend half-closes the stream so the server can flush remaining results.
func (s *Stream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedSend {
		return nil
	}
	s.closedSend = true
	return s.stream.CloseSend()
}

// Cancel aborts the RPC and waits for the receive loop to exit.
func (s *Stream) Cancel() {
	_ = s.CloseSend()
	s.cancel()
	<-s.recvDone
}

func (s *Stream) recvLoop() {
	defer close(s.recvDone)
	defer close(s.results)

	for {
		msg := &structpb.Struct{}
		err := s.stream.RecvMsg(msg)
		if err == nil {
			select {
			case s.results <- decodeResult(msg):
			case <-s.ctx.Done():
				return
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return
		}

		s.mu.Lock()
		s.recvErr = err
		s.mu.Unlock()
		return
	}
}

func decodeResult(msg *structpb.Struct) Result {
	fields := msg.GetFields()
	return Result{
		Transcript:  cleanTranscript(fields["transcript"].GetStringValue()),
		IsFinal:     fields["is_final"].GetBoolValue(),
		EndOfSpeech: fields["end_of_speech"].GetBoolValue(),
	}
}

// cleanTranscript normalizes transcript whitespace.
func cleanTranscript(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
