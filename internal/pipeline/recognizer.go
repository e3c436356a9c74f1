// Package pipeline glues microphone capture to a streaming recognizer and
// exposes the pair as a listen.Recognizer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rbright/pulselink/internal/asr"
	"github.com/rbright/pulselink/internal/audio"
	"github.com/rbright/pulselink/internal/listen"
)

// Capture is the subset of audio.Capture a session consumes.
type Capture interface {
	Device() audio.Device
	Chunks() <-chan []byte
	DroppedChunks() int64
	Stop() error
}

// AudioSource starts one capture per recognition session.
type AudioSource interface {
	Start(context.Context) (Capture, error)
}

// Stream is the subset of asr.Stream a session consumes.
type Stream interface {
	Results() <-chan asr.Result
	Err() error
	SendAudio([]byte) error
	CloseSend() error
	Cancel()
}

// Backend checks and opens recognizer streams.
type Backend interface {
	Check(context.Context) error
	Listen(context.Context) (Stream, error)
}

// PulseSource captures from the Pulse source matching input, else fallback.
type PulseSource struct {
	Input    string
	Fallback string
	Logger   *slog.Logger
}

func (p PulseSource) Start(ctx context.Context) (Capture, error) {
	selection, err := audio.SelectDevice(ctx, p.Input, p.Fallback)
	if err != nil {
		return nil, err
	}
	if selection.Warning != "" && p.Logger != nil {
		p.Logger.Warn(selection.Warning)
	}
	capture, err := audio.StartCapture(ctx, selection.Device)
	if err != nil {
		return nil, err
	}
	return capture, nil
}

// ASRBackend adapts *asr.Client to Backend.
type ASRBackend struct {
	Client *asr.Client
}

func (b ASRBackend) Check(ctx context.Context) error {
	return b.Client.Check(ctx)
}

func (b ASRBackend) Listen(ctx context.Context) (Stream, error) {
	stream, err := b.Client.Listen(ctx)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Recognizer implements listen.Recognizer over an AudioSource and a Backend.
type Recognizer struct {
	logger  *slog.Logger
	backend Backend
	source  AudioSource
}

// NewRecognizer constructs a recognizer. Backend and source are required.
func NewRecognizer(logger *slog.Logger, backend Backend, source AudioSource) *Recognizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recognizer{logger: logger, backend: backend, source: source}
}

// Available maps an unsupported backend to listen.ErrRecognizerUnavailable.
func (r *Recognizer) Available(ctx context.Context) error {
	if r.backend == nil || r.source == nil {
		return fmt.Errorf("%w: pipeline is not configured", listen.ErrRecognizerUnavailable)
	}
	if err := r.backend.Check(ctx); err != nil {
		if errors.Is(err, asr.ErrUnsupported) {
			return fmt.Errorf("%w: %w", listen.ErrRecognizerUnavailable, err)
		}
		return err
	}
	return nil
}

// Open opens the recognizer stream first, then starts capture.
func (r *Recognizer) Open(ctx context.Context) (listen.Session, error) {
	if r.backend == nil || r.source == nil {
		return nil, fmt.Errorf("%w: pipeline is not configured", listen.ErrRecognizerUnavailable)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	stream, err := r.backend.Listen(sessionCtx)
	if err != nil {
		cancel()
		if errors.Is(err, asr.ErrUnsupported) {
			return nil, fmt.Errorf("%w: %w", listen.ErrRecognizerUnavailable, err)
		}
		return nil, fmt.Errorf("open recognizer stream: %w", err)
	}

	capture, err := r.source.Start(sessionCtx)
	if err != nil {
		stream.Cancel()
		cancel()
		return nil, fmt.Errorf("start audio capture: %w", err)
	}

	s := &session{
		logger:  r.logger.With("audio_device", describeDevice(capture.Device())),
		capture: capture,
		stream:  stream,
		cancel:  cancel,
		events:  make(chan listen.Event, 16),
		closing: make(chan struct{}),
	}
	s.wg.Add(2)
	go s.sendLoop()
	go s.recvLoop()
	return s, nil
}

type session struct {
	logger  *slog.Logger
	capture Capture
	stream  Stream
	cancel  context.CancelFunc

	events  chan listen.Event
	closing chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (s *session) Events() <-chan listen.Event {
	return s.events
}

// Close stops capture, cancels the stream and waits for both loops.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.capture.Stop()
		s.stream.Cancel()
		s.cancel()
		s.wg.Wait()
		if dropped := s.capture.DroppedChunks(); dropped > 0 {
			s.logger.Warn("audio chunks dropped during session", "dropped_chunks", dropped)
		}
	})
	return nil
}

// sendLoop forwards capture chunks to the recognizer and half-closes on capture end.
func (s *session) sendLoop() {
	defer s.wg.Done()

	for chunk := range s.capture.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		if err := s.stream.SendAudio(chunk); err != nil {
			// The receive side reports the stream failure.
			s.logger.Debug("audio send failed", "error", err.Error())
			_ = s.capture.Stop()
			break
		}
	}
	_ = s.stream.CloseSend()
}

// recvLoop translates recognizer results into supervisor events. It is the
// only writer of s.events and closes it on exit.
func (s *session) recvLoop() {
	defer s.wg.Done()
	defer close(s.events)

	for result := range s.stream.Results() {
		switch {
		case result.EndOfSpeech:
			s.emit(listen.Event{Kind: listen.EventEndOfSpeech})
		case result.Transcript == "":
			continue
		case result.IsFinal:
			s.emit(listen.Event{Kind: listen.EventFinal, Text: result.Transcript})
		default:
			s.emit(listen.Event{Kind: listen.EventPartial, Text: result.Transcript})
		}
	}

	if err := s.stream.Err(); err != nil {
		s.emit(listen.Event{Kind: listen.EventError, Err: err})
		return
	}
	s.emit(listen.Event{Kind: listen.EventEndOfSpeech})
}

func (s *session) emit(event listen.Event) {
	select {
	case s.events <- event:
	case <-s.closing:
	}
}

// describeDevice formats device metadata for logs.
func describeDevice(device audio.Device) string {
	description := strings.TrimSpace(device.Description)
	id := strings.TrimSpace(device.ID)
	if description == "" {
		return id
	}
	if id == "" {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, id)
}
