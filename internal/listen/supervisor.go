package listen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/pulselink/internal/fsm"
)

// DefaultRestartDelay is the pause between a terminal session outcome and the next start.
const DefaultRestartDelay = 750 * time.Millisecond

// Restart reasons reported to Metrics and logs.
const (
	ReasonEndOfSpeech = "end_of_speech"
	ReasonError       = "error"
	ReasonTimeout     = "timeout"
	ReasonClosed      = "closed"
	ReasonOpenFailed  = "open_failed"
)

// Options configures a Supervisor.
type Options struct {
	Logger     *slog.Logger
	Recognizer Recognizer
	Handler    PhraseHandler
	// Gate is consulted before every session; nil means always enabled.
	Gate    GateFunc
	Metrics Metrics

	RestartDelay time.Duration
	// SessionTimeout bounds one session; zero leaves sessions unbounded.
	SessionTimeout time.Duration
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State     fsm.State
	Sessions  int64
	Restarts  int64
	LastError string
}

// Supervisor owns the lifecycle of a single recognition session and restarts it
// after every terminal outcome.
type Supervisor struct {
	logger         *slog.Logger
	recognizer     Recognizer
	handler        PhraseHandler
	gate           GateFunc
	metrics        Metrics
	restartDelay   time.Duration
	sessionTimeout time.Duration

	mu        sync.RWMutex
	state     fsm.State
	lastError string

	sessions atomic.Int64
	restarts atomic.Int64

	startOnce sync.Once
	cancel    context.CancelFunc
	// hostCtx scopes phrase handlers; Stop does not cancel it.
	hostCtx context.Context
	done      chan struct{}
	runErr    error

	wake chan struct{}
}

// New constructs a supervisor. Recognizer and Handler are required.
func New(opts Options) (*Supervisor, error) {
	if opts.Recognizer == nil {
		return nil, fmt.Errorf("new supervisor: recognizer is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("new supervisor: phrase handler is required")
	}

	s := &Supervisor{
		logger:         opts.Logger,
		recognizer:     opts.Recognizer,
		handler:        opts.Handler,
		gate:           opts.Gate,
		metrics:        opts.Metrics,
		restartDelay:   opts.RestartDelay,
		sessionTimeout: opts.SessionTimeout,
		state:          fsm.StateIdle,
		done:           make(chan struct{}),
		wake:           make(chan struct{}, 1),
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.gate == nil {
		s.gate = func(context.Context) (bool, error) { return true, nil }
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.restartDelay <= 0 {
		s.restartDelay = DefaultRestartDelay
	}
	return s, nil
}

// State returns the current FSM state snapshot.
func (s *Supervisor) State() fsm.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns state and counters.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		State:     s.state,
		Sessions:  s.sessions.Load(),
		Restarts:  s.restarts.Load(),
		LastError: s.lastError,
	}
}

// Start launches the supervisor loop. Calls after the first are no-ops.
func (s *Supervisor) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.cancel = cancel
		s.hostCtx = ctx
		s.mu.Unlock()

		go func() {
			defer close(s.done)
			defer cancel()
			s.runErr = s.loop(runCtx)
		}()
	})
}

// Wait blocks until the loop exits. It returns an error wrapping
// ErrRecognizerUnavailable on the fatal path and nil on shutdown.
func (s *Supervisor) Wait() error {
	<-s.done
	return s.runErr
}

// Run starts the supervisor and waits for it to exit.
func (s *Supervisor) Run(ctx context.Context) error {
	s.Start(ctx)
	return s.Wait()
}

// Stop cancels any pending restart and releases the active session.
// In-flight phrase handlers are not joined.
func (s *Supervisor) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Wake ends a wait on the disabled listening gate so the gate is re-checked now.
func (s *Supervisor) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Supervisor) loop(ctx context.Context) error {
	if err := s.recognizer.Available(ctx); err != nil {
		if errors.Is(err, ErrRecognizerUnavailable) {
			return s.fatal(err)
		}
		s.logger.Warn("recognizer availability check failed; continuing", "error", err.Error())
	}

	for {
		if ctx.Err() != nil {
			s.shutdown()
			return nil
		}

		enabled, err := s.gate(ctx)
		if err != nil {
			s.logger.Warn("listening gate check failed; assuming enabled", "error", err.Error())
			enabled = true
		}
		if !enabled {
			s.transition(fsm.EventDefer)
			if !s.awaitGate(ctx) {
				s.shutdown()
				return nil
			}
			continue
		}

		session, err := s.recognizer.Open(ctx)
		if err != nil {
			if errors.Is(err, ErrRecognizerUnavailable) {
				return s.fatal(err)
			}
			if ctx.Err() != nil {
				s.shutdown()
				return nil
			}
			s.recordError(err)
			s.logger.Warn("recognition session failed to open", "error", err.Error())
			s.transition(fsm.EventDefer)
			if !s.scheduleRestart(ctx, ReasonOpenFailed) {
				s.shutdown()
				return nil
			}
			continue
		}

		s.transition(fsm.EventStart)
		s.sessions.Add(1)
		s.metrics.SessionOpened(ctx)
		s.logger.Debug("recognition session opened", "session", s.sessions.Load())

		reason := s.consume(ctx, session)
		if err := session.Close(); err != nil {
			s.logger.Debug("recognition session close failed", "error", err.Error())
		}

		if ctx.Err() != nil {
			s.shutdown()
			return nil
		}

		s.transition(fsm.EventSessionEnd)
		if !s.scheduleRestart(ctx, reason) {
			s.shutdown()
			return nil
		}
	}
}

// consume drains one session until a terminal outcome and returns its reason.
func (s *Supervisor) consume(ctx context.Context, session Session) string {
	var timeout <-chan time.Time
	if s.sessionTimeout > 0 {
		timer := time.NewTimer(s.sessionTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	events := session.Events()
	for {
		select {
		case <-ctx.Done():
			return ReasonClosed
		case <-timeout:
			return ReasonTimeout
		case event, ok := <-events:
			if !ok {
				return ReasonClosed
			}
			switch event.Kind {
			case EventPartial, EventFinal:
				s.forward(event)
			case EventEndOfSpeech:
				return ReasonEndOfSpeech
			case EventError:
				if event.Err != nil {
					s.recordError(event.Err)
					s.logger.Warn("recognition session error", "error", event.Err.Error())
				}
				return ReasonError
			}
		}
	}
}

// forward hands text to the router without waiting for the dispatch.
func (s *Supervisor) forward(event Event) {
	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}
	s.transition(fsm.EventResult)

	s.mu.RLock()
	ctx := s.hostCtx
	s.mu.RUnlock()

	go func() {
		if _, err := s.handler.OnPhraseDetected(ctx, text); err != nil {
			s.logger.Error("phrase handling failed",
				"result", event.Kind.String(),
				"error", err.Error(),
			)
		}
	}()
}

// scheduleRestart waits the restart delay; false means the supervisor is shutting down.
func (s *Supervisor) scheduleRestart(ctx context.Context, reason string) bool {
	s.restarts.Add(1)
	s.metrics.SessionRestarted(ctx, reason)
	s.logger.Debug("recognition restart scheduled", "reason", reason, "delay_ms", s.restartDelay.Milliseconds())
	timer := time.NewTimer(s.restartDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// awaitGate waits for the gate re-check while listening is disabled. Wake cuts
// it short; the restart delay after a session never is.
func (s *Supervisor) awaitGate(ctx context.Context) bool {
	timer := time.NewTimer(s.restartDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-s.wake:
		return true
	}
}

func (s *Supervisor) fatal(err error) error {
	s.recordError(err)
	s.shutdown()
	s.logger.Error("speech recognition unavailable; supervisor stopping", "error", err.Error())
	return fmt.Errorf("listening supervisor: %w", err)
}

func (s *Supervisor) shutdown() {
	s.transition(fsm.EventShutdown)
}

func (s *Supervisor) transition(event fsm.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fsm.Transition(s.state, event)
	if err != nil {
		s.logger.Debug("ignored supervisor transition", "error", err.Error())
		return
	}
	s.state = next
}

func (s *Supervisor) recordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err.Error()
}
