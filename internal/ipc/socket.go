package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ErrAlreadyRunning reports a responsive daemon already owning the socket.
var ErrAlreadyRunning = errors.New("pulselink daemon already running")

// RuntimeSocketPath returns $XDG_RUNTIME_DIR/pulselink.sock.
func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, "pulselink.sock"), nil
}

// Acquire binds path for a new daemon. A socket nobody answers on is treated
// as left behind by a crashed daemon, removed and retried; a live owner yields
// ErrAlreadyRunning. An inconclusive ping leaves the socket in place.
func Acquire(ctx context.Context, path string, pingTimeout time.Duration, retries int) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; attempt <= retries; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			return listener, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}
		alive, err := Ping(ctx, path, pingTimeout)
		if err != nil {
			return nil, fmt.Errorf("ping existing socket %s: %w", path, err)
		}
		if alive {
			return nil, ErrAlreadyRunning
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
		}

		if attempt < retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * 25 * time.Millisecond):
			}
		}
	}
	return nil, fmt.Errorf("acquire socket %s: still in use after %d retries", path, retries)
}
