package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/pulselink/internal/alert"
	"github.com/rbright/pulselink/internal/config"
	"github.com/rbright/pulselink/internal/ipc"
	"github.com/rbright/pulselink/internal/store/sqlite"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "pulselink")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestExecuteBrokenConfigFails(t *testing.T) {
	paths := setupRunnerEnv(t)
	require.NoError(t, os.WriteFile(paths.configPath, []byte(`{"bogus": true}`), 0o600))

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}
	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "parse config")
}

func TestRunnerStatusStoppedWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "stopped\n", stdout.String())
	require.NotContains(t, stderr.String(), "error:")
}

func TestRunnerTriggerRequiresDaemon(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "trigger", "emergency"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "pulselink daemon is not running")
}

func TestRunnerTriggerRejectsUnknownTier(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "trigger", "panic"})
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown escalation tier")
}

func TestRunnerForwardsCommandsToDaemon(t *testing.T) {
	paths := setupRunnerEnv(t)
	requests := make(chan ipc.Request, 8)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "pulselink.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		requests <- req
		switch req.Command {
		case "status":
			return ipc.Response{OK: true, State: "listening", Message: "listening_enabled=true sessions=1 restarts=0"}
		case "trigger", "inbound", "listening":
			return ipc.Response{OK: true, Message: req.Command + " handled"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	runner := Runner{}
	invocations := [][]string{
		{"status"},
		{"trigger", "check-in", "running", "late"},
		{"trigger", "emergency"},
		{"inbound", "ACK", "PulseLink", "on", "my", "way"},
		{"listening", "OFF"},
	}
	for _, args := range invocations {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner.Stdout = stdout
		runner.Stderr = stderr

		exitCode := runner.Execute(context.Background(), append([]string{"--config", paths.configPath}, args...))
		require.Equal(t, 0, exitCode, args)
		require.NotContains(t, stderr.String(), "error:", args)
		require.NotEmpty(t, stdout.String(), args)
	}

	require.Equal(t, ipc.Request{Command: "status"}, <-requests)
	require.Equal(t, ipc.Request{Command: "trigger", Tier: "CHECK_IN", Text: "running late"}, <-requests)
	require.Equal(t, ipc.Request{Command: "trigger", Tier: "EMERGENCY", Text: "Manual trigger"}, <-requests)
	require.Equal(t, ipc.Request{Command: "inbound", Text: "ACK PulseLink on my way"}, <-requests)
	require.Equal(t, ipc.Request{Command: "listening", Args: []string{"off"}}, <-requests)
}

func TestRunnerListeningWritesStoreWithoutDaemon(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}
	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "listening", "off"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "listening disabled\n", stdout.String())

	db, err := sqlite.Open(paths.storePath, alert.DefaultSettings())
	require.NoError(t, err)
	defer db.Close()
	enabled, err := db.ListeningEnabled(context.Background())
	require.NoError(t, err)
	require.False(t, enabled)
}

func TestRunnerContactsAndHistory(t *testing.T) {
	paths := setupRunnerEnv(t)
	run := func(args ...string) (int, string, string) {
		var stdout, stderr bytes.Buffer
		runner := Runner{Stdout: &stdout, Stderr: &stderr}
		code := runner.Execute(context.Background(), append([]string{"--config", paths.configPath}, args...))
		return code, stdout.String(), stderr.String()
	}

	code, out, _ := run("contacts", "list")
	require.Equal(t, 0, code)
	require.Equal(t, "no contacts\n", out)

	code, out, _ = run("contacts", "add", "emergency", "Ana", "+15550100")
	require.Equal(t, 0, code)
	require.Equal(t, "added contact 1\n", out)

	code, _, errOut := run("contacts", "add", "panic", "Ana", "+15550100")
	require.Equal(t, 2, code)
	require.Contains(t, errOut, "unknown escalation tier")

	code, out, _ = run("contacts", "list")
	require.Equal(t, 0, code)
	require.Equal(t, "1 | EMERGENCY | Ana | +15550100\n", out)

	code, out, _ = run("contacts", "remove", "1")
	require.Equal(t, 0, code)
	require.Equal(t, "removed contact 1\n", out)

	code, _, errOut = run("contacts", "remove", "1")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "not found")

	code, out, _ = run("history", "5")
	require.Equal(t, 0, code)
	require.Equal(t, "no alert events\n", out)
}

func TestRunnerSoundsListsCatalog(t *testing.T) {
	paths := setupRunnerEnv(t)
	soundDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(soundDir, "alert_siren_loud.ogg"), []byte("x"), 0o600))
	writeRunnerConfig(t, paths, fmt.Sprintf(`"notify": {"backend": "log", "sound_dir": %q, "sound_enable": false}`, soundDir))

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}
	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "sounds"})
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "EMERGENCY: alert_siren_loud | Loud |")
	require.Contains(t, stdout.String(), "CHECK_IN: alert_siren_loud | Loud |")
}

func TestRunnerSoundsWithoutDirectoryUsesSynthesizedTones(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}
	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "sounds"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "EMERGENCY: synthesized SIREN\nCHECK_IN: synthesized CHIME\n", stdout.String())
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "pulselink.sock")
	shutdown := startIPCServerForRunnerTest(t, socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		switch req.Command {
		case "status":
			return ipc.Response{OK: true, State: "listening"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	resp, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"}, statusTimeout)
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "listening", resp.State)

	_, handled, err = tryForward(context.Background(), socketPath, ipc.Request{Command: "cancel"}, statusTimeout)
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported")
}

func TestTryForwardDoesNotRemoveSocketPathOnForwardFailure(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "pulselink.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"}, statusTimeout)
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "pulselink.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"}, statusTimeout)
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "forward command \"status\":")

	<-done
	require.NoError(t, listener.Close())
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "config: loaded")
	require.Contains(t, stdout.String(), "[FAIL] store:")
	require.Contains(t, stdout.String(), "[FAIL] sms:")
}

func TestRunnerDevicesCommandDispatches(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestSocketErrorHelpers(t *testing.T) {
	require.False(t, isSocketMissing(nil))
	require.False(t, isConnectionRefused(nil))

	require.True(t, isSocketMissing(os.ErrNotExist))
	require.True(t, isSocketMissing(errors.New("dial unix /tmp/pulselink.sock: no such file or directory")))
	require.False(t, isSocketMissing(errors.New("other error")))

	require.True(t, isConnectionRefused(syscall.ECONNREFUSED))
	require.False(t, isConnectionRefused(errors.New("other error")))
}

type runnerPaths struct {
	configPath string
	runtimeDir string
	storePath  string
}

func setupRunnerEnv(t *testing.T) runnerPaths {
	t.Helper()

	t.Setenv("XDG_STATE_HOME", t.TempDir())
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	paths := runnerPaths{
		configPath: filepath.Join(t.TempDir(), "config.jsonc"),
		runtimeDir: runtimeDir,
		storePath:  filepath.Join(t.TempDir(), "pulselink.db"),
	}
	writeRunnerConfig(t, paths, `"notify": {"backend": "log", "sound_enable": false}`)
	return paths
}

// writeRunnerConfig writes a config pointing at the test store plus extra sections.
func writeRunnerConfig(t *testing.T, paths runnerPaths, extra string) {
	t.Helper()
	contents := fmt.Sprintf(`{
  "store": {"path": %q},
  "recognizer": {"grpc": "127.0.0.1:1", "dial_timeout_ms": 100},
  "listen": {"restart_delay_ms": 50},
  %s,
}`, paths.storePath, extra)
	require.NoError(t, os.WriteFile(paths.configPath, []byte(contents), 0o600))

	_, err := config.Load(paths.configPath)
	require.NoError(t, err)
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}
