package doctor

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rbright/pulselink/internal/alert"
	"github.com/rbright/pulselink/internal/asr"
	"github.com/rbright/pulselink/internal/config"
	"github.com/rbright/pulselink/internal/store/sqlite"
)

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestCheckEnv(t *testing.T) {
	t.Setenv("TEST_DOCTOR_ENV", "/run/user/1000")

	check := checkEnv(
		"TEST_DOCTOR_ENV",
		func(v string) bool { return strings.HasPrefix(v, "/run") },
		"looks good",
		"unexpected",
	)

	require.True(t, check.Pass)
	require.Equal(t, "looks good", check.Message)
}

func TestCheckCommandEmpty(t *testing.T) {
	check := checkCommand(nil, "notify.player_cmd")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "command is empty")
}

func TestCheckBinaryFound(t *testing.T) {
	check := checkBinary("sh", "shell available")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "shell available")
}

func TestCheckBinaryMissing(t *testing.T) {
	check := checkBinary("definitely-not-a-real-binary", "unused")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "binary not found")
}

func TestCheckCommandUsesBinaryFromPath(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "fake-player")
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/usr/bin/env bash\nexit 0\n"), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))

	check := checkCommand([]string{"fake-player", "--volume", "1"}, "notify.player_cmd")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "notify.player_cmd command is available")
}

func startHealthServer(t *testing.T, status healthpb.HealthCheckResponse_ServingStatus) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := grpc.NewServer()
	healthServer := health.NewServer()
	healthServer.SetServingStatus(asr.ServiceName, status)
	healthpb.RegisterHealthServer(server, healthServer)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)
	return lis.Addr().String()
}

func recognizerConfig(endpoint string) config.RecognizerConfig {
	cfg := config.Default().Recognizer
	cfg.GRPC = endpoint
	cfg.DialTimeout = 2 * time.Second
	return cfg
}

func TestCheckRecognizerServing(t *testing.T) {
	endpoint := startHealthServer(t, healthpb.HealthCheckResponse_SERVING)

	check := checkRecognizer(context.Background(), recognizerConfig(endpoint))
	require.True(t, check.Pass, check.Message)
	require.Contains(t, check.Message, "serving at")
}

func TestCheckRecognizerNotServing(t *testing.T) {
	endpoint := startHealthServer(t, healthpb.HealthCheckResponse_NOT_SERVING)

	check := checkRecognizer(context.Background(), recognizerConfig(endpoint))
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "not serving")
}

func TestCheckRecognizerEmptyEndpoint(t *testing.T) {
	check := checkRecognizer(context.Background(), recognizerConfig(""))
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "endpoint is empty")
}

func TestCheckStoreRequiresEmergencyContact(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "pulselink.db")

	check := checkStore(context.Background(), cfg)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "no EMERGENCY contacts")

	db, err := sqlite.Open(cfg.Store.Path, cfg.SeedSettings())
	require.NoError(t, err)
	_, err = db.UpsertContact(context.Background(), alert.Contact{
		DisplayName: "Ana",
		PhoneNumber: "+15550100",
		Tier:        alert.TierEmergency,
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	check = checkStore(context.Background(), cfg)
	require.True(t, check.Pass, check.Message)
	require.Contains(t, check.Message, "1 emergency contact")
}

func TestCheckSMS(t *testing.T) {
	require.False(t, checkSMS(config.SMSConfig{}).Pass)

	check := checkSMS(config.SMSConfig{GatewayURL: "https://sms.example.test"})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "sms.example.test")
}

func TestCheckLocation(t *testing.T) {
	check := checkLocation(context.Background(), config.LocationConfig{})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "disabled")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	check = checkLocation(ctx, config.LocationConfig{Broker: "tcp://127.0.0.1:1", ClientID: "pulselink"})
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "connect location broker")
}

func TestCheckInbound(t *testing.T) {
	check := checkInbound(context.Background(), config.InboundConfig{})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "disabled")

	mr := miniredis.RunT(t)
	check = checkInbound(context.Background(), config.InboundConfig{RedisAddr: mr.Addr(), Stream: "pulselink:inbound"})
	require.True(t, check.Pass, check.Message)
	require.Contains(t, check.Message, "pulselink:inbound")

	mr.Close()
	check = checkInbound(context.Background(), config.InboundConfig{RedisAddr: mr.Addr()})
	require.False(t, check.Pass)
}
