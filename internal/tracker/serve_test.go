package tracker

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/simonjohansson/tracker/internal/notify"
	"github.com/simonjohansson/tracker/pkg/trackerconfig"
	"github.com/stretchr/testify/require"
)

func TestAddrFromServerURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "127.0.0.1:9010", addrFromServerURL("http://127.0.0.1:9010"))
	require.Equal(t, "example.com:443", addrFromServerURL("https://example.com"))
	require.Equal(t, "example.com:80", addrFromServerURL("http://example.com"))
	require.Equal(t, defaultListenAddr, addrFromServerURL("not-a-url"))
	require.Equal(t, defaultListenAddr, addrFromServerURL(""))
}

func setRunServeForTest(fn func(opts serveOptions) error) func() {
	previous := runServeFunc
	runServeFunc = fn
	return func() {
		runServeFunc = previous
	}
}

func TestServeCommandUsesConfigDefaultsWhenFlagsUnset(t *testing.T) {
	var got serveOptions
	restore := setRunServeForTest(func(opts serveOptions) error {
		got = opts
		return nil
	})
	defer restore()

	cfg := Config{
		ServerURL:  "http://127.0.0.1:19190",
		SQLitePath: "/tmp/tracker-default.db",
		LogLevel:   "warn",
		SMTPHost:   "smtp.example.com",
	}
	cmd := newServeCommand(&cfg, io.Discard)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())

	require.Equal(t, "127.0.0.1:19190", got.Addr)
	require.Equal(t, "/tmp/tracker-default.db", got.Config.SQLitePath)
	require.Equal(t, "warn", got.Config.LogLevel)
	require.Equal(t, "smtp.example.com", got.Config.SMTPHost)
	require.False(t, got.StrictSquash)
}

func TestServeCommandFlagsOverrideConfig(t *testing.T) {
	var got serveOptions
	restore := setRunServeForTest(func(opts serveOptions) error {
		got = opts
		return nil
	})
	defer restore()

	cfg := Config{
		ServerURL:  "http://127.0.0.1:19191",
		SQLitePath: "/tmp/tracker-default.db",
	}
	cmd := newServeCommand(&cfg, io.Discard)
	cmd.SetArgs([]string{
		"--sqlite-path", "/tmp/tracker-flag.db",
		"--addr", "127.0.0.1:18081",
		"--log-level", "debug",
		"--log-file", "/tmp/tracker.log",
		"--strict-squash",
	})
	require.NoError(t, cmd.Execute())

	require.Equal(t, "127.0.0.1:18081", got.Addr)
	require.Equal(t, "/tmp/tracker-flag.db", got.Config.SQLitePath)
	require.Equal(t, "debug", got.Config.LogLevel)
	require.Equal(t, "/tmp/tracker.log", got.Config.LogFile)
	require.True(t, got.StrictSquash)
	require.Equal(t, "/tmp/tracker-default.db", cfg.SQLitePath)
}

func TestServeCommandRequiresSQLitePath(t *testing.T) {
	cfg := Config{
		ServerURL: "http://127.0.0.1:19192",
	}
	cmd := newServeCommand(&cfg, io.Discard)
	cmd.SetArgs(nil)
	err := cmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "--sqlite-path cannot be empty")
}

func TestServerOptionsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := Config{
		SQLitePath: "/tmp/x.db",
		MailDomain: "tracker.test",
		Worker:     trackerconfig.WorkerConfig{Concurrency: 2, BatchSize: 5, PollInterval: time.Minute},
		Webhook:    trackerconfig.WebhookConfig{Timeout: time.Second, RatePerHost: 3, Burst: 2},
	}

	opts := serverOptions(cfg, true, nil)
	require.Nil(t, opts.Mailer)
	require.Equal(t, "tracker.test", opts.MailDomain)
	require.Equal(t, 2, opts.Worker.Concurrency)
	require.Equal(t, 5, opts.Worker.BatchSize)
	require.Equal(t, time.Minute, opts.Worker.PollInterval)
	require.Equal(t, 3.0, opts.Webhook.RatePerHost)
	require.True(t, opts.StrictSquash)

	cfg.SMTPHost = "smtp.example.com"
	cfg.SMTPPort = 2525
	opts = serverOptions(cfg, false, nil)
	require.IsType(t, &notify.SMTPMailer{}, opts.Mailer)
}

func TestRunServeWithSignalsStopsCleanlyAndCreatesStoragePaths(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	sqlitePath := filepath.Join(root, "db", "tracker.db")
	logPath := filepath.Join(root, "logs", "tracker.log")
	addr := freeAddr(t)

	sigCh := make(chan os.Signal, 1)
	go func() {
		time.Sleep(150 * time.Millisecond)
		sigCh <- syscall.SIGTERM
	}()

	err := runServeWithSignals(serveOptions{
		Addr:    addr,
		Config:  Config{SQLitePath: sqlitePath, LogFormat: "json", LogFile: logPath},
		Console: io.Discard,
	}, sigCh)
	require.NoError(t, err)
	require.FileExists(t, sqlitePath)

	raw, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"msg":"starting tracker backend"`)
	require.Contains(t, string(raw), `"msg":"server stopped"`)
}

func TestRunServeWithSignalsReturnsListenError(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	addr := freeAddr(t)

	listener, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	defer listener.Close()

	err = runServeWithSignals(serveOptions{
		Addr:    addr,
		Config:  Config{SQLitePath: filepath.Join(root, "tracker.db")},
		Console: io.Discard,
	}, make(chan os.Signal))
	require.Error(t, err)
	require.Contains(t, err.Error(), "listen failed")
}

func TestRunServeWithSignalsRejectsUnknownLogLevel(t *testing.T) {
	t.Parallel()

	err := runServeWithSignals(serveOptions{
		Addr:    freeAddr(t),
		Config:  Config{SQLitePath: filepath.Join(t.TempDir(), "tracker.db"), LogLevel: "chatty"},
		Console: io.Discard,
	}, make(chan os.Signal))
	require.Error(t, err)
	require.Contains(t, err.Error(), "init logging failed")
}

func freeAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}
