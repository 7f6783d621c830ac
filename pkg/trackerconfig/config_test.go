package trackerconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadOrInitCreatesDefaults(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	cfg, err := LoadOrInit(home)
	require.NoError(t, err)

	require.Equal(t, DefaultServerURL, cfg.ServerURL)
	require.Equal(t, filepath.Join(home, ".local", "state", "tracker", "tracker.db"), cfg.Backend.SQLitePath)
	require.Equal(t, DefaultOutput, cfg.CLI.Output)
	require.Equal(t, time.Second, cfg.Worker.PollInterval)
	require.Empty(t, cfg.Mail.SMTPHost)
	require.Equal(t, filepath.Join(home, ".config", "tracker", "config.yaml"), ConfigPath(home))

	info, err := os.Stat(ConfigPath(home))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadOrInitMergesMissingFields(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	path := ConfigPath(home)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`
server_url: http://seed:8080
backend:
  sqlite_path: /seed/tracker.db
mail:
  smtp_host: " smtp.example.com "
worker:
  poll_interval: 250ms
webhook:
  rate_per_host: 2.5
cli:
  output: json
  user_id: 7
`), 0o644))

	cfg, err := LoadOrInit(home)
	require.NoError(t, err)

	require.Equal(t, "http://seed:8080", cfg.ServerURL)
	require.Equal(t, "/seed/tracker.db", cfg.Backend.SQLitePath)
	require.Equal(t, "smtp.example.com", cfg.Mail.SMTPHost)
	require.Equal(t, 587, cfg.Mail.SMTPPort)
	require.Equal(t, 250*time.Millisecond, cfg.Worker.PollInterval)
	require.Equal(t, 4, cfg.Worker.Concurrency)
	require.Equal(t, 2.5, cfg.Webhook.RatePerHost)
	require.Equal(t, 5*time.Second, cfg.Webhook.Timeout)
	require.Equal(t, "json", cfg.CLI.Output)
	require.Equal(t, int64(7), cfg.CLI.UserID)
	require.Equal(t, DefaultLogLevel, cfg.Logging.Level)

	roundTrip, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, cfg, roundTrip)
}

func TestLoadFileRejectsMalformedYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker: [unclosed"), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestMergeIgnoresZeroValues(t *testing.T) {
	t.Parallel()

	defaults := Default("/home/test")
	got := Merge(defaults, Config{Worker: WorkerConfig{Concurrency: -1}, Logging: LoggingConfig{Level: "  "}})
	require.Equal(t, defaults, got)
}
