package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/simonjohansson/tracker/pkg/trackerconfig"
	"github.com/stretchr/testify/require"
)

func TestMergeConfigPrecedence(t *testing.T) {
	t.Parallel()

	defaults := Config{
		ServerURL:  "http://127.0.0.1:8080",
		Output:     OutputText,
		SQLitePath: "/tmp/default.db",
		SMTPPort:   587,
		Worker:     trackerconfig.WorkerConfig{Concurrency: 4, PollInterval: time.Second},
	}
	fileCfg := Config{
		ServerURL:  "http://from-file:8080",
		SQLitePath: "/tmp/file.db",
		SMTPHost:   "smtp.file",
		Worker:     trackerconfig.WorkerConfig{Concurrency: 8},
	}
	envCfg := Config{
		ServerURL: "http://from-env:8080",
		Output:    OutputJSON,
		UserID:    3,
		SMTPHost:  "smtp.env",
	}
	flagCfg := Config{
		ServerURL:  "http://from-flag:8080",
		Output:     OutputText,
		SQLitePath: "/tmp/flag.db",
	}

	got := MergeConfig(defaults, fileCfg, envCfg, flagCfg)
	require.Equal(t, "http://from-flag:8080", got.ServerURL)
	require.Equal(t, OutputText, got.Output)
	require.Equal(t, "/tmp/flag.db", got.SQLitePath)
	require.Equal(t, int64(3), got.UserID)
	require.Equal(t, "smtp.env", got.SMTPHost)
	require.Equal(t, 587, got.SMTPPort)
	require.Equal(t, 8, got.Worker.Concurrency)
	require.Equal(t, time.Second, got.Worker.PollInterval)
}

func TestLoadOrInitConfigWritesMissingFields(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	cfgDir := filepath.Join(home, ".config", "tracker")
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(`
server_url: http://seed
cli:
  output: json
  user_id: 5
mail:
  smtp_host: mail.example.com
`), 0o644))

	got, err := LoadOrInitConfig(home)
	require.NoError(t, err)
	require.Equal(t, "http://seed", got.ServerURL)
	require.Equal(t, OutputJSON, got.Output)
	require.Equal(t, int64(5), got.UserID)
	require.Equal(t, "mail.example.com", got.SMTPHost)
	require.Equal(t, 587, got.SMTPPort)
	require.Equal(t, filepath.Join(home, ".config", "tracker", "config.yaml"), ConfigPath(home))

	roundTrip, err := LoadConfigFile(filepath.Join(cfgDir, "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, got, roundTrip)
}

func TestLoadConfigFileDropsUnknownOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cli:\n  output: yaml\n"), 0o644))

	got, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Empty(t, got.Output)
}

func TestParseEnvConfig(t *testing.T) {
	t.Parallel()

	env := []string{
		"TRACKER_SERVER_URL=http://env:9999",
		"TRACKER_OUTPUT=json",
		"TRACKER_SQLITE_PATH=/tmp/env.db",
		"TRACKER_USER_ID=12",
		"TRACKER_SMTP_HOST= smtp.env ",
		"TRACKER_SMTP_PORT=2525",
		"TRACKER_LOG_LEVEL=debug",
		"UNRELATED=1",
		"malformed",
	}

	got := ParseEnvConfig(env)
	require.Equal(t, "http://env:9999", got.ServerURL)
	require.Equal(t, OutputJSON, got.Output)
	require.Equal(t, "/tmp/env.db", got.SQLitePath)
	require.Equal(t, int64(12), got.UserID)
	require.Equal(t, "smtp.env", got.SMTPHost)
	require.Equal(t, 2525, got.SMTPPort)
	require.Equal(t, "debug", got.LogLevel)
}

func TestParseEnvConfigIgnoresInvalidValues(t *testing.T) {
	t.Parallel()

	got := ParseEnvConfig([]string{"TRACKER_OUTPUT=xml", "TRACKER_USER_ID=-4", "TRACKER_SMTP_PORT=abc"})
	require.Equal(t, Config{}, got)
}

func TestWithDotEnvLetsProcessEnvWin(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tracker.env")
	require.NoError(t, os.WriteFile(path, []byte("TRACKER_SMTP_HOST=smtp.dotenv\nTRACKER_OUTPUT=json\n"), 0o644))

	env, err := WithDotEnv([]string{"TRACKER_ENV_FILE=" + path, "TRACKER_OUTPUT=text"})
	require.NoError(t, err)

	got := ParseEnvConfig(env)
	require.Equal(t, "smtp.dotenv", got.SMTPHost)
	require.Equal(t, OutputText, got.Output)
}

func TestWithDotEnvMissingFileIsIgnored(t *testing.T) {
	t.Parallel()

	in := []string{"TRACKER_ENV_FILE=" + filepath.Join(t.TempDir(), "absent.env")}
	env, err := WithDotEnv(in)
	require.NoError(t, err)
	require.Equal(t, in, env)
}

func TestFormatErrorJSON(t *testing.T) {
	t.Parallel()

	raw := FormatError(OutputJSON, 400, "bad request")
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &body))
	require.Equal(t, float64(400), body["status"])
	require.Equal(t, "bad request", body["error"])
}
