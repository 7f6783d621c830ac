package tracker

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/simonjohansson/tracker/pkg/trackerconfig"
)

// Config is the resolved CLI and server configuration. String and
// numeric zero values mean "not set" when layers are merged.
type Config struct {
	ServerURL  string
	Output     Output
	UserID     int64
	SQLitePath string

	LogLevel  string
	LogFormat string
	LogFile   string

	MailDomain   string
	MailFrom     string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	Worker  trackerconfig.WorkerConfig
	Webhook trackerconfig.WebhookConfig
}

func DefaultConfig(home string) Config {
	return mapSharedToCLI(trackerconfig.Default(home))
}

// envSetters maps TRACKER_* variables onto Config.
var envSetters = map[string]func(cfg *Config, value string){
	"TRACKER_SERVER_URL":  func(cfg *Config, v string) { cfg.ServerURL = v },
	"TRACKER_SQLITE_PATH": func(cfg *Config, v string) { cfg.SQLitePath = v },
	"TRACKER_OUTPUT": func(cfg *Config, v string) {
		if isValidOutput(v) {
			cfg.Output = Output(v)
		}
	},
	"TRACKER_USER_ID": func(cfg *Config, v string) {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			cfg.UserID = id
		}
	},
	"TRACKER_LOG_LEVEL":     func(cfg *Config, v string) { cfg.LogLevel = v },
	"TRACKER_LOG_FORMAT":    func(cfg *Config, v string) { cfg.LogFormat = v },
	"TRACKER_LOG_FILE":      func(cfg *Config, v string) { cfg.LogFile = v },
	"TRACKER_MAIL_DOMAIN":   func(cfg *Config, v string) { cfg.MailDomain = v },
	"TRACKER_MAIL_FROM":     func(cfg *Config, v string) { cfg.MailFrom = v },
	"TRACKER_SMTP_HOST":     func(cfg *Config, v string) { cfg.SMTPHost = v },
	"TRACKER_SMTP_USERNAME": func(cfg *Config, v string) { cfg.SMTPUsername = v },
	"TRACKER_SMTP_PASSWORD": func(cfg *Config, v string) { cfg.SMTPPassword = v },
	"TRACKER_SMTP_PORT": func(cfg *Config, v string) {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.SMTPPort = port
		}
	},
}

func ParseEnvConfig(env []string) Config {
	cfg := Config{}

	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if set, known := envSetters[key]; known {
			set(&cfg, strings.TrimSpace(value))
		}
	}

	return cfg
}

// WithDotEnv prepends the variables of a .env file to env, so variables
// already present in env win. TRACKER_ENV_FILE names the file; the
// default is .env in the working directory. A missing file is not an
// error.
func WithDotEnv(env []string) ([]string, error) {
	path := ".env"
	for _, kv := range env {
		if value, ok := strings.CutPrefix(kv, "TRACKER_ENV_FILE="); ok && strings.TrimSpace(value) != "" {
			path = strings.TrimSpace(value)
		}
	}

	values, err := godotenv.Read(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return env, nil
		}
		return env, err
	}

	out := make([]string, 0, len(values)+len(env))
	for key, value := range values {
		out = append(out, key+"="+value)
	}
	return append(out, env...), nil
}

func MergeConfig(defaults, fileCfg, envCfg, flagCfg Config) Config {
	out := defaults
	applyConfig(&out, fileCfg)
	applyConfig(&out, envCfg)
	applyConfig(&out, flagCfg)
	return out
}

func applyConfig(dst *Config, src Config) {
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&dst.ServerURL, src.ServerURL},
		{&dst.SQLitePath, src.SQLitePath},
		{&dst.LogLevel, src.LogLevel},
		{&dst.LogFormat, src.LogFormat},
		{&dst.LogFile, src.LogFile},
		{&dst.MailDomain, src.MailDomain},
		{&dst.MailFrom, src.MailFrom},
		{&dst.SMTPHost, src.SMTPHost},
		{&dst.SMTPUsername, src.SMTPUsername},
		{&dst.SMTPPassword, src.SMTPPassword},
	} {
		if value := strings.TrimSpace(f.src); value != "" {
			*f.dst = value
		}
	}
	if src.Output != "" {
		dst.Output = src.Output
	}
	if src.UserID > 0 {
		dst.UserID = src.UserID
	}
	if src.SMTPPort > 0 {
		dst.SMTPPort = src.SMTPPort
	}
	if src.Worker.Concurrency > 0 {
		dst.Worker.Concurrency = src.Worker.Concurrency
	}
	if src.Worker.BatchSize > 0 {
		dst.Worker.BatchSize = src.Worker.BatchSize
	}
	if src.Worker.PollInterval > 0 {
		dst.Worker.PollInterval = src.Worker.PollInterval
	}
	if src.Webhook.Timeout > 0 {
		dst.Webhook.Timeout = src.Webhook.Timeout
	}
	if src.Webhook.RatePerHost > 0 {
		dst.Webhook.RatePerHost = src.Webhook.RatePerHost
	}
	if src.Webhook.Burst > 0 {
		dst.Webhook.Burst = src.Webhook.Burst
	}
}

func LoadOrInitConfig(home string) (Config, error) {
	shared, err := trackerconfig.LoadOrInit(home)
	if err != nil {
		return Config{}, err
	}
	return mapSharedToCLI(shared), nil
}

func ConfigPath(home string) string {
	return trackerconfig.ConfigPath(home)
}

func LoadConfigFile(path string) (Config, error) {
	shared, err := trackerconfig.LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	return mapSharedToCLI(shared), nil
}

func mapSharedToCLI(shared trackerconfig.Config) Config {
	cfg := Config{
		ServerURL:    strings.TrimSpace(shared.ServerURL),
		Output:       Output(strings.TrimSpace(shared.CLI.Output)),
		UserID:       shared.CLI.UserID,
		SQLitePath:   strings.TrimSpace(shared.Backend.SQLitePath),
		LogLevel:     shared.Logging.Level,
		LogFormat:    shared.Logging.Format,
		LogFile:      shared.Logging.File,
		MailDomain:   shared.Mail.Domain,
		MailFrom:     shared.Mail.From,
		SMTPHost:     shared.Mail.SMTPHost,
		SMTPPort:     shared.Mail.SMTPPort,
		SMTPUsername: shared.Mail.SMTPUsername,
		SMTPPassword: shared.Mail.SMTPPassword,
		Worker:       shared.Worker,
		Webhook:      shared.Webhook,
	}
	if cfg.Output != "" && !isValidOutput(string(cfg.Output)) {
		cfg.Output = ""
	}
	return cfg
}
