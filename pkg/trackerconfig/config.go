package trackerconfig

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultServerURL  = "http://127.0.0.1:8080"
	DefaultOutput     = "text"
	DefaultMailDomain = "localhost"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "auto"
)

// Config is the file shared by the server and the CLI. Every field is
// comparable so LoadOrInit can detect when defaults were filled in.
type Config struct {
	ServerURL string        `yaml:"server_url"`
	Backend   BackendConfig `yaml:"backend"`
	Mail      MailConfig    `yaml:"mail"`
	Worker    WorkerConfig  `yaml:"worker"`
	Webhook   WebhookConfig `yaml:"webhook"`
	Logging   LoggingConfig `yaml:"logging"`
	CLI       CLIConfig     `yaml:"cli"`
}

type BackendConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// MailConfig selects the mail transport. An empty SMTPHost keeps mail
// in the log.
type MailConfig struct {
	Domain       string `yaml:"domain"`
	From         string `yaml:"from"`
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`
}

type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type WebhookConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	RatePerHost float64       `yaml:"rate_per_host"`
	Burst       int           `yaml:"burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type CLIConfig struct {
	Output string `yaml:"output"`
	// UserID is sent as the acting user on mutating requests.
	UserID int64 `yaml:"user_id"`
}

func Default(home string) Config {
	stateDir := filepath.Join(home, ".local", "state", "tracker")

	return Config{
		ServerURL: DefaultServerURL,
		Backend: BackendConfig{
			SQLitePath: filepath.Join(stateDir, "tracker.db"),
		},
		Mail: MailConfig{
			Domain:   DefaultMailDomain,
			From:     "tracker@" + DefaultMailDomain,
			SMTPPort: 587,
		},
		Worker: WorkerConfig{
			Concurrency:  4,
			BatchSize:    32,
			PollInterval: time.Second,
		},
		Webhook: WebhookConfig{
			Timeout: 5 * time.Second,
			Burst:   1,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		CLI: CLIConfig{
			Output: DefaultOutput,
		},
	}
}

func ConfigPath(home string) string {
	return filepath.Join(home, ".config", "tracker", "config.yaml")
}

func LoadOrInit(home string) (Config, error) {
	path := ConfigPath(home)
	defaults := Default(home)

	cfg, err := LoadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := SaveFile(path, defaults); err != nil {
				return Config{}, err
			}
			return defaults, nil
		}
		return Config{}, err
	}

	merged := Merge(defaults, cfg)
	if merged != cfg {
		if err := SaveFile(path, merged); err != nil {
			return Config{}, err
		}
	}

	return merged, nil
}

func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	return normalize(cfg), nil
}

func SaveFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(normalize(cfg))
	if err != nil {
		return err
	}

	// The file may carry an SMTP password.
	return os.WriteFile(path, data, 0o600)
}

// Merge overlays the non-zero fields of user onto defaults.
func Merge(defaults Config, user Config) Config {
	out := normalize(defaults)
	in := normalize(user)

	setString(&out.ServerURL, in.ServerURL)
	setString(&out.Backend.SQLitePath, in.Backend.SQLitePath)

	setString(&out.Mail.Domain, in.Mail.Domain)
	setString(&out.Mail.From, in.Mail.From)
	setString(&out.Mail.SMTPHost, in.Mail.SMTPHost)
	setPositive(&out.Mail.SMTPPort, in.Mail.SMTPPort)
	setString(&out.Mail.SMTPUsername, in.Mail.SMTPUsername)
	setString(&out.Mail.SMTPPassword, in.Mail.SMTPPassword)

	setPositive(&out.Worker.Concurrency, in.Worker.Concurrency)
	setPositive(&out.Worker.BatchSize, in.Worker.BatchSize)
	setPositive(&out.Worker.PollInterval, in.Worker.PollInterval)

	setPositive(&out.Webhook.Timeout, in.Webhook.Timeout)
	setPositive(&out.Webhook.RatePerHost, in.Webhook.RatePerHost)
	setPositive(&out.Webhook.Burst, in.Webhook.Burst)

	setString(&out.Logging.Level, in.Logging.Level)
	setString(&out.Logging.Format, in.Logging.Format)
	setString(&out.Logging.File, in.Logging.File)

	setString(&out.CLI.Output, in.CLI.Output)
	setPositive(&out.CLI.UserID, in.CLI.UserID)

	return out
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setPositive[T int | int64 | float64 | time.Duration](dst *T, value T) {
	if value > 0 {
		*dst = value
	}
}

func normalize(cfg Config) Config {
	for _, field := range []*string{
		&cfg.ServerURL,
		&cfg.Backend.SQLitePath,
		&cfg.Mail.Domain,
		&cfg.Mail.From,
		&cfg.Mail.SMTPHost,
		&cfg.Mail.SMTPUsername,
		&cfg.Logging.Level,
		&cfg.Logging.Format,
		&cfg.Logging.File,
		&cfg.CLI.Output,
	} {
		*field = strings.TrimSpace(*field)
	}
	return cfg
}
