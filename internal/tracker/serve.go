package tracker

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/simonjohansson/tracker/internal/dispatch"
	"github.com/simonjohansson/tracker/internal/logging"
	"github.com/simonjohansson/tracker/internal/notify"
	"github.com/simonjohansson/tracker/internal/server"
	"github.com/simonjohansson/tracker/internal/webhook"
	"github.com/spf13/cobra"
)

const defaultListenAddr = "127.0.0.1:8080"

// serveOptions is everything runServe needs; cfg is already merged from
// file, env and flags.
type serveOptions struct {
	Addr         string
	StrictSquash bool
	Config       Config
	Console      io.Writer
}

var runServeFunc = runServe

func addrFromServerURL(serverURL string) string {
	raw := strings.TrimSpace(serverURL)
	if raw == "" {
		return defaultListenAddr
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return defaultListenAddr
	}

	host := u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr == nil {
		return host
	}

	switch u.Scheme {
	case "https":
		return net.JoinHostPort(host, "443")
	case "http":
		return net.JoinHostPort(host, "80")
	default:
		return defaultListenAddr
	}
}

func newServeCommand(cfg *Config, stdout io.Writer) *cobra.Command {
	var (
		addr         string
		sqlitePath   string
		logLevel     string
		logFile      string
		strictSquash bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tracker backend API server.",
		Long: strings.TrimSpace(`Runs the HTTP API, the websocket hub and the delivery worker that
sends notification mail and webhooks from the outbox.
Mail goes through SMTP when mail.smtp_host is configured and is logged otherwise.`),
		Example: strings.TrimSpace(`tracker serve
tracker serve --addr 127.0.0.1:8090
tracker --server-url http://127.0.0.1:9010 serve
tracker serve --sqlite-path /tmp/tracker/tracker.db --log-level debug`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolved := *cfg
			serveAddr := strings.TrimSpace(addr)
			if !cmd.Flags().Changed("addr") {
				serveAddr = addrFromServerURL(cfg.ServerURL)
			}
			if cmd.Flags().Changed("sqlite-path") {
				resolved.SQLitePath = strings.TrimSpace(sqlitePath)
			}
			if cmd.Flags().Changed("log-level") {
				resolved.LogLevel = strings.TrimSpace(logLevel)
			}
			if cmd.Flags().Changed("log-file") {
				resolved.LogFile = strings.TrimSpace(logFile)
			}

			if serveAddr == "" {
				return errors.New("--addr cannot be empty")
			}
			if strings.TrimSpace(resolved.SQLitePath) == "" {
				return errors.New("--sqlite-path cannot be empty")
			}

			return runServeFunc(serveOptions{
				Addr:         serveAddr,
				StrictSquash: strictSquash,
				Config:       resolved,
				Console:      stdout,
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", addrFromServerURL(cfg.ServerURL), "server listen address")
	cmd.Flags().StringVar(&sqlitePath, "sqlite-path", cfg.SQLitePath, "sqlite database path")
	cmd.Flags().StringVar(&logLevel, "log-level", cfg.LogLevel, "log level: debug|info|warn|error")
	cmd.Flags().StringVar(&logFile, "log-file", cfg.LogFile, "also write logs to this rotating file")
	cmd.Flags().BoolVar(&strictSquash, "strict-squash", false, "re-panic on squash failures instead of returning raw history")
	return cmd
}

func runServe(opts serveOptions) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	return runServeWithSignals(opts, sigCh)
}

func runServeWithSignals(opts serveOptions, sigCh <-chan os.Signal) error {
	cfg := opts.Config
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	logger, logCloser, err := logging.New(console, logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("init logging failed: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return fmt.Errorf("create sqlite parent dir failed: %w", err)
	}

	app, err := server.New(serverOptions(cfg, opts.StrictSquash, logger))
	if err != nil {
		return fmt.Errorf("init server failed: %w", err)
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			logger.Error("close server failed", "error", closeErr)
		}
	}()

	httpServer := &http.Server{
		Addr:              opts.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("starting tracker backend", "addr", opts.Addr, "sqlite_path", cfg.SQLitePath, "smtp", cfg.SMTPHost != "")

	serverErrCh := make(chan error, 1)
	go func() {
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			serverErrCh <- listenErr
			return
		}
		serverErrCh <- nil
	}()

	select {
	case listenErr := <-serverErrCh:
		if listenErr != nil {
			return fmt.Errorf("listen failed: %w", listenErr)
		}
		return nil
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	if err := httpServer.Close(); err != nil {
		return fmt.Errorf("http server close failed: %w", err)
	}
	if listenErr := <-serverErrCh; listenErr != nil {
		return fmt.Errorf("listen failed after shutdown: %w", listenErr)
	}
	logger.Info("server stopped")
	return nil
}

func serverOptions(cfg Config, strictSquash bool, logger *slog.Logger) server.Options {
	return server.Options{
		SQLitePath: cfg.SQLitePath,
		Logger:     logger,
		Mailer:     newMailer(cfg),
		MailDomain: cfg.MailDomain,
		Webhook: webhook.Options{
			Timeout:     cfg.Webhook.Timeout,
			RatePerHost: cfg.Webhook.RatePerHost,
			Burst:       cfg.Webhook.Burst,
		},
		Worker: dispatch.Config{
			Concurrency:  cfg.Worker.Concurrency,
			BatchSize:    cfg.Worker.BatchSize,
			PollInterval: cfg.Worker.PollInterval,
		},
		StrictSquash: strictSquash,
	}
}

// newMailer returns nil without an SMTP host; the worker then logs mail.
func newMailer(cfg Config) notify.Mailer {
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		return nil
	}
	return notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
}
