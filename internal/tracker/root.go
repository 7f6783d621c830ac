package tracker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/simonjohansson/tracker/internal/tracker/commands/entitycmd"
	"github.com/simonjohansson/tracker/internal/tracker/commands/historycmd"
	"github.com/simonjohansson/tracker/internal/tracker/commands/policycmd"
	"github.com/simonjohansson/tracker/internal/tracker/commands/projectcmd"
	"github.com/simonjohansson/tracker/internal/tracker/commands/webhookcmd"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	serverURL string
	output    string
	userID    int64
}

type commandRuntime struct {
	cfg *Config
}

func (r commandRuntime) ServerURL() string {
	return r.cfg.ServerURL
}

func (r commandRuntime) Output() string {
	return string(r.cfg.Output)
}

func (r commandRuntime) UserID() int64 {
	return r.cfg.UserID
}

func NewRootCommand(initial Config, stdout, stderr io.Writer) *cobra.Command {
	cfg := initial
	flags := globalFlags{
		serverURL: initial.ServerURL,
		output:    string(initial.Output),
		userID:    initial.UserID,
	}
	runtime := commandRuntime{cfg: &cfg}

	root := &cobra.Command{
		Use:   "tracker",
		Short: "Run the change-tracking server and inspect history over HTTP.",
		Long: strings.TrimSpace(`tracker is a unified binary for:
- starting the change-tracking backend (history, notifications, webhooks)
- changing entities and reading their history over the HTTP API
- managing notification policies and webhooks

Use tracker help <command> for command-specific examples.

Global flags:
- --server-url selects the backend endpoint
- --output selects text/json formatting
- --as sets the acting user recorded as author of changes`),
		Example: strings.TrimSpace(`tracker serve
tracker migrate
tracker project create --slug alpha --name "Alpha"
tracker --as 1 entity create -p alpha -k task --set subject="Write docs"
tracker history -p alpha -k task -i 1 --squashed
tracker policy set -p alpha --user 2 --level all
tracker webhook create -p alpha --name ci --url https://ci.example.com/hook --key s3cret
tracker --as 2 watch -p alpha`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return applyGlobalFlags(&cfg, flags)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&flags.serverURL, "server-url", flags.serverURL, "Backend API base URL (e.g. http://127.0.0.1:8080)")
	root.PersistentFlags().StringVar(&flags.output, "output", flags.output, "Output format: text or json")
	root.PersistentFlags().Int64Var(&flags.userID, "as", flags.userID, "Acting user id recorded as author of changes")

	root.AddCommand(newServeCommand(&cfg, stdout))
	root.AddCommand(newMigrateCommand(&cfg, stdout))
	root.AddCommand(newPrimerCommand(&cfg, stdout))
	root.AddCommand(projectcmd.New(runtime, stdout, handleResponseFromString, wrapCLIError))
	root.AddCommand(projectcmd.NewUser(runtime, stdout, handleResponseFromString, wrapCLIError))
	root.AddCommand(entitycmd.New(runtime, stdout, handleResponseFromString, wrapCLIError))
	root.AddCommand(historycmd.New(runtime, stdout, handleResponseFromString, wrapCLIError))
	root.AddCommand(policycmd.New(runtime, stdout, handleResponseFromString, wrapCLIError))
	root.AddCommand(webhookcmd.New(runtime, stdout, handleResponseFromString, wrapCLIError))
	root.AddCommand(webhookcmd.NewDelivery(runtime, stdout, handleResponseFromString, wrapCLIError))
	root.AddCommand(newWatchCommand(&cfg, stdout))

	return root
}

func applyGlobalFlags(cfg *Config, flags globalFlags) error {
	output := strings.TrimSpace(flags.output)
	if !isValidOutput(output) {
		return &cliError{status: http.StatusBadRequest, message: fmt.Sprintf("invalid --output: %s", output)}
	}
	if flags.userID < 0 {
		return &cliError{status: http.StatusBadRequest, message: "--as must be a positive user id"}
	}

	cfg.ServerURL = strings.TrimSpace(flags.serverURL)
	cfg.Output = Output(output)
	cfg.UserID = flags.userID

	if cfg.ServerURL == "" {
		return &cliError{status: http.StatusBadRequest, message: "--server-url cannot be empty"}
	}

	return nil
}

func handleResponseFromString(output string, stdout io.Writer, resp *http.Response, reqErr error) error {
	if !isValidOutput(output) {
		return &cliError{status: http.StatusBadRequest, message: fmt.Sprintf("invalid --output: %s", output)}
	}
	return handleResponse(Output(output), stdout, resp, reqErr)
}

func wrapCLIError(status int, message string) error {
	return &cliError{status: status, message: message}
}

func newPrimerCommand(cfg *Config, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "primer",
		Short: "Print concise usage guidance.",
		Long:  "Prints quick command examples and usage conventions for scripting.",
		Example: strings.TrimSpace(`tracker primer
tracker --output json primer`),
		RunE: func(_ *cobra.Command, _ []string) error {
			return printPrimer(cfg.Output, stdout)
		},
	}
}

func newWatchCommand(cfg *Config, stdout io.Writer) *cobra.Command {
	watchCmd := &cobra.Command{
		Use:     "watch",
		Aliases: []string{"events", "stream"},
		Short:   "Stream live notifications over websocket.",
		Long: strings.TrimSpace(`Connect to the backend websocket and print events until interrupted.
With --as only events addressed to that user (per their live level) are shown.`),
		Example: strings.TrimSpace(`tracker watch
tracker --as 2 watch --project alpha
tracker events -p alpha --output json`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			project, _ := cmd.Flags().GetString("project")
			wsURL, err := BuildWebsocketURL(cfg.ServerURL, strings.TrimSpace(project), cfg.UserID)
			if err != nil {
				return &cliError{status: http.StatusBadRequest, message: err.Error()}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
			if err != nil {
				status := http.StatusBadGateway
				if resp != nil && resp.StatusCode >= 400 {
					status = resp.StatusCode
				}
				return &cliError{status: status, message: err.Error()}
			}
			defer conn.Close()

			// ReadJSON only returns on socket activity, so closing the
			// connection is what unblocks it on interrupt.
			go func() {
				<-ctx.Done()
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "interrupt"),
					time.Now().Add(500*time.Millisecond),
				)
				_ = conn.Close()
			}()

			return streamEvents(ctx, conn, cfg.Output, stdout)
		},
	}

	watchCmd.Flags().StringP("project", "p", "", "Optional project slug filter")
	return watchCmd
}

type jsonReader interface {
	ReadJSON(v any) error
}

func streamEvents(ctx context.Context, conn jsonReader, output Output, stdout io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var event map[string]any
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &cliError{status: http.StatusBadGateway, message: err.Error()}
		}

		line, err := FormatWatchLine(output, event)
		if err != nil {
			return &cliError{status: http.StatusInternalServerError, message: err.Error()}
		}
		if _, err := fmt.Fprintln(stdout, line); err != nil {
			return &cliError{status: http.StatusInternalServerError, message: err.Error()}
		}
	}
}
