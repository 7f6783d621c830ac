package tracker

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/simonjohansson/tracker/internal/store"
	"github.com/spf13/cobra"
)

func newMigrateCommand(cfg *Config, stdout io.Writer) *cobra.Command {
	var sqlitePath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and report the schema version.",
		Long:  "Creates the sqlite database if needed and applies every pending migration. serve does the same on start.",
		Example: strings.TrimSpace(`tracker migrate
tracker migrate --sqlite-path /tmp/tracker/tracker.db --output json`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := strings.TrimSpace(cfg.SQLitePath)
			if cmd.Flags().Changed("sqlite-path") {
				path = strings.TrimSpace(sqlitePath)
			}
			if path == "" {
				return &cliError{status: http.StatusBadRequest, message: "--sqlite-path cannot be empty"}
			}

			version, dirty, err := migrateDatabase(path)
			if err != nil {
				return &cliError{status: http.StatusInternalServerError, message: err.Error()}
			}

			if cfg.Output == OutputJSON {
				raw, _ := json.Marshal(map[string]any{"sqlite_path": path, "version": version, "dirty": dirty})
				_, _ = fmt.Fprintln(stdout, string(raw))
				return nil
			}
			_, _ = fmt.Fprintf(stdout, "schema version %d (dirty=%t) at %s\n", version, dirty, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&sqlitePath, "sqlite-path", cfg.SQLitePath, "sqlite database path")
	return cmd
}

func migrateDatabase(path string) (uint, bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, false, fmt.Errorf("create sqlite parent dir failed: %w", err)
	}

	st, err := store.Open(path, slog.New(slog.DiscardHandler))
	if err != nil {
		return 0, false, fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	return store.SchemaVersion(st.DB())
}
