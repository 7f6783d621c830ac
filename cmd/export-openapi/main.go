package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/simonjohansson/tracker/internal/server"
	"gopkg.in/yaml.v3"
)

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "api/openapi.yaml", "output path for OpenAPI YAML")
	flag.Parse()

	tmpDataDir, err := os.MkdirTemp("", "tracker-openapi-data-")
	if err != nil {
		log.Fatalf("create temp data dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDataDir) }()

	app, err := server.New(server.Options{
		SQLitePath:    filepath.Join(tmpDataDir, "tracker.db"),
		Logger:        slog.New(slog.DiscardHandler),
		DisableWorker: true,
	})
	if err != nil {
		log.Fatalf("init server: %v", err)
	}
	defer func() { _ = app.Close() }()

	raw, err := yaml.Marshal(app.OpenAPI())
	if err != nil {
		log.Fatalf("marshal openapi: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}
	if err := os.WriteFile(outPath, raw, 0o644); err != nil {
		log.Fatalf("write openapi file: %v", err)
	}
}
