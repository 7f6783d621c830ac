package server_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/simonjohansson/tracker/internal/server"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRequestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	var logs syncBuffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))
	env := newTestServerWith(t, server.Options{Logger: logger})

	resp := doJSON(t, env.url("/health"), http.MethodGet, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	missing := doJSON(t, env.url("/projects/nope"), http.MethodGet, nil)
	require.Equal(t, http.StatusNotFound, missing.StatusCode)

	out := logs.String()
	require.Contains(t, out, "http request")
	require.Contains(t, out, "method=GET")
	require.Contains(t, out, "path=/health")
	require.Contains(t, out, "status=200")
	require.Contains(t, out, "request_id=")
	require.Contains(t, out, "level=WARN msg=\"http request\" method=GET path=/projects/nope status=404")
	require.Contains(t, out, "route=/projects/{project}")
}

func TestOperationLogging(t *testing.T) {
	t.Parallel()

	var logs syncBuffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))
	env := newTestServerWith(t, server.Options{Logger: logger})
	ana, _ := seed(t, env)
	created := createTask(t, env, ana, "Observe logs")

	out := logs.String()
	require.Contains(t, out, "project created")
	require.Contains(t, out, "project=alpha")
	require.Contains(t, out, "entity created")
	require.Contains(t, out, "entry_id="+created.Entry.ID)
}
