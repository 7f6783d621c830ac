package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/simonjohansson/tracker/internal/server"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	app  *server.Server
	http *httptest.Server
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	return newTestServerWith(t, server.Options{})
}

func newTestServerWith(t *testing.T, opts server.Options) *testEnv {
	t.Helper()
	opts.SQLitePath = filepath.Join(t.TempDir(), "tracker.db")
	opts.DisableWorker = true
	opts.StrictSquash = true
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	app, err := server.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	httpServer := httptest.NewServer(app.Handler())
	t.Cleanup(httpServer.Close)
	return &testEnv{app: app, http: httpServer}
}

func (e *testEnv) url(format string, args ...any) string {
	return e.http.URL + fmt.Sprintf(format, args...)
}

func doJSON(t *testing.T, url, method string, payload any) *http.Response {
	t.Helper()
	return doJSONAs(t, url, method, 0, payload)
}

func doJSONAs(t *testing.T, url, method string, userID int64, payload any) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID > 0 {
		req.Header.Set("X-User-Id", fmt.Sprint(userID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func doRaw(t *testing.T, url, method, payload, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewBufferString(payload))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func decodeMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	return decode[map[string]any](t, resp)
}

func readBody(t *testing.T, reader io.Reader) []byte {
	t.Helper()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	return data
}

// seed creates project alpha with members ana and bo and returns their
// user ids.
func seed(t *testing.T, env *testEnv) (ana, bo int64) {
	t.Helper()
	resp := doJSON(t, env.url("/projects"), http.MethodPost, map[string]string{"slug": "alpha", "name": "Alpha"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ids := make([]int64, 0, 2)
	for _, name := range []string{"ana", "bo"} {
		resp := doJSON(t, env.url("/users"), http.MethodPost, map[string]string{
			"username":  name,
			"full_name": name,
			"email":     name + "@example.com",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		user := decodeMap(t, resp)
		id := int64(user["id"].(float64))
		member := doJSON(t, env.url("/projects/alpha/members/%d", id), http.MethodPut, map[string]any{})
		require.Equal(t, http.StatusNoContent, member.StatusCode)
		ids = append(ids, id)
	}
	return ids[0], ids[1]
}

type changeBody struct {
	Entity struct {
		ID      int64 `json:"id"`
		Version int   `json:"version"`
	} `json:"entity"`
	Entry struct {
		ID         string         `json:"id"`
		Type       string         `json:"type"`
		IsHidden   bool           `json:"is_hidden"`
		ValuesDiff map[string]any `json:"values_diff"`
		Comment    string         `json:"comment"`
	} `json:"entry"`
}

func createTask(t *testing.T, env *testEnv, author int64, subject string) changeBody {
	t.Helper()
	resp := doJSONAs(t, env.url("/projects/alpha/task"), http.MethodPost, author, map[string]any{
		"fields": map[string]any{"subject": subject, "status": "New"},
	})
	requireStatus(t, http.StatusCreated, resp)
	return decode[changeBody](t, resp)
}

// requireStatus reports the response body when the status differs.
func requireStatus(t *testing.T, want int, resp *http.Response) {
	t.Helper()
	if resp.StatusCode != want {
		require.Failf(t, "unexpected status", "want %d, got %d: %s", want, resp.StatusCode, readBody(t, resp.Body))
	}
}
