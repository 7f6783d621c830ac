package tracker_test

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type runResult struct {
	exitCode int
	stdout   string
	stderr   string
	combined string
}

func buildTrackerBinary(t *testing.T) string {
	t.Helper()

	binPath := filepath.Join(t.TempDir(), "tracker")
	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/tracker")
	cmd.Dir = "."
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return binPath
}

// isolatedEnv points HOME at a temp dir so the binary never touches the
// real config file.
func isolatedEnv(t *testing.T, extra ...string) []string {
	t.Helper()
	env := make([]string, 0, len(os.Environ())+len(extra)+1)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "TRACKER_") || strings.HasPrefix(kv, "HOME=") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, "HOME="+t.TempDir())
	return append(env, extra...)
}

func runTracker(t *testing.T, bin string, env []string, args ...string) runResult {
	t.Helper()

	cmd := exec.Command(bin, args...)
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	code := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		require.True(t, ok, err)
		code = exitErr.ExitCode()
	}

	return runResult{
		exitCode: code,
		stdout:   stdout.String(),
		stderr:   stderr.String(),
		combined: stdout.String() + stderr.String(),
	}
}

func decodeStdout(t *testing.T, result runResult) map[string]any {
	t.Helper()
	require.Equal(t, 0, result.exitCode, result.combined)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(result.stdout)), &out), result.stdout)
	return out
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestTrackerShowsHelpByDefault(t *testing.T) {
	bin := buildTrackerBinary(t)

	result := runTracker(t, bin, isolatedEnv(t))
	require.Equal(t, 0, result.exitCode, result.combined)
	require.Contains(t, result.stdout, "Usage:")
	require.Contains(t, result.stdout, "tracker [command]")
	for _, name := range []string{"serve", "migrate", "entity", "history", "policy", "webhook", "watch", "primer"} {
		require.Contains(t, result.stdout, name)
	}
}

func TestTrackerPrimerCommandSupportsJSON(t *testing.T) {
	bin := buildTrackerBinary(t)

	payload := decodeStdout(t, runTracker(t, bin, isolatedEnv(t), "--output", "json", "primer"))
	require.Equal(t, "tracker", payload["name"])
	require.NotEmpty(t, payload["command_templates"])
}

func TestTrackerReportsUnreachableBackend(t *testing.T) {
	bin := buildTrackerBinary(t)

	env := isolatedEnv(t, "TRACKER_SERVER_URL=http://"+freeAddr(t), "TRACKER_OUTPUT=json")
	result := runTracker(t, bin, env, "project", "get", "alpha")
	require.Equal(t, 1, result.exitCode)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(result.stderr)), &body), result.stderr)
	require.Equal(t, float64(http.StatusBadGateway), body["status"])
}

func TestTrackerWatchExitsOnInterrupt(t *testing.T) {
	bin := buildTrackerBinary(t)

	connected := make(chan string, 1)
	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		connected <- r.URL.RawQuery
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cmd := exec.Command(bin, "--server-url", server.URL, "--output", "json", "--as", "2", "watch", "-p", "alpha")
	cmd.Env = isolatedEnv(t)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	require.NoError(t, cmd.Start())

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	select {
	case query := <-connected:
		require.Equal(t, "project=alpha&user=2", query)
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
		<-waitCh
		require.Fail(t, "watch did not connect")
	}

	require.NoError(t, cmd.Process.Signal(os.Interrupt))

	select {
	case err := <-waitCh:
		require.NoError(t, err, stdout.String()+stderr.String())
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
		<-waitCh
		require.Fail(t, "watch did not exit after interrupt")
	}
}
