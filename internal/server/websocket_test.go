package server_test

import (
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvents(conn *websocket.Conn, wait time.Duration) <-chan map[string]any {
	out := make(chan map[string]any, 16)
	go func() {
		defer close(out)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(wait))
			var event map[string]any
			if err := conn.ReadJSON(&event); err != nil {
				return
			}
			out <- event
		}
	}()
	return out
}

func TestWebsocketDeliversLiveNotifications(t *testing.T) {
	t.Parallel()

	env := newTestServer(t)
	ana, bo := seed(t, env)

	observer := dialWS(t, env, "?project=alpha")
	watcher := dialWS(t, env, "?project=alpha&user="+strconv.FormatInt(bo, 10))
	author := dialWS(t, env, "?project=alpha&user="+strconv.FormatInt(ana, 10))

	observed := readEvents(observer, 2*time.Second)
	watched := readEvents(watcher, 2*time.Second)
	authored := readEvents(author, 500*time.Millisecond)

	// Registration goes through the hub loop; give it a moment.
	time.Sleep(100 * time.Millisecond)

	resp := doJSONAs(t, env.url("/projects/alpha/task"), http.MethodPost, ana, map[string]any{
		"fields":   map[string]any{"subject": "Live"},
		"watchers": []int64{bo},
	})
	requireStatus(t, http.StatusCreated, resp)

	for name, ch := range map[string]<-chan map[string]any{"observer": observed, "watcher": watched} {
		select {
		case event, ok := <-ch:
			require.Truef(t, ok, "%s connection closed", name)
			require.Equal(t, "entity.created", event["type"])
			require.Equal(t, "task", event["kind"])
		case <-time.After(3 * time.Second):
			require.Failf(t, "timed out", "%s got no event", name)
		}
	}

	for event := range authored {
		require.Failf(t, "author must not be notified of their own change", "event: %#v", event)
	}
}

func TestWebsocketProjectFilter(t *testing.T) {
	t.Parallel()

	env := newTestServer(t)
	ana, _ := seed(t, env)
	other := doJSON(t, env.url("/projects"), http.MethodPost, map[string]string{"slug": "beta", "name": "Beta"})
	require.Equal(t, http.StatusCreated, other.StatusCode)
	member := doJSON(t, env.url("/projects/beta/members/%d", ana), http.MethodPut, map[string]any{})
	require.Equal(t, http.StatusNoContent, member.StatusCode)

	events := readEvents(dialWS(t, env, "?project=alpha"), 2*time.Second)
	time.Sleep(100 * time.Millisecond)

	beta := doJSONAs(t, env.url("/projects/beta/issue"), http.MethodPost, ana, map[string]any{
		"fields": map[string]any{"subject": "beta issue"},
	})
	requireStatus(t, http.StatusCreated, beta)
	alpha := doJSONAs(t, env.url("/projects/alpha/issue"), http.MethodPost, ana, map[string]any{
		"fields": map[string]any{"subject": "alpha issue"},
	})
	requireStatus(t, http.StatusCreated, alpha)
	alphaID := decode[changeBody](t, alpha).Entity.ID

	select {
	case event := <-events:
		require.Equal(t, "entity.created", event["type"])
		require.EqualValues(t, alphaID, event["entity_id"])
	case <-time.After(3 * time.Second):
		require.Fail(t, "timed out waiting for alpha event")
	}
}

func TestWebsocketRejectsUnknownProject(t *testing.T) {
	t.Parallel()

	env := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws?project=missing"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
