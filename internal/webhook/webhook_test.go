package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/simonjohansson/tracker/internal/model"
	"github.com/stretchr/testify/require"
)

func testEntry() model.HistoryEntry {
	author := int64(7)
	return model.HistoryEntry{
		ID:        "entry-1",
		Kind:      model.KindTask,
		EntityID:  3,
		AuthorID:  &author,
		Type:      model.HistoryChange,
		CreatedAt: time.Date(2024, 3, 4, 5, 6, 7, 0, time.FixedZone("CET", 3600)),
		Comment:   "done",
		ValuesDiff: model.ValuesDiff{
			"status":      []any{"New", "Done"},
			"description": []any{"a", "b"},
		},
		Snapshot: model.Snapshot{"id": float64(3), "subject": "Write docs"},
	}
}

func TestBuildPayloadIsStable(t *testing.T) {
	t.Parallel()
	author := &model.User{ID: 7, Username: "ana", FullName: "Ana A"}

	body, err := Encode(BuildPayload(testEntry(), author))
	require.NoError(t, err)
	require.JSONEq(t, `{
		"action": "change",
		"type": "task",
		"by": {"id": 7, "username": "ana", "full_name": "Ana A"},
		"date": "2024-03-04T04:06:07+0000",
		"data": {"id": 3, "subject": "Write docs"},
		"change": {"comment": "done", "diff": {"status": ["New", "Done"]}}
	}`, string(body))

	again, err := Encode(BuildPayload(testEntry(), author))
	require.NoError(t, err)
	require.Equal(t, body, again)
}

func TestBuildPayloadWithoutAuthorOrChange(t *testing.T) {
	t.Parallel()
	entry := testEntry()
	entry.Type = model.HistoryCreate

	p := BuildPayload(entry, nil)
	require.Equal(t, SystemAuthor, p.By)
	require.Equal(t, "create", p.Action)
	require.Nil(t, p.Change)

	test := TestPayload(entry.CreatedAt, nil)
	require.Equal(t, "test", test.Action)
	require.Equal(t, map[string]any{"test": "test"}, test.Data)
}

func TestSignMatchesKnownVectors(t *testing.T) {
	t.Parallel()
	body := []byte(`{"a":1}`)

	legacy, modern := Sign("secret", body)
	require.Equal(t, "f8446672f033e4b2beafc5ca3a71eafcd2cafb6e", legacy)
	require.Equal(t, "aa9e2e3575f5d7098b6caccd790888c36d5fdb63342a73bada2d6a51747a8494", modern)

	headers := Headers("secret", body)
	require.Equal(t, "application/json", headers["Content-Type"])
	require.Equal(t, legacy, headers[LegacySignatureHeader])
	require.Equal(t, "sha1="+legacy+",sha256="+modern, headers[SignatureHeader])

	require.True(t, Verify("secret", body, headers[SignatureHeader]))
	require.True(t, Verify("secret", body, legacy))
	require.False(t, Verify("other", body, headers[SignatureHeader]))
}

func TestSenderPostsSignedBody(t *testing.T) {
	t.Parallel()
	var (
		gotBody      string
		gotSignature string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		gotSignature = r.Header.Get(SignatureHeader)
		w.Header().Set("X-Reply", "ok")
		_, _ = w.Write([]byte("thanks"))
	}))
	t.Cleanup(srv.Close)

	sender := NewSender(Options{})
	res, err := sender.Send(context.Background(), Request{URL: srv.URL, Key: "secret", Body: []byte(`{"a":1}`)})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "thanks", res.ResponseBody)
	require.Equal(t, "ok", res.ResponseHeaders["X-Reply"])
	require.Equal(t, `{"a":1}`, gotBody)
	require.True(t, Verify("secret", []byte(gotBody), gotSignature))
}

func TestSenderClassifiesFailures(t *testing.T) {
	t.Parallel()
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(strings.Repeat("x", MaxResponseBody+10)))
	}))
	t.Cleanup(srv.Close)
	sender := NewSender(Options{RatePerHost: 100, Burst: 5})

	res, err := sender.Send(context.Background(), Request{URL: srv.URL, Key: "k", Body: []byte("{}")})
	var deliveryErr *DeliveryError
	require.True(t, errors.As(err, &deliveryErr))
	require.Equal(t, http.StatusServiceUnavailable, deliveryErr.StatusCode)
	require.True(t, deliveryErr.Retryable)
	require.Len(t, res.ResponseBody, MaxResponseBody)

	for _, code := range []int{http.StatusNotFound, http.StatusGone, http.StatusBadRequest} {
		status.Store(int32(code))
		_, err = sender.Send(context.Background(), Request{URL: srv.URL, Key: "k", Body: []byte("{}")})
		require.True(t, errors.As(err, &deliveryErr))
		require.Equal(t, code, deliveryErr.StatusCode)
		require.True(t, deliveryErr.Retryable, "status %d", code)
	}

	_, err = sender.Send(context.Background(), Request{URL: "not a url", Key: "k", Body: []byte("{}")})
	require.True(t, errors.As(err, &deliveryErr))
	require.False(t, deliveryErr.Retryable)

	srv.Close()
	_, err = sender.Send(context.Background(), Request{URL: srv.URL, Key: "k", Body: []byte("{}")})
	require.True(t, errors.As(err, &deliveryErr))
	require.True(t, deliveryErr.Retryable)
	require.Zero(t, deliveryErr.StatusCode)
}
