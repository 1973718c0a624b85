// ABOUTME: Tests for the stream session controller against httptest servers and piped bodies
// ABOUTME: Covers request shape, chunking, terminal events, failures, cancellation and supersession

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/otto/internal/auth"
	"github.com/2389/otto/internal/transcript"
)

// memTarget is a minimal Target guarded by a mutex.
type memTarget struct {
	mu sync.Mutex
	st transcript.State
}

func newMemTarget(msgs ...transcript.Message) *memTarget {
	st := transcript.NewState()
	st.Messages = msgs
	return &memTarget{st: st}
}

func (m *memTarget) Snapshot() transcript.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Clone()
}

func (m *memTarget) Mutate(fn func(*transcript.State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.st)
}

func testReducer() transcript.Reducer {
	n := 0
	var mu sync.Mutex
	return transcript.Reducer{NewID: func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("m%03d", n)
	}}
}

func newController(t *testing.T, baseURL string, client *http.Client, target Target) *Controller {
	t.Helper()
	c, err := New(Config{
		BaseURL:     baseURL,
		HTTPClient:  client,
		Credentials: auth.StaticToken("tok-123"),
		Reducer:     testReducer(),
	}, target)
	require.NoError(t, err)
	return c
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

// writeFrames writes each frame and flushes, pausing between writes so the
// client sees separate chunks.
func writeFrames(w http.ResponseWriter, frames ...string) {
	flusher := w.(http.Flusher)
	for _, f := range frames {
		fmt.Fprint(w, f)
		flusher.Flush()
		time.Sleep(5 * time.Millisecond)
	}
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Config{}, newMemTarget())
	assert.ErrorIs(t, err, ErrNoBaseURL)
}

func TestBegin_RequestShape(t *testing.T) {
	type captured struct {
		method, token, accept string
		body                  map[string]any
	}
	got := make(chan captured, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- captured{
			method: r.Method,
			token:  r.URL.Query().Get("token"),
			accept: r.Header.Get("Accept"),
			body:   body,
		}
		sseHeaders(w)
		writeFrames(w, "data: {\"done\":true}\n\n")
	}))
	defer srv.Close()

	r := testReducer()
	target := newMemTarget(
		r.NewMessage(transcript.RoleUser, "oi"),
		r.NewMessage(transcript.RoleTool, "{}"),
		r.NewMessage(transcript.RoleAssistant, "olá"),
		r.NewMessage(transcript.RoleUser, "cadastre um produto"),
	)
	c := newController(t, srv.URL, srv.Client(), target)

	c.Begin("cadastre um produto", "products")
	waitDone(t, c)

	req := <-got
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "tok-123", req.token)
	assert.Equal(t, "text/event-stream", req.accept)
	assert.Equal(t, "cadastre um produto", req.body["input"])
	assert.Equal(t, "products", req.body["page_key"])
	assert.Equal(t, []any{
		map[string]any{"role": "user", "content": "oi"},
		map[string]any{"role": "assistant", "content": "olá"},
		map[string]any{"role": "user", "content": "cadastre um produto"},
	}, req.body["history"])
}

func TestBegin_NullPageKey(t *testing.T) {
	got := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- body
		sseHeaders(w)
	}))
	defer srv.Close()

	c := newController(t, srv.URL, srv.Client(), newMemTarget())
	c.Begin("oi", "")
	waitDone(t, c)

	body := <-got
	pageKey, present := body["page_key"]
	assert.True(t, present)
	assert.Nil(t, pageKey)
	assert.Equal(t, []any{}, body["history"])
}

func TestStream_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		writeFrames(w,
			"data: {\"content\":\"Hi\"}\n\n",
			"data: {\"done\":true,\"content\":\"Hi there\"}\n\n",
		)
	}))
	defer srv.Close()

	target := newMemTarget()
	c := newController(t, srv.URL, srv.Client(), target)

	c.Begin("hello", "")
	waitDone(t, c)

	st := target.Snapshot()
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "Hi there", st.Messages[0].Content)
	assert.False(t, st.Messages[0].Streaming)
	assert.Equal(t, transcript.StatusDone, st.Status)
	assert.Empty(t, st.Error)
	assert.False(t, running(c))
}

func TestStream_FrameSplitAcrossWrites(t *testing.T) {
	payload := "data: {\"content\":\"Hel\"}\n\ndata: {\"content\":\"lo\"}\n\ndata: {\"done\":true,\"content\":\"Hello!\"}\n\n"

	for _, offset := range []int{1, 7, 20, 24, 25, 40, len(payload) - 1} {
		t.Run(fmt.Sprintf("offset_%d", offset), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sseHeaders(w)
				writeFrames(w, payload[:offset], payload[offset:])
			}))
			defer srv.Close()

			target := newMemTarget()
			c := newController(t, srv.URL, srv.Client(), target)
			c.Begin("x", "")
			waitDone(t, c)

			st := target.Snapshot()
			require.Len(t, st.Messages, 1)
			assert.Equal(t, "Hello!", st.Messages[0].Content)
			assert.Equal(t, transcript.StatusDone, st.Status)
		})
	}
}

func TestStream_MalformedFrameSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		writeFrames(w,
			"data: {\"content\":\"a\"}\n\n",
			"data: {oops}\n\n",
			"data: {\"content\":\"b\"}\n\n",
		)
	}))
	defer srv.Close()

	target := newMemTarget()
	c := newController(t, srv.URL, srv.Client(), target)
	c.Begin("x", "")
	waitDone(t, c)

	st := target.Snapshot()
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "ab", st.Messages[0].Content)
	assert.Equal(t, transcript.StatusDone, st.Status)
	assert.Empty(t, st.Error)
}

func TestStream_FormEndsTurnAndClosesConnection(t *testing.T) {
	disconnected := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		writeFrames(w, "data: {\"role\":\"form\",\"schema\":[{\"id\":\"name\",\"type\":\"text\"}],\"data\":{}}\n\n")
		// Keep the connection open; the client must hang up on its own
		<-r.Context().Done()
		// Anything sent now must never be applied
		fmt.Fprint(w, "data: {\"content\":\"late\"}\n\n")
		close(disconnected)
	}))
	defer srv.Close()

	target := newMemTarget()
	c := newController(t, srv.URL, srv.Client(), target)
	c.Begin("novo produto", "")
	waitDone(t, c)

	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not close the connection after the form event")
	}

	st := target.Snapshot()
	require.Len(t, st.Messages, 1)
	assert.Equal(t, transcript.RoleForm, st.Messages[0].Role)
	assert.Equal(t, transcript.StatusDone, st.Status)
}

func TestStream_LateEventAfterFormInSameChunkIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		writeFrames(w, "data: {\"role\":\"form\"}\n\ndata: {\"content\":\"late\"}\n\n")
	}))
	defer srv.Close()

	target := newMemTarget()
	c := newController(t, srv.URL, srv.Client(), target)
	c.Begin("x", "")
	waitDone(t, c)

	st := target.Snapshot()
	require.Len(t, st.Messages, 1)
	assert.Equal(t, transcript.RoleForm, st.Messages[0].Role)
}

func TestStream_EOFWithoutTerminalResolvesDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		writeFrames(w, "data: {\"content\":\"partial answer\"}\n\n", "data: {\"content\":\"never termin")
	}))
	defer srv.Close()

	target := newMemTarget()
	c := newController(t, srv.URL, srv.Client(), target)
	c.Begin("x", "")
	waitDone(t, c)

	st := target.Snapshot()
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "partial answer", st.Messages[0].Content)
	assert.False(t, st.Messages[0].Streaming)
	assert.Equal(t, transcript.StatusDone, st.Status)
}

func TestStream_SystemErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		writeFrames(w, "data: {\"role\":\"system\",\"content\":\"Erro na chamada ao LLM: 503\",\"done\":true}\n\n")
	}))
	defer srv.Close()

	target := newMemTarget()
	c := newController(t, srv.URL, srv.Client(), target)
	c.Begin("x", "")
	waitDone(t, c)

	st := target.Snapshot()
	require.Len(t, st.Messages, 1, "protocol errors are shown in the transcript")
	assert.Equal(t, transcript.RoleSystem, st.Messages[0].Role)
	assert.Equal(t, transcript.StatusError, st.Status)
	assert.Equal(t, "Erro na chamada ao LLM: 503", st.Error)
}

func TestStream_NonSuccessStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		ctype   string
		body    string
		wantErr string
	}{
		{
			name:    "fastapi detail",
			status:  http.StatusUnauthorized,
			ctype:   "application/json",
			body:    `{"detail":"Invalid or expired token"}`,
			wantErr: "server returned status 401: Invalid or expired token",
		},
		{
			name:    "error field",
			status:  http.StatusServiceUnavailable,
			ctype:   "application/json",
			body:    `{"error":"agent unavailable"}`,
			wantErr: "server returned status 503: agent unavailable",
		},
		{
			name:    "plain text",
			status:  http.StatusBadGateway,
			ctype:   "text/plain",
			body:    "upstream down\n",
			wantErr: "server returned status 502: upstream down",
		},
		{
			name:    "empty body",
			status:  http.StatusInternalServerError,
			wantErr: "server returned status 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.ctype != "" {
					w.Header().Set("Content-Type", tt.ctype)
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			r := testReducer()
			target := newMemTarget(r.NewMessage(transcript.RoleUser, "oi"))
			c := newController(t, srv.URL, srv.Client(), target)
			c.Begin("oi", "")
			waitDone(t, c)

			st := target.Snapshot()
			assert.Len(t, st.Messages, 1, "transport failures add no message")
			assert.Equal(t, transcript.StatusError, st.Status)
			assert.Equal(t, tt.wantErr, st.Error)
		})
	}
}

func TestStream_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	target := newMemTarget()
	c := newController(t, url, nil, target)
	c.Begin("oi", "")
	waitDone(t, c)

	st := target.Snapshot()
	assert.Empty(t, st.Messages)
	assert.Equal(t, transcript.StatusError, st.Status)
	assert.Contains(t, st.Error, "sending request")
}

func TestStream_CredentialFailure(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	target := newMemTarget()
	c, err := New(Config{
		BaseURL:     srv.URL,
		Credentials: auth.StaticToken(""),
	}, target)
	require.NoError(t, err)

	c.Begin("oi", "")
	waitDone(t, c)

	st := target.Snapshot()
	assert.Equal(t, transcript.StatusError, st.Status)
	assert.Contains(t, st.Error, "authentication failed")
	assert.False(t, called)
}

// pipeBody is a response body fed by the test. It ignores request
// cancellation so bytes can arrive after a session was superseded.
type pipeBody struct {
	*io.PipeReader
	once   sync.Once
	closed chan struct{}
}

func (b *pipeBody) Close() error {
	b.once.Do(func() { close(b.closed) })
	return b.PipeReader.Close()
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// pipeClient returns a client whose n-th request is answered by the n-th
// pipe body.
func pipeClient(bodies ...*pipeBody) *http.Client {
	var mu sync.Mutex
	next := 0
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		mu.Lock()
		body := bodies[next]
		next++
		mu.Unlock()
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
			Body:       body,
			Request:    r,
		}, nil
	})}
}

func newPipe() (*pipeBody, *io.PipeWriter) {
	r, w := io.Pipe()
	return &pipeBody{PipeReader: r, closed: make(chan struct{})}, w
}

func waitMessages(t *testing.T, target *memTarget, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(target.Snapshot().Messages) == n
	}, 5*time.Second, time.Millisecond)
}

func waitClosed(t *testing.T, b *pipeBody) {
	t.Helper()
	select {
	case <-b.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("body was not closed")
	}
}

func TestStream_SupersededSessionAppliesNothing(t *testing.T) {
	bodyA, writerA := newPipe()
	bodyB, writerB := newPipe()
	target := newMemTarget()
	c := newController(t, "http://otto.test", pipeClient(bodyA, bodyB), target)

	c.Begin("first", "")
	_, err := io.WriteString(writerA, "data: {\"content\":\"from A\"}\n\n")
	require.NoError(t, err)
	waitMessages(t, target, 1)

	c.Begin("second", "")

	// A's bytes arrive after B began, already past the transport
	_, err = io.WriteString(writerA, "data: {\"content\":\" more A\"}\n\ndata: {\"done\":true,\"content\":\"A final\"}\n\n")
	require.NoError(t, err)
	waitClosed(t, bodyA)

	_, err = io.WriteString(writerB, "data: {\"content\":\"from B\"}\n\ndata: {\"done\":true}\n\n")
	require.NoError(t, err)
	waitDone(t, c)
	_ = writerB.Close()

	st := target.Snapshot()
	require.Len(t, st.Messages, 2)
	assert.Equal(t, "from A", st.Messages[0].Content, "A's pre-cancel text stays, nothing later")
	assert.Equal(t, "from B", st.Messages[1].Content)
	assert.Equal(t, transcript.StatusDone, st.Status)
}

func TestCancel_LeavesStateUntouched(t *testing.T) {
	body, writer := newPipe()
	target := newMemTarget()
	c := newController(t, "http://otto.test", pipeClient(body), target)

	c.Begin("x", "")
	_, err := io.WriteString(writer, "data: {\"content\":\"meia resposta\"}\n\n")
	require.NoError(t, err)
	waitMessages(t, target, 1)

	before := target.Snapshot()
	c.Cancel()
	assert.False(t, running(c))

	// Bytes still in flight after the cancel are dropped
	_, _ = io.WriteString(writer, "data: {\"content\":\" resto\"}\n\n")
	waitClosed(t, body)

	after := target.Snapshot()
	assert.Equal(t, before, after)
	assert.Equal(t, transcript.StatusStreaming, after.Status)
	require.Len(t, after.Messages, 1)
	assert.Equal(t, "meia resposta", after.Messages[0].Content)
}

func running(c *Controller) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

func TestCancel_Idempotent(t *testing.T) {
	c := newController(t, "http://otto.test", nil, newMemTarget())
	c.Cancel()
	c.Cancel()
	assert.False(t, running(c))
}

func TestStream_ReadError(t *testing.T) {
	body, writer := newPipe()
	target := newMemTarget()
	c := newController(t, "http://otto.test", pipeClient(body), target)

	c.Begin("x", "")
	_, err := io.WriteString(writer, "data: {\"content\":\"antes\"}\n\n")
	require.NoError(t, err)
	writer.CloseWithError(errors.New("connection reset by peer"))
	waitDone(t, c)

	st := target.Snapshot()
	require.Len(t, st.Messages, 1, "partial text stays visible")
	assert.Equal(t, "antes", st.Messages[0].Content)
	assert.Equal(t, transcript.StatusError, st.Status)
	assert.True(t, strings.HasPrefix(st.Error, "reading stream:"), st.Error)
}

func TestWait_ContextExpires(t *testing.T) {
	body, writer := newPipe()
	defer writer.Close()
	c := newController(t, "http://otto.test", pipeClient(body), newMemTarget())

	c.Begin("x", "")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)
	c.Cancel()
}
