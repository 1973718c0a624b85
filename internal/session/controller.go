// ABOUTME: Stream session controller that owns the single live Otto stream
// ABOUTME: Posts the turn request, parses frames, reduces events and applies them in order

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/2389/otto/internal/auth"
	"github.com/2389/otto/internal/sse"
	"github.com/2389/otto/internal/transcript"
)

const (
	// DefaultStreamPath is the backend's streaming endpoint.
	DefaultStreamPath = "/api/otto/stream"
	// defaultReadBufferSize bounds a single read from the response body.
	defaultReadBufferSize = 4096
	// maxErrorBodySize caps how much of an error response is read.
	maxErrorBodySize = 4096
)

// ErrNoBaseURL is returned by New when the config has no backend URL.
var ErrNoBaseURL = errors.New("base URL required")

// Target is the shared conversation state a Controller reads history from
// and applies reductions to.
type Target interface {
	Snapshot() transcript.State
	Mutate(fn func(*transcript.State))
}

// Config holds the controller's collaborators.
type Config struct {
	BaseURL    string
	StreamPath string
	// HTTPClient must not set a Timeout; streams stay open until the
	// backend ends them. Nil means a fresh client.
	HTTPClient *http.Client
	// Credentials is read once per Begin. Nil sends no token.
	Credentials    auth.CredentialProvider
	Reducer        transcript.Reducer
	Logger         *slog.Logger
	ReadBufferSize int
}

// Request is the JSON body of one turn.
type Request struct {
	Input   string                    `json:"input"`
	PageKey *string                   `json:"page_key"`
	History []transcript.HistoryEntry `json:"history"`
}

// ResponseError reports a non-success HTTP status from the backend.
type ResponseError struct {
	StatusCode int
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// Controller runs at most one stream at a time. Starting a new one discards
// the previous one; it is last-writer-wins, not a queue.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	client  *http.Client
	target  Target
	logger  *slog.Logger
	current *stream
	seq     uint64
}

// stream is the per-turn handle. Cursor and parse buffer live on the
// reading goroutine's stack, not here.
type stream struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// New creates a controller applying events to target.
func New(cfg Config, target Target) (*Controller, error) {
	if cfg.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	if cfg.StreamPath == "" {
		cfg.StreamPath = DefaultStreamPath
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &Controller{
		cfg:    cfg,
		client: client,
		target: target,
		logger: logger.With("component", "session"),
	}, nil
}

// Begin cancels any running stream and starts a new one for input. It
// returns once the request is dispatched; the response is consumed in the
// background. Failures surface as an error status on the target.
func (c *Controller) Begin(input, pageKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLocked()
	c.seq++
	s := &stream{
		id:     c.seq,
		done:   make(chan struct{}),
		logger: c.logger.With("session", c.seq),
	}

	token, err := c.token()
	if err != nil {
		close(s.done)
		s.logger.Warn("no credentials for session", "error", err)
		c.target.Mutate(func(st *transcript.State) {
			st.Status = transcript.StatusError
			st.Error = fmt.Sprintf("authentication failed: %v", err)
		})
		return
	}

	req := Request{
		Input:   input,
		History: transcript.History(c.target.Snapshot().Messages),
	}
	if pageKey != "" {
		req.PageKey = &pageKey
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	c.current = s

	c.target.Mutate(func(st *transcript.State) {
		st.Status = transcript.StatusStreaming
		st.Error = ""
	})

	s.logger.Debug("session started",
		"input_len", len(input),
		"page_key", pageKey,
		"history", len(req.History))

	go c.run(ctx, s, token, req)
}

// Cancel aborts the running stream, if any. State is left exactly as it is.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
}

// Wait blocks until no stream is running or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		s := c.current
		c.mu.Unlock()
		if s == nil {
			return nil
		}

		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// cancelLocked drops the current stream. Must be called with mu held.
func (c *Controller) cancelLocked() {
	if c.current == nil {
		return
	}
	c.current.cancel()
	c.current.logger.Debug("session cancelled")
	c.current = nil
}

func (c *Controller) token() (string, error) {
	if c.cfg.Credentials == nil {
		return "", nil
	}
	return c.cfg.Credentials.Token()
}

// run consumes the response body. It is the only goroutine touching the
// parser and cursor of s.
func (c *Controller) run(ctx context.Context, s *stream, token string, req Request) {
	defer close(s.done)
	defer s.cancel()

	resp, err := c.open(ctx, token, req)
	if err != nil {
		c.fail(s, err)
		return
	}
	defer resp.Body.Close()

	parser := sse.NewParser(s.logger)
	var cursor transcript.Cursor
	buf := make([]byte, c.cfg.ReadBufferSize)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, ev := range parser.Feed(buf[:n]) {
				var ended bool
				cursor, ended = c.apply(s, cursor, ev)
				if ended {
					return
				}
			}
		}

		if errors.Is(readErr, io.EOF) {
			if len(parser.Pending()) > 0 {
				s.logger.Debug("discarding unterminated frame", "bytes", len(parser.Pending()))
			}
			c.finish(s)
			return
		}
		if readErr != nil {
			c.fail(s, fmt.Errorf("reading stream: %w", readErr))
			return
		}
	}
}

// apply reduces one event into the target if s is still current. It
// returns the next cursor and whether reading should stop.
func (c *Controller) apply(s *stream, cursor transcript.Cursor, ev sse.Event) (transcript.Cursor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != s {
		return cursor, true
	}

	var out transcript.Outcome
	c.target.Mutate(func(st *transcript.State) {
		st.Messages, cursor, out = c.cfg.Reducer.Reduce(st.Messages, cursor, ev)
		if out.Terminal {
			st.Status = out.Status
			st.Error = out.Error
		}
	})

	if out.Terminal {
		s.logger.Debug("session ended by terminal event", "status", out.Status)
		c.current = nil
	}
	return cursor, out.Terminal
}

// finish resolves a stream that closed without a terminal event.
func (c *Controller) finish(s *stream) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != s {
		return
	}
	c.current = nil

	s.logger.Debug("stream closed without terminal event")
	c.target.Mutate(func(st *transcript.State) {
		st.Messages = transcript.FinalizeStreaming(st.Messages)
		st.Status = transcript.StatusDone
		st.Error = ""
	})
}

// fail records a transport failure unless s was cancelled or superseded.
func (c *Controller) fail(s *stream, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != s {
		return
	}
	c.current = nil

	s.logger.Warn("stream failed", "error", err)
	c.target.Mutate(func(st *transcript.State) {
		st.Status = transcript.StatusError
		st.Error = err.Error()
	})
}

// open posts the turn request and returns the streaming response.
func (c *Controller) open(ctx context.Context, token string, req Request) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint, err := c.endpoint(token)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}
	return resp, nil
}

// endpoint builds the stream URL; the token travels as a query parameter.
func (c *Controller) endpoint(token string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(c.cfg.BaseURL, "/") + c.cfg.StreamPath)
	if err != nil {
		return "", fmt.Errorf("parsing stream URL: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// responseError extracts a message from a non-success response. FastAPI
// puts it in "detail", the gateway-style handlers in "error".
func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	var payload struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil {
		switch detail := payload.Detail.(type) {
		case string:
			if detail != "" {
				return &ResponseError{StatusCode: resp.StatusCode, Message: detail}
			}
		case nil:
		default:
			// Validation errors arrive as a list of objects
			if encoded, err := json.Marshal(detail); err == nil {
				return &ResponseError{StatusCode: resp.StatusCode, Message: string(encoded)}
			}
		}
		if payload.Error != "" {
			return &ResponseError{StatusCode: resp.StatusCode, Message: payload.Error}
		}
	}

	return &ResponseError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}
