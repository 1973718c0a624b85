// ABOUTME: Conversation engine owning the transcript, status and error of one Otto conversation
// ABOUTME: Exposes Send, SubmitForm, RespondInteractive, Reset and Cancel plus snapshot subscriptions

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/2389/otto/internal/auth"
	"github.com/2389/otto/internal/session"
	"github.com/2389/otto/internal/transcript"
)

// Config holds what an Engine needs to reach the backend.
type Config struct {
	BaseURL     string
	StreamPath  string
	HTTPClient  *http.Client
	Credentials auth.CredentialProvider
	Logger      *slog.Logger

	// Initial seeds the transcript, e.g. when resuming a saved conversation.
	Initial transcript.Transcript

	// NewID and Now override message id and timestamp generation.
	NewID func() string
	Now   func() time.Time

	ReadBufferSize int
}

// Engine is the façade presentation layers drive. Commands are safe to call
// from any goroutine; state is only changed through the reducer or the
// explicit commands here.
//
// Locking: commands serialize on cmdMu. The session controller takes its
// own lock before mu, so the engine never calls into the controller while
// holding mu. The order is cmdMu, then the controller, then mu.
type Engine struct {
	cmdMu       sync.Mutex
	mu          sync.Mutex
	state       transcript.State
	pageKey     string
	reducer     transcript.Reducer
	session     *session.Controller
	broadcaster *Broadcaster
	logger      *slog.Logger
}

// New creates an engine with an idle state seeded from cfg.Initial.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		state:       transcript.NewState(),
		reducer:     transcript.Reducer{NewID: cfg.NewID, Now: cfg.Now},
		broadcaster: NewBroadcaster(logger),
		logger:      logger.With("component", "engine"),
	}
	e.state.Messages = transcript.FinalizeStreaming(cfg.Initial.Clone())

	ctrl, err := session.New(session.Config{
		BaseURL:        cfg.BaseURL,
		StreamPath:     cfg.StreamPath,
		HTTPClient:     cfg.HTTPClient,
		Credentials:    cfg.Credentials,
		Reducer:        e.reducer,
		Logger:         logger,
		ReadBufferSize: cfg.ReadBufferSize,
	}, target{e})
	if err != nil {
		return nil, fmt.Errorf("creating session controller: %w", err)
	}
	e.session = ctrl

	return e, nil
}

// Send appends the user's message and starts a turn for it. pageKey names
// the page the user is on; empty means none.
func (e *Engine) Send(input, pageKey string) {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	// Stop the old turn first so none of its events land after the new
	// user message.
	e.session.Cancel()

	e.mutate(func(st *transcript.State) {
		// The old turn is dead; its text must not keep streaming
		msgs := transcript.FinalizeStreaming(st.Messages.Clone())
		st.Messages = append(msgs, e.reducer.NewMessage(transcript.RoleUser, input))
		e.pageKey = pageKey
	})
	e.logger.Debug("send", "input_len", len(input), "page_key", pageKey)

	e.session.Begin(input, pageKey)
}

// SubmitForm records values for the form message id and starts the turn
// that carries them to the backend. It reports false, doing nothing, when
// id is not an unsubmitted form.
func (e *Engine) SubmitForm(id string, values map[string]any) bool {
	input, err := transcript.SubmissionInput(values)
	if err != nil {
		e.logger.Warn("form values not serializable", "message_id", id, "error", err)
		return false
	}

	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	// Rejected submissions must leave the running turn alone. Only commands
	// mark forms submitted or remove messages, so the check holds until the
	// mutation below.
	if !submittable(e.State().Messages, id) {
		e.logger.Debug("ignoring form submission", "message_id", id)
		return false
	}

	e.session.Cancel()

	var (
		ok      bool
		pageKey string
	)
	e.mutate(func(st *transcript.State) {
		if !submittable(st.Messages, id) {
			return
		}
		ok = true
		pageKey = e.pageKey

		idx := st.Messages.Index(id)
		next := transcript.FinalizeStreaming(st.Messages.Clone())
		next[idx].FormSubmitted = true
		next[idx].Content = transcript.FormSubmittedContent
		summary := transcript.SummarizeValues(next[idx].FormSchema, values)
		st.Messages = append(next, e.reducer.NewMessage(transcript.RoleUser, summary))
	})
	if !ok {
		e.logger.Debug("ignoring form submission", "message_id", id)
		return false
	}

	e.logger.Debug("form submitted", "message_id", id, "fields", len(values))
	e.session.Begin(input, pageKey)
	return true
}

func submittable(msgs transcript.Transcript, id string) bool {
	idx := msgs.Index(id)
	return idx >= 0 && msgs[idx].Role == transcript.RoleForm && !msgs[idx].FormSubmitted
}

// RespondInteractive answers the interactive message id with value, one of
// its option values. Only the first answer counts; it reports false for
// later calls and unknown ids. No turn is started.
func (e *Engine) RespondInteractive(id string, value any) bool {
	var ok bool
	e.mutate(func(st *transcript.State) {
		idx := st.Messages.Index(id)
		if idx < 0 || st.Messages[idx].Role != transcript.RoleInteractive || st.Messages[idx].InteractiveAnswered {
			return
		}
		ok = true

		next := st.Messages.Clone()
		next[idx].InteractiveAnswered = true
		next[idx].InteractiveAnswer = value
		st.Messages = next
	})
	if !ok {
		e.logger.Debug("ignoring interactive response", "message_id", id)
	}
	return ok
}

// Reset aborts any turn and returns to an empty, idle conversation.
func (e *Engine) Reset() {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	e.session.Cancel()
	e.mutate(func(st *transcript.State) {
		*st = transcript.NewState()
		e.pageKey = ""
	})
	e.logger.Debug("reset")
}

// Cancel aborts the running turn. Streamed text stays; status goes back to
// idle without an error.
func (e *Engine) Cancel() {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	e.session.Cancel()
	e.mutate(func(st *transcript.State) {
		if st.Status != transcript.StatusStreaming {
			return
		}
		st.Messages = transcript.FinalizeStreaming(st.Messages)
		st.Status = transcript.StatusIdle
		st.Error = ""
	})
}

// State returns a copy of the current state.
func (e *Engine) State() transcript.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Subscribe returns a channel that receives the current state and then every
// change until ctx is done or the engine is closed.
func (e *Engine) Subscribe(ctx context.Context) <-chan transcript.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, _ := e.broadcaster.Subscribe(ctx, e.state.Clone())
	return ch
}

// Wait blocks until no turn is running or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	return e.session.Wait(ctx)
}

// Close cancels any turn and closes all subscriptions.
func (e *Engine) Close() {
	e.session.Cancel()
	e.broadcaster.Close()
}

// mutate applies fn under the lock and publishes the result.
func (e *Engine) mutate(fn func(*transcript.State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
	e.broadcaster.Publish(e.state)
}

// target is the engine as seen by the session controller. It stays
// unexported so callers cannot mutate state directly.
type target struct{ e *Engine }

func (t target) Snapshot() transcript.State { return t.e.State() }

func (t target) Mutate(fn func(*transcript.State)) { t.e.mutate(fn) }
