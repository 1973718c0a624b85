// ABOUTME: Pure reducer folding decoded stream events into the conversation transcript
// ABOUTME: Dispatches by event role and reports whether the event ends the turn

package transcript

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/otto/internal/sse"
)

// Event keys the reducer reads. Anything else on an event is ignored.
const (
	keyRole        = "role"
	keyContent     = "content"
	keyDone        = "done"
	keySchema      = "schema"
	keyData        = "data"
	keyToolName    = "tool_name"
	keyToolResult  = "tool_result"
	keyComponent   = "component"
	keyProps       = "props"
	keyInteractive = "interactive"
)

// DefaultFormPrompt is the content of a form message sent without text.
const DefaultFormPrompt = "Preencha os campos:"

// errorMarker prefixes system content that reports a failed turn. Matched
// case-insensitively, so both "Erro ..." and "Error ..." qualify.
const errorMarker = "erro"

// IsErrorText reports whether system content reports a failed turn.
func IsErrorText(s string) bool {
	return strings.HasPrefix(strings.ToLower(s), errorMarker)
}

// Cursor is the id of the assistant message receiving streamed text, or
// empty when none is open.
type Cursor string

// Outcome describes the effect of one event on the turn.
type Outcome struct {
	// Terminal is set when the event ends the turn.
	Terminal bool
	// Status and Error are meaningful only when Terminal is set.
	Status Status
	Error  string
}

// Reducer turns events into transcript updates. The zero value uses
// time-ordered UUIDs and the wall clock.
type Reducer struct {
	NewID func() string
	Now   func() time.Time
}

// NewMessage builds a message with a fresh id and timestamp.
func (r Reducer) NewMessage(role Role, content string) Message {
	return Message{
		ID:        r.id(),
		Role:      role,
		Content:   content,
		Timestamp: r.now(),
	}
}

func (r Reducer) id() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.Must(uuid.NewV7()).String()
}

func (r Reducer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Reduce applies one event. It returns the next transcript, the cursor for
// the next event of the same stream, and the event's outcome. t is never
// modified.
func (r Reducer) Reduce(t Transcript, cursor Cursor, ev sse.Event) (Transcript, Cursor, Outcome) {
	next, cursor, out := r.dispatch(t, cursor, ev)
	if out.Terminal {
		// Nothing streams past the end of a turn
		next = FinalizeStreaming(next)
		cursor = ""
	}
	return next, cursor, out
}

func (r Reducer) dispatch(t Transcript, cursor Cursor, ev sse.Event) (Transcript, Cursor, Outcome) {
	role, _ := ev.String(keyRole)

	switch Role(role) {
	case RoleForm:
		return r.reduceForm(t, ev), "", Outcome{Terminal: true, Status: StatusDone}
	case RoleComponent:
		return r.reduceComponent(t, ev), cursor, doneOutcome(ev)
	case RoleTool:
		return r.reduceTool(t, cursor, ev), "", Outcome{}
	case RoleSystem:
		return r.reduceSystem(t, cursor, ev)
	case RoleInteractive:
		return r.reduceInteractive(t, ev), cursor, doneOutcome(ev)
	default:
		return r.reduceAssistant(t, cursor, ev)
	}
}

func doneOutcome(ev sse.Event) Outcome {
	if ev.Bool(keyDone) {
		return Outcome{Terminal: true, Status: StatusDone}
	}
	return Outcome{}
}

// content returns the event text when it is a non-empty string.
func content(ev sse.Event) (string, bool) {
	s, ok := ev.String(keyContent)
	return s, ok && s != ""
}

func (r Reducer) reduceForm(t Transcript, ev sse.Event) Transcript {
	text, ok := content(ev)
	if !ok {
		text = DefaultFormPrompt
	}
	msg := r.NewMessage(RoleForm, text)

	var fields []FormField
	if ev.Has(keySchema) && decodeInto(ev[keySchema], &fields) {
		msg.FormSchema = fields
	}
	if data, ok := ev.Map(keyData); ok {
		msg.FormData = data
	}
	return appendMessage(t, msg)
}

func (r Reducer) reduceComponent(t Transcript, ev sse.Event) Transcript {
	text, _ := content(ev)
	msg := r.NewMessage(RoleComponent, text)
	msg.ComponentName, _ = ev.String(keyComponent)
	msg.ComponentProps = map[string]any{}
	if props, ok := ev.Map(keyProps); ok {
		msg.ComponentProps = props
	}
	return appendMessage(t, msg)
}

// reduceTool closes the open assistant message, so text after a tool call
// always starts a new one.
func (r Reducer) reduceTool(t Transcript, cursor Cursor, ev sse.Event) Transcript {
	if idx := t.Index(string(cursor)); cursor != "" && idx >= 0 {
		t = t.Clone()
		t[idx].Streaming = false
	}
	text, _ := content(ev)
	msg := r.NewMessage(RoleTool, text)
	msg.ToolName, _ = ev.String(keyToolName)
	msg.ToolResult = ev[keyToolResult]
	return appendMessage(t, msg)
}

func (r Reducer) reduceSystem(t Transcript, cursor Cursor, ev sse.Event) (Transcript, Cursor, Outcome) {
	text, _ := content(ev)
	next := appendMessage(t, r.NewMessage(RoleSystem, text))

	if !ev.Bool(keyDone) {
		return next, cursor, Outcome{}
	}
	if IsErrorText(text) {
		return next, "", Outcome{Terminal: true, Status: StatusError, Error: text}
	}
	return next, "", Outcome{Terminal: true, Status: StatusDone}
}

func (r Reducer) reduceInteractive(t Transcript, ev sse.Event) Transcript {
	text, _ := content(ev)
	msg := r.NewMessage(RoleInteractive, text)

	var payload Interactive
	source := any(ev)
	if nested, ok := ev.Map(keyInteractive); ok {
		source = nested
	}
	if decodeInto(source, &payload) {
		if payload.Question == "" {
			payload.Question = text
		}
		if payload.Type == "" {
			payload.Type = InteractiveChoice
		}
		msg.Interactive = &payload
	}
	return appendMessage(t, msg)
}

func (r Reducer) reduceAssistant(t Transcript, cursor Cursor, ev sse.Event) (Transcript, Cursor, Outcome) {
	text, hasText := content(ev)
	idx := -1
	if cursor != "" {
		idx = t.Index(string(cursor))
	}

	if ev.Bool(keyDone) {
		next := t
		switch {
		case idx >= 0:
			next = t.Clone()
			if hasText {
				next[idx].Content = text
			}
			next[idx].Streaming = false
		case hasText:
			next = appendMessage(t, r.NewMessage(RoleAssistant, text))
		}
		return next, "", Outcome{Terminal: true, Status: StatusDone}
	}

	if !hasText {
		return t, cursor, Outcome{}
	}

	if idx >= 0 {
		next := t.Clone()
		next[idx].Content += text
		return next, cursor, Outcome{}
	}

	msg := r.NewMessage(RoleAssistant, text)
	msg.Streaming = true
	return appendMessage(t, msg), Cursor(msg.ID), Outcome{}
}

// appendMessage returns a new transcript with msg at the end; t's backing
// array is never written.
func appendMessage(t Transcript, msg Message) Transcript {
	next := make(Transcript, len(t), len(t)+1)
	copy(next, t)
	return append(next, msg)
}

// decodeInto converts a decoded JSON value into out through a JSON round trip.
func decodeInto(v any, out any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}
