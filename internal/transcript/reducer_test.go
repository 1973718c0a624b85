// ABOUTME: Tests for the transcript reducer dispatch and streaming accumulation
// ABOUTME: Covers form/component/tool/system/interactive events and the assistant text path

package transcript

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/otto/internal/sse"
)

func testReducer() Reducer {
	n := 0
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return Reducer{
		NewID: func() string {
			n++
			return fmt.Sprintf("m%d", n)
		},
		Now: func() time.Time { return fixed },
	}
}

// run folds events through the reducer the way a session does, stopping at
// the first terminal outcome.
func run(r Reducer, t Transcript, events ...sse.Event) (Transcript, Cursor, Outcome) {
	var cursor Cursor
	var out Outcome
	for _, ev := range events {
		t, cursor, out = r.Reduce(t, cursor, ev)
		if out.Terminal {
			break
		}
	}
	return t, cursor, out
}

func TestReduce_IncrementalAccumulation(t *testing.T) {
	r := testReducer()

	got, cursor, out := run(r, nil,
		sse.Event{"content": "Hel"},
		sse.Event{"content": "lo"},
		sse.Event{"done": true, "content": "Hello!"},
	)

	require.Len(t, got, 1)
	assert.Equal(t, RoleAssistant, got[0].Role)
	assert.Equal(t, "Hello!", got[0].Content)
	assert.False(t, got[0].Streaming)
	assert.Empty(t, cursor)
	assert.True(t, out.Terminal)
	assert.Equal(t, StatusDone, out.Status)
}

func TestReduce_StreamingKeepsArrivalOrder(t *testing.T) {
	r := testReducer()

	got, cursor, out := run(r, nil,
		sse.Event{"content": "a"},
		sse.Event{"content": "b"},
		sse.Event{"content": "b"},
		sse.Event{"content": "c"},
	)

	require.Len(t, got, 1)
	assert.Equal(t, "abbc", got[0].Content)
	assert.True(t, got[0].Streaming)
	assert.Equal(t, Cursor("m1"), cursor)
	assert.False(t, out.Terminal)
}

func TestReduce_DoneWithEmptyContentKeepsStreamedText(t *testing.T) {
	r := testReducer()

	got, _, out := run(r, nil,
		sse.Event{"role": "assistant", "content": "Olá!", "done": false},
		sse.Event{"role": "assistant", "content": "", "done": true},
	)

	require.Len(t, got, 1)
	assert.Equal(t, "Olá!", got[0].Content)
	assert.False(t, got[0].Streaming)
	assert.True(t, out.Terminal)
}

func TestReduce_DoneWithoutCursorAppendsFinalMessage(t *testing.T) {
	r := testReducer()

	got, _, out := run(r, nil, sse.Event{"done": true, "content": "final"})

	require.Len(t, got, 1)
	assert.Equal(t, "final", got[0].Content)
	assert.False(t, got[0].Streaming)
	assert.True(t, out.Terminal)
}

func TestReduce_DoneWithNothingIsStillTerminal(t *testing.T) {
	r := testReducer()

	got, _, out := run(r, nil, sse.Event{"done": true})

	assert.Empty(t, got)
	assert.True(t, out.Terminal)
	assert.Equal(t, StatusDone, out.Status)
}

func TestReduce_ToolInterruptsStreaming(t *testing.T) {
	r := testReducer()

	got, cursor, _ := run(r, nil,
		sse.Event{"content": "A"},
		sse.Event{"role": "tool", "tool_name": "fetch_by_ean", "tool_result": map[string]any{"ok": true}, "content": "{\"ok\":true}"},
		sse.Event{"content": "B"},
	)

	require.Len(t, got, 3)
	assert.Equal(t, RoleAssistant, got[0].Role)
	assert.Equal(t, "A", got[0].Content)
	assert.False(t, got[0].Streaming, "the tool call closes the open message")
	assert.Equal(t, RoleTool, got[1].Role)
	assert.Equal(t, "fetch_by_ean", got[1].ToolName)
	assert.Equal(t, map[string]any{"ok": true}, got[1].ToolResult)
	assert.Equal(t, RoleAssistant, got[2].Role)
	assert.Equal(t, "B", got[2].Content)
	assert.True(t, got[2].Streaming)
	assert.Equal(t, Cursor(got[2].ID), cursor)
}

func TestReduce_TerminalClosesStreamingMessage(t *testing.T) {
	r := testReducer()

	got, cursor, out := run(r, nil,
		sse.Event{"content": "Vou pedir alguns dados"},
		sse.Event{"role": "form", "schema": []any{}},
	)

	require.Len(t, got, 2)
	assert.False(t, got[0].Streaming)
	assert.Equal(t, "Vou pedir alguns dados", got[0].Content)
	assert.Empty(t, cursor)
	assert.True(t, out.Terminal)
}

func TestReduce_FormIsTerminal(t *testing.T) {
	r := testReducer()

	got, _, out := run(r, nil,
		sse.Event{
			"role":   "form",
			"schema": []any{map[string]any{"id": "name", "type": "text", "label": "Nome"}, map[string]any{"id": "price", "type": "money", "label": "Preço"}},
			"data":   map[string]any{"name": "Café"},
		},
		sse.Event{"content": "late"},
	)

	require.Len(t, got, 1, "events after a form are never applied")
	msg := got[0]
	assert.Equal(t, RoleForm, msg.Role)
	assert.Equal(t, DefaultFormPrompt, msg.Content)
	require.Len(t, msg.FormSchema, 2)
	assert.Equal(t, "name", msg.FormSchema[0].ID)
	assert.Equal(t, "price", msg.FormSchema[1].ID)
	assert.Equal(t, "Café", msg.FormData["name"])
	assert.False(t, msg.FormSubmitted)
	assert.True(t, out.Terminal)
	assert.Equal(t, StatusDone, out.Status)
}

func TestReduce_FormSelectOptionsAsStrings(t *testing.T) {
	r := testReducer()

	got, _, _ := r.Reduce(nil, "", sse.Event{
		"role":    "form",
		"content": "Escolha",
		"schema":  []any{map[string]any{"id": "unit", "type": "select", "options": []any{"UN", map[string]any{"label": "Caixa", "value": "CX"}}}},
	})

	require.Len(t, got, 1)
	require.Len(t, got[0].FormSchema, 1)
	opts := got[0].FormSchema[0].Options
	require.Len(t, opts, 2)
	assert.Equal(t, Option{Label: "UN", Value: "UN"}, opts[0])
	assert.Equal(t, Option{Label: "Caixa", Value: "CX"}, opts[1])
	assert.Equal(t, "Escolha", got[0].Content)
}

func TestReduce_Component(t *testing.T) {
	tests := []struct {
		name     string
		event    sse.Event
		terminal bool
		props    map[string]any
	}{
		{
			name:     "continues without done",
			event:    sse.Event{"role": "component", "component": "product_card", "props": map[string]any{"sku": "A1"}},
			terminal: false,
			props:    map[string]any{"sku": "A1"},
		},
		{
			name:     "terminal with done",
			event:    sse.Event{"role": "component", "component": "kv_table", "done": true},
			terminal: true,
			props:    map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testReducer()
			got, _, out := r.Reduce(nil, "", tt.event)

			require.Len(t, got, 1)
			assert.Equal(t, RoleComponent, got[0].Role)
			assert.Equal(t, tt.props, got[0].ComponentProps)
			assert.Equal(t, tt.terminal, out.Terminal)
		})
	}
}

func TestReduce_MultipleComponentsInOneTurn(t *testing.T) {
	r := testReducer()

	got, _, out := run(r, nil,
		sse.Event{"role": "component", "component": "kv_table"},
		sse.Event{"role": "component", "component": "product_card", "done": true},
	)

	require.Len(t, got, 2)
	assert.Equal(t, "kv_table", got[0].ComponentName)
	assert.Equal(t, "product_card", got[1].ComponentName)
	assert.True(t, out.Terminal)
}

func TestReduce_System(t *testing.T) {
	tests := []struct {
		name     string
		event    sse.Event
		terminal bool
		status   Status
		errText  string
	}{
		{
			name:     "error marker",
			event:    sse.Event{"role": "system", "content": "Erro na chamada ao LLM: timeout", "done": true},
			terminal: true,
			status:   StatusError,
			errText:  "Erro na chamada ao LLM: timeout",
		},
		{
			name:     "english error marker",
			event:    sse.Event{"role": "system", "content": "Error: quota exceeded", "done": true},
			terminal: true,
			status:   StatusError,
			errText:  "Error: quota exceeded",
		},
		{
			name:     "plain terminal notice",
			event:    sse.Event{"role": "system", "content": "Limite de iterações (10) atingido.", "done": true},
			terminal: true,
			status:   StatusDone,
		},
		{
			name:     "not done",
			event:    sse.Event{"role": "system", "content": "Erro temporário"},
			terminal: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testReducer()
			got, _, out := r.Reduce(nil, "", tt.event)

			require.Len(t, got, 1, "system messages are always appended")
			assert.Equal(t, RoleSystem, got[0].Role)
			assert.Equal(t, tt.terminal, out.Terminal)
			assert.Equal(t, tt.status, out.Status)
			assert.Equal(t, tt.errText, out.Error)
		})
	}
}

func TestReduce_Interactive(t *testing.T) {
	r := testReducer()

	got, _, out := r.Reduce(nil, "", sse.Event{
		"role": "interactive",
		"interactive": map[string]any{
			"type":     "choice",
			"question": "Qual unidade?",
			"options":  []any{"UN", map[string]any{"label": "Caixa", "value": "CX"}},
		},
	})

	require.Len(t, got, 1)
	msg := got[0]
	assert.Equal(t, RoleInteractive, msg.Role)
	require.NotNil(t, msg.Interactive)
	assert.Equal(t, InteractiveChoice, msg.Interactive.Type)
	assert.Equal(t, "Qual unidade?", msg.Interactive.Question)
	require.Len(t, msg.Interactive.Options, 2)
	assert.Equal(t, "CX", msg.Interactive.Options[1].Value)
	assert.False(t, msg.InteractiveAnswered)
	assert.False(t, out.Terminal)
}

func TestReduce_InteractiveFlatPayload(t *testing.T) {
	r := testReducer()

	got, _, _ := r.Reduce(nil, "", sse.Event{"role": "interactive", "type": "confirm", "content": "Publicar a página?"})

	require.Len(t, got, 1)
	require.NotNil(t, got[0].Interactive)
	assert.Equal(t, InteractiveConfirm, got[0].Interactive.Type)
	assert.Equal(t, "Publicar a página?", got[0].Interactive.Question)
}

func TestReduce_UnrecognizedEventIgnored(t *testing.T) {
	r := testReducer()
	base := Transcript{r.NewMessage(RoleUser, "oi")}

	got, cursor, out := r.Reduce(base, "", sse.Event{"draft": map[string]any{"x": 1}})

	assert.Equal(t, base, got)
	assert.Empty(t, cursor)
	assert.False(t, out.Terminal)
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	r := testReducer()
	first, cursor, _ := r.Reduce(nil, "", sse.Event{"content": "x"})
	snapshot := first.Clone()

	_, _, _ = r.Reduce(first, cursor, sse.Event{"content": "y"})
	_, _, _ = r.Reduce(first, cursor, sse.Event{"done": true, "content": "z"})

	assert.Equal(t, snapshot, first)
}

func TestReduce_StaleCursorOpensNewMessage(t *testing.T) {
	r := testReducer()

	got, cursor, _ := r.Reduce(nil, "gone", sse.Event{"content": "fresh"})

	require.Len(t, got, 1)
	assert.Equal(t, Cursor(got[0].ID), cursor)
	assert.True(t, got[0].Streaming)
}

func TestReduce_IDsAreUniqueAndOrdered(t *testing.T) {
	r := Reducer{}
	var got Transcript
	var cursor Cursor
	for i := 0; i < 50; i++ {
		got, cursor, _ = r.Reduce(got, cursor, sse.Event{"role": "tool", "tool_name": "t"})
	}

	seen := map[string]bool{}
	for i, m := range got {
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
		if i > 0 {
			assert.Less(t, got[i-1].ID, m.ID)
		}
	}
}

func TestHistory(t *testing.T) {
	r := testReducer()
	tr := Transcript{
		r.NewMessage(RoleUser, "oi"),
		r.NewMessage(RoleAssistant, ""),
		r.NewMessage(RoleTool, "{}"),
		r.NewMessage(RoleAssistant, "olá"),
		r.NewMessage(RoleSystem, "aviso"),
		r.NewMessage(RoleUser, "tudo bem?"),
	}

	assert.Equal(t, []HistoryEntry{
		{Role: RoleUser, Content: "oi"},
		{Role: RoleAssistant, Content: "olá"},
		{Role: RoleUser, Content: "tudo bem?"},
	}, History(tr))
}

func TestFinalizeStreaming(t *testing.T) {
	r := testReducer()
	tr, _, _ := r.Reduce(nil, "", sse.Event{"content": "meio"})

	done := FinalizeStreaming(tr)

	assert.True(t, tr[0].Streaming, "input untouched")
	assert.False(t, done[0].Streaming)
	assert.Equal(t, "meio", done[0].Content)

	same := FinalizeStreaming(done)
	assert.Equal(t, done, same)
}
