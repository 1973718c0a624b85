// ABOUTME: Canned event scripts the fake backend streams for a given input
// ABOUTME: Keyword matched so every event role can be triggered from a terminal

package fakebackend

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/otto/internal/session"
	"github.com/2389/otto/internal/sse"
	"github.com/2389/otto/internal/transcript"
)

// MaxIterations mirrors the backend's tool loop limit.
const MaxIterations = 10

// Responder produces the frames streamed for one request.
type Responder func(req session.Request) []sse.Event

// DefaultResponder selects a script from keywords in the input.
func DefaultResponder(req session.Request) []sse.Event {
	if strings.HasPrefix(req.Input, transcript.FormSubmitPrefix) {
		return submitScript(strings.TrimPrefix(req.Input, transcript.FormSubmitPrefix))
	}

	input := strings.ToLower(req.Input)
	switch {
	case strings.Contains(input, "formulário") || strings.Contains(input, "cadastr"):
		return formScript()
	case strings.Contains(input, "erro"):
		return []sse.Event{
			{"role": "system", "content": "Erro na chamada ao LLM: upstream indisponível", "done": true},
		}
	case strings.Contains(input, "limite"):
		return limitScript()
	case strings.Contains(input, "tabela") || strings.Contains(input, "produto"):
		return componentScript()
	case strings.Contains(input, "confirm"):
		return []sse.Event{
			{"role": "assistant", "content": "Antes de continuar, preciso de uma confirmação."},
			{"role": "interactive", "content": "Deseja remover o produto?", "interactive": map[string]any{
				"type":          "confirm",
				"question":      "Deseja remover o produto?",
				"confirm_label": "Remover",
				"cancel_label":  "Manter",
			}},
			{"role": "assistant", "content": "", "done": true},
		}
	default:
		return answerScript(req)
	}
}

// ReplayedSubmission answers a form submission the backend already handled.
func ReplayedSubmission() []sse.Event {
	return []sse.Event{
		{"role": "assistant", "content": "Este formulário já foi enviado; nada foi alterado.", "done": true},
	}
}

// Words splits text into chunks that keep their separators, the way an LLM
// stream arrives.
func Words(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == ' ' && i > start {
			out = append(out, text[start:i])
			start = i
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func answerScript(req session.Request) []sse.Event {
	page := "nenhuma"
	if req.PageKey != nil {
		page = *req.PageKey
	}

	events := []sse.Event{
		{"role": "assistant", "content": "Executando list_products…"},
		{"role": "tool", "tool_name": "list_products", "tool_result": sampleProducts(), "content": toolContent(sampleProducts())},
	}
	answer := fmt.Sprintf("Você disse: %q. Página atual: %s. Histórico com %d mensagens.", req.Input, page, len(req.History))
	for _, w := range Words(answer) {
		events = append(events, sse.Event{"role": "assistant", "content": w})
	}
	return append(events, sse.Event{"role": "assistant", "content": "", "done": true})
}

func formScript() []sse.Event {
	return []sse.Event{{
		"role":    "form",
		"content": "Preencha os dados do produto:",
		"schema": []map[string]any{
			{"id": "name", "type": "text", "label": "Nome", "required": true},
			{"id": "price", "type": "number", "label": "Preço"},
			{"id": "category", "type": "select", "label": "Categoria", "options": []map[string]any{
				{"label": "Bebidas", "value": "drinks"},
				{"label": "Alimentos", "value": "food"},
			}},
		},
		"data": map[string]any{},
		"done": false,
	}}
}

func submitScript(payload string) []sse.Event {
	var values map[string]any
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return []sse.Event{
			{"role": "system", "content": "Erro ao ler o formulário: " + err.Error(), "done": true},
		}
	}
	return []sse.Event{
		{"role": "tool", "tool_name": "save_record", "tool_result": values, "content": toolContent(values)},
		{"role": "assistant", "content": "Registro salvo com sucesso.", "done": true},
	}
}

func componentScript() []sse.Event {
	return []sse.Event{
		{"role": "assistant", "content": "Aqui estão os detalhes:"},
		{"role": "component", "component": "kv_table", "props": map[string]any{
			"rows": []map[string]any{
				{"key": "Produtos", "value": 2},
				{"key": "Em estoque", "value": true},
			},
		}},
		{"role": "component", "component": "product_card", "props": sampleProducts()[0]},
		{"role": "assistant", "content": "", "done": true},
	}
}

func limitScript() []sse.Event {
	var events []sse.Event
	for i := range MaxIterations {
		events = append(events, sse.Event{
			"role": "tool", "tool_name": "search", "tool_result": map[string]any{"page": i + 1}, "content": "[]",
		})
	}
	return append(events, sse.Event{
		"role": "assistant", "content": fmt.Sprintf("Limite de iterações (%d) atingido.", MaxIterations), "done": true,
	})
}

func sampleProducts() []map[string]any {
	return []map[string]any{
		{"name": "Café", "sku": "CAF-01", "price": 12.5, "stock": 40, "description": "Torra média"},
		{"name": "Chá", "sku": "CHA-02", "price": 8, "stock": 0},
	}
}

// toolContent is the truncated JSON preview the backend sends as a tool
// message's text.
func toolContent(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	const maxPreview = 500
	if len(data) > maxPreview {
		data = data[:maxPreview]
	}
	return string(data)
}
