// ABOUTME: Standalone HTML export of a transcript using html/template and goldmark
// ABOUTME: Markdown for assistant and system text, structured blocks for the other roles

package export

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/otto/internal/transcript"
)

//go:embed templates/transcript.html
var templateFS embed.FS

var (
	pageTemplate = template.Must(template.ParseFS(templateFS, "templates/transcript.html"))
	markdown     = goldmark.New(goldmark.WithExtensions(extension.GFM))
)

const timeFormat = "02/01/2006 15:04"

var roleLabels = map[transcript.Role]string{
	transcript.RoleUser:        "Você",
	transcript.RoleAssistant:   "Otto",
	transcript.RoleTool:        "Ferramenta",
	transcript.RoleSystem:      "Sistema",
	transcript.RoleForm:        "Formulário",
	transcript.RoleComponent:   "Componente",
	transcript.RoleInteractive: "Pergunta",
}

type pageData struct {
	Title    string
	Exported string
	Messages []messageView
}

type messageView struct {
	ID      string
	Role    transcript.Role
	Label   string
	Time    string
	IsError bool
	Body    template.HTML
}

// Now is the clock used for the export timestamp.
var Now = time.Now

// HTML writes messages as a complete HTML document titled title.
func HTML(w io.Writer, title string, messages []transcript.Message) error {
	if title == "" {
		title = "Otto"
	}

	data := pageData{
		Title:    title,
		Exported: Now().Format(timeFormat),
		Messages: make([]messageView, 0, len(messages)),
	}
	for _, m := range messages {
		view, err := render(m)
		if err != nil {
			return fmt.Errorf("rendering message %s: %w", m.ID, err)
		}
		data.Messages = append(data.Messages, view)
	}

	if err := pageTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("executing template: %w", err)
	}
	return nil
}

func render(m transcript.Message) (messageView, error) {
	view := messageView{
		ID:    m.ID,
		Role:  m.Role,
		Label: roleLabels[m.Role],
	}
	if view.Label == "" {
		view.Label = string(m.Role)
	}
	if !m.Timestamp.IsZero() {
		view.Time = m.Timestamp.Format(timeFormat)
	}

	var (
		body template.HTML
		err  error
	)
	switch m.Role {
	case transcript.RoleAssistant:
		body, err = renderMarkdown(m.Content)
	case transcript.RoleSystem:
		view.IsError = transcript.IsErrorText(m.Content)
		body, err = renderMarkdown(m.Content)
	case transcript.RoleTool:
		body = renderTool(m)
	case transcript.RoleForm:
		body = renderForm(m)
	case transcript.RoleComponent:
		body = renderComponent(m)
	case transcript.RoleInteractive:
		body = renderInteractive(m)
	default:
		body = paragraph(m.Content)
	}
	view.Body = body
	return view, err
}

func renderMarkdown(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return template.HTML(buf.String()), nil //nolint:gosec // goldmark escapes raw HTML by default
}

func paragraph(s string) template.HTML {
	escaped := template.HTMLEscapeString(s)
	return template.HTML("<p>" + strings.ReplaceAll(escaped, "\n", "<br>") + "</p>") //nolint:gosec // escaped above
}

func pre(v any) template.HTML {
	var text string
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		text = val
	default:
		data, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			text = fmt.Sprint(val)
		} else {
			text = string(data)
		}
	}
	return template.HTML("<pre>" + template.HTMLEscapeString(text) + "</pre>") //nolint:gosec // escaped
}

func renderTool(m transcript.Message) template.HTML {
	name := m.ToolName
	if name == "" {
		name = "?"
	}
	out := "<p><code>" + template.HTMLEscapeString(name) + "</code></p>"
	return template.HTML(out) + pre(m.ToolResult) //nolint:gosec // escaped
}

func renderForm(m transcript.Message) template.HTML {
	var b strings.Builder
	b.WriteString(string(paragraph(m.Content)))
	b.WriteString("<dl>")
	for _, f := range m.FormSchema {
		label := f.Label
		if label == "" {
			label = f.ID
		}
		if f.Required {
			label += " *"
		}
		value := ""
		if v, ok := m.FormData[f.ID]; ok && v != nil {
			value = fmt.Sprint(v)
		}
		fmt.Fprintf(&b, "<dt>%s</dt><dd>%s</dd>", template.HTMLEscapeString(label), template.HTMLEscapeString(value))
	}
	b.WriteString("</dl>")
	if m.FormSubmitted {
		b.WriteString("<p><em>enviado</em></p>")
	}
	return template.HTML(b.String()) //nolint:gosec // every value escaped
}

func renderComponent(m transcript.Message) template.HTML {
	out := "<p><code>" + template.HTMLEscapeString(m.ComponentName) + "</code></p>"
	return template.HTML(out) + pre(m.ComponentProps) //nolint:gosec // escaped
}

func renderInteractive(m transcript.Message) template.HTML {
	question := m.Content
	var options []string
	if m.Interactive != nil {
		if m.Interactive.Question != "" {
			question = m.Interactive.Question
		}
		for _, o := range m.Interactive.Options {
			options = append(options, o.Label)
		}
	}

	var b strings.Builder
	b.WriteString(string(paragraph(question)))
	if len(options) > 0 {
		b.WriteString("<ul>")
		for _, o := range options {
			b.WriteString("<li>" + template.HTMLEscapeString(o) + "</li>")
		}
		b.WriteString("</ul>")
	}
	if m.InteractiveAnswered {
		b.WriteString("<p><strong>Resposta:</strong> " + template.HTMLEscapeString(fmt.Sprint(m.InteractiveAnswer)) + "</p>")
	}
	return template.HTML(b.String()) //nolint:gosec // every value escaped
}
