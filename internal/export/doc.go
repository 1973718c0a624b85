// Package export renders a conversation transcript as a standalone HTML page.
//
// Assistant and system text is Markdown and goes through goldmark with the
// GFM extensions; raw HTML inside it is dropped. User text is shown as typed.
// Forms, tool calls, components and interactive messages get a structured
// rendering of their payloads.
//
//	f, _ := os.Create("conversa.html")
//	err := export.HTML(f, "Otto", eng.State().Messages)
package export
