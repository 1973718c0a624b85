// ABOUTME: Conversation data model: messages, roles, form and interactive payloads
// ABOUTME: Also defines conversation status and the history projection sent upstream

package transcript

import (
	"slices"
	"time"
)

// Role identifies who or what produced a message.
type Role string

const (
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleTool        Role = "tool"
	RoleSystem      Role = "system"
	RoleForm        Role = "form"
	RoleComponent   Role = "component"
	RoleInteractive Role = "interactive"
)

// Status is the conversation-level turn state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
	StatusDone      Status = "done"
	StatusError     Status = "error"
)

// InteractiveType selects how an interactive message is presented.
type InteractiveType string

const (
	InteractiveConfirm     InteractiveType = "confirm"
	InteractiveChoice      InteractiveType = "choice"
	InteractiveImagePicker InteractiveType = "image-picker"
	InteractiveCarousel    InteractiveType = "carousel"
)

// FormField describes one input of a form message, in display order.
type FormField struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Label       string   `json:"label,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Options     []Option `json:"options,omitempty"`
}

// Option is a selectable value of a select field.
type Option struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// InteractiveOption is one answer an interactive message offers. Image is
// set for image-picker and carousel entries.
type InteractiveOption struct {
	Label       string `json:"label"`
	Value       any    `json:"value"`
	Image       string `json:"image,omitempty"`
	Description string `json:"description,omitempty"`
}

// Interactive is the payload of an interactive message.
type Interactive struct {
	Type     InteractiveType     `json:"type"`
	Question string              `json:"question"`
	Options  []InteractiveOption `json:"options,omitempty"`
	// ConfirmLabel and CancelLabel override the confirm buttons.
	ConfirmLabel string `json:"confirm_label,omitempty"`
	CancelLabel  string `json:"cancel_label,omitempty"`
}

// Message is one transcript entry. Role-specific fields are only set for
// their role.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Streaming bool      `json:"streaming,omitempty"`

	// form
	FormSchema    []FormField    `json:"form_schema,omitempty"`
	FormData      map[string]any `json:"form_data,omitempty"`
	FormSubmitted bool           `json:"form_submitted,omitempty"`

	// component
	ComponentName  string         `json:"component_name,omitempty"`
	ComponentProps map[string]any `json:"component_props,omitempty"`

	// tool
	ToolName   string `json:"tool_name,omitempty"`
	ToolResult any    `json:"tool_result,omitempty"`

	// interactive
	Interactive         *Interactive `json:"interactive,omitempty"`
	InteractiveAnswered bool         `json:"interactive_answered,omitempty"`
	InteractiveAnswer   any          `json:"interactive_answer,omitempty"`
}

// Transcript is the ordered list of messages, oldest first.
type Transcript []Message

// Index returns the position of the message with id, or -1.
func (t Transcript) Index(id string) int {
	return slices.IndexFunc(t, func(m Message) bool { return m.ID == id })
}

// Clone returns a copy of the slice. Message payload maps are shared and
// must be treated as read-only.
func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	return slices.Clone(t)
}

// State is the full observable conversation state.
type State struct {
	Messages Transcript
	Status   Status
	Error    string
}

// NewState returns the initial state.
func NewState() State {
	return State{Status: StatusIdle}
}

// Clone returns a copy that shares no slice with s.
func (s State) Clone() State {
	s.Messages = s.Messages.Clone()
	return s
}

// HistoryEntry is one prior exchange sent upstream with a request.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History projects the transcript to the user and assistant messages with
// content, oldest first.
func History(t Transcript) []HistoryEntry {
	history := make([]HistoryEntry, 0, len(t))
	for _, m := range t {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		if m.Content == "" {
			continue
		}
		history = append(history, HistoryEntry{Role: m.Role, Content: m.Content})
	}
	return history
}

// FinalizeStreaming clears the streaming flag left on any message. It
// returns t unchanged when nothing is streaming.
func FinalizeStreaming(t Transcript) Transcript {
	idx := slices.IndexFunc(t, func(m Message) bool { return m.Streaming })
	if idx < 0 {
		return t
	}
	next := t.Clone()
	for i := idx; i < len(next); i++ {
		next[i].Streaming = false
	}
	return next
}
