// ABOUTME: Incremental terminal rendering of conversation snapshots
// ABOUTME: Prints new messages and streamed deltas exactly once per snapshot stream

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/otto/internal/registry"
	"github.com/2389/otto/internal/transcript"
)

// printer writes the parts of each snapshot that were not yet shown. It is
// not safe for concurrent use.
type printer struct {
	out      io.Writer
	registry *registry.Registry

	// printed holds the content already written per message id.
	printed map[string]string
	// open is the assistant message whose line is still unterminated.
	open      string
	lastError string
	// echoUser prints user messages too, for replaying a saved transcript.
	echoUser bool
}

func newPrinter(out io.Writer, reg *registry.Registry) *printer {
	return &printer{
		out:      out,
		registry: reg,
		printed:  make(map[string]string),
	}
}

// Reset forgets everything printed so far.
func (p *printer) Reset() {
	p.closeLine()
	p.printed = make(map[string]string)
	p.lastError = ""
}

// Replay prints a whole transcript, user messages included.
func (p *printer) Replay(st transcript.State) {
	p.echoUser = true
	defer func() { p.echoUser = false }()
	p.Update(st)
}

// Update prints what changed in st.
func (p *printer) Update(st transcript.State) {
	for _, m := range st.Messages {
		prev, seen := p.printed[m.ID]
		switch {
		case !seen:
			p.printNew(m)
		case m.Role == transcript.RoleAssistant && m.Content != prev:
			p.printDelta(m, prev)
		}
		if p.open == m.ID && !m.Streaming {
			p.closeLine()
		}
	}

	if st.Status == transcript.StatusError && st.Error != "" && st.Error != p.lastError {
		p.lastError = st.Error
		if !endsWithSystem(st.Messages, st.Error) {
			p.closeLine()
			fmt.Fprintln(p.out, color.RedString("✗ %s", st.Error))
		}
	}
}

func (p *printer) printNew(m transcript.Message) {
	p.printed[m.ID] = m.Content
	switch m.Role {
	case transcript.RoleUser:
		// Already on screen as typed input
		if p.echoUser {
			p.closeLine()
			fmt.Fprintln(p.out, color.GreenString("você› ")+m.Content)
		}
	case transcript.RoleAssistant:
		p.closeLine()
		fmt.Fprint(p.out, color.CyanString("otto› "), m.Content)
		if m.Streaming {
			p.open = m.ID
		} else {
			fmt.Fprintln(p.out)
		}
	case transcript.RoleTool:
		p.closeLine()
		fmt.Fprintln(p.out, color.HiBlackString("  ⚙ %s", toolLabel(m)))
	case transcript.RoleSystem:
		p.closeLine()
		if transcript.IsErrorText(m.Content) {
			fmt.Fprintln(p.out, color.RedString("✗ %s", m.Content))
		} else {
			fmt.Fprintln(p.out, color.YellowString("• %s", m.Content))
		}
	case transcript.RoleForm:
		p.closeLine()
		fmt.Fprintln(p.out, color.GreenString("📝 %s", m.Content))
	case transcript.RoleComponent:
		p.closeLine()
		if m.Content != "" {
			fmt.Fprintln(p.out, m.Content)
		}
		if err := p.registry.Render(p.out, m); err != nil {
			fmt.Fprintln(p.out, color.RedString("✗ %v", err))
		}
	case transcript.RoleInteractive:
		p.closeLine()
		printInteractive(p.out, m)
	default:
		p.closeLine()
		fmt.Fprintln(p.out, m.Content)
	}
}

// printDelta writes the new tail of an assistant message. Content that was
// replaced rather than extended is reprinted on a fresh line.
func (p *printer) printDelta(m transcript.Message, prev string) {
	p.printed[m.ID] = m.Content
	if strings.HasPrefix(m.Content, prev) && p.open == m.ID {
		fmt.Fprint(p.out, m.Content[len(prev):])
		return
	}
	p.closeLine()
	fmt.Fprint(p.out, color.CyanString("otto› "), m.Content)
	if m.Streaming {
		p.open = m.ID
	} else {
		fmt.Fprintln(p.out)
	}
}

func (p *printer) closeLine() {
	if p.open != "" {
		fmt.Fprintln(p.out)
		p.open = ""
	}
}

func toolLabel(m transcript.Message) string {
	if m.ToolName == "" {
		return "ferramenta"
	}
	return m.ToolName
}

func printInteractive(out io.Writer, m transcript.Message) {
	if m.Interactive == nil {
		fmt.Fprintln(out, color.GreenString("? %s", m.Content))
		return
	}
	fmt.Fprintln(out, color.GreenString("? %s", m.Interactive.Question))
	for i, opt := range m.Interactive.Options {
		label := opt.Label
		if opt.Description != "" {
			label += color.HiBlackString(" (%s)", opt.Description)
		}
		fmt.Fprintf(out, "  %d) %s\n", i+1, label)
	}
}

func endsWithSystem(msgs transcript.Transcript, text string) bool {
	if len(msgs) == 0 {
		return false
	}
	last := msgs[len(msgs)-1]
	return last.Role == transcript.RoleSystem && last.Content == text
}
