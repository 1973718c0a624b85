// ABOUTME: Terminal prompts for form fields and interactive questions
// ABOUTME: Converts typed answers into the values sent back to the conversation engine

package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/otto/internal/transcript"
)

// errAborted means the user typed /cancel at a prompt.
var errAborted = errors.New("prompt aborted")

// lineReader returns the next input line; ok is false at end of input.
type lineReader func() (line string, ok bool)

type prompter struct {
	read lineReader
	out  io.Writer
}

// Form asks for each field in schema order. Defaults come from the form's
// prefilled data. Blank optional fields are left out of the result.
func (p prompter) Form(fields []transcript.FormField, defaults map[string]any) (map[string]any, error) {
	values := make(map[string]any, len(fields))
	for _, f := range fields {
		v, set, err := p.field(f, defaults[f.ID])
		if err != nil {
			return nil, err
		}
		if set {
			values[f.ID] = v
		}
	}
	return values, nil
}

func (p prompter) field(f transcript.FormField, def any) (any, bool, error) {
	label := f.Label
	if label == "" {
		label = f.ID
	}
	if f.Required {
		label += "*"
	}
	if len(f.Options) > 0 {
		for i, opt := range f.Options {
			fmt.Fprintf(p.out, "  %d) %s\n", i+1, opt.Label)
		}
	}

	for {
		hint := ""
		if def != nil && def != "" {
			hint = color.HiBlackString(" [%v]", def)
		}
		fmt.Fprintf(p.out, "%s%s: ", label, hint)

		line, ok := p.read()
		if !ok {
			return nil, false, io.EOF
		}
		line = strings.TrimSpace(line)
		if line == "/cancel" {
			return nil, false, errAborted
		}
		if line == "" {
			if def != nil && def != "" {
				return def, true, nil
			}
			if f.Required {
				fmt.Fprintln(p.out, color.YellowString("campo obrigatório"))
				continue
			}
			return nil, false, nil
		}

		v, err := convert(f, line)
		if err != nil {
			fmt.Fprintln(p.out, color.YellowString("%v", err))
			continue
		}
		return v, true, nil
	}
}

// convert parses a typed answer into the field's value type.
func convert(f transcript.FormField, line string) (any, error) {
	if len(f.Options) > 0 {
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(f.Options) {
			return f.Options[n-1].Value, nil
		}
		for _, opt := range f.Options {
			if strings.EqualFold(fmt.Sprint(opt.Value), line) || strings.EqualFold(opt.Label, line) {
				return opt.Value, nil
			}
		}
		return nil, fmt.Errorf("escolha uma das opções (1-%d)", len(f.Options))
	}

	switch f.Type {
	case "number":
		n, err := strconv.ParseFloat(strings.ReplaceAll(line, ",", "."), 64)
		if err != nil {
			return nil, fmt.Errorf("número inválido: %q", line)
		}
		return n, nil
	case "checkbox", "boolean":
		b, ok := parseYesNo(line)
		if !ok {
			return nil, fmt.Errorf("responda s ou n")
		}
		return b, nil
	default:
		return line, nil
	}
}

func parseYesNo(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "s", "sim", "y", "yes", "true", "1":
		return true, true
	case "n", "não", "nao", "no", "false", "0":
		return false, true
	}
	return false, false
}

// Interactive asks the question of m and returns the chosen value.
// Confirm prompts answer "confirm" or "cancel"; choices answer the option's
// value as the backend sent it.
func (p prompter) Interactive(m transcript.Message) (any, error) {
	q := m.Interactive
	for {
		if q.Type == transcript.InteractiveConfirm || len(q.Options) == 0 {
			yes, no := labelOr(q.ConfirmLabel, "Confirmar"), labelOr(q.CancelLabel, "Cancelar")
			fmt.Fprintf(p.out, "%s / %s [s/n]: ", yes, no)
		} else {
			fmt.Fprintf(p.out, "opção (1-%d): ", len(q.Options))
		}

		line, ok := p.read()
		if !ok {
			return nil, io.EOF
		}
		line = strings.TrimSpace(line)
		if line == "/cancel" {
			return nil, errAborted
		}

		if q.Type == transcript.InteractiveConfirm || len(q.Options) == 0 {
			if b, ok := parseYesNo(line); ok {
				if b {
					return "confirm", nil
				}
				return "cancel", nil
			}
			continue
		}
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(q.Options) {
			return q.Options[n-1].Value, nil
		}
		fmt.Fprintln(p.out, color.YellowString("opção inválida"))
	}
}

func labelOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
