// ABOUTME: Form submission helpers: value summaries and the upstream submission input
// ABOUTME: Also lets select and interactive options arrive as bare strings

package transcript

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	// FormSubmittedContent replaces a form message's text once submitted.
	FormSubmittedContent = "Formulário enviado."
	// EmptySubmissionSummary is the user message for a form sent with no values.
	EmptySubmissionSummary = "(formulário enviado sem valores)"
	// FormSubmitPrefix starts the input of a form submission turn; the JSON
	// encoded values follow directly.
	FormSubmitPrefix = "[FORM_SUBMIT]"
)

// SummarizeValues renders submitted values as "key: value" lines. Fields
// follow schema order, then any remaining keys sorted. Nil and blank values
// are left out.
func SummarizeValues(schema []FormField, values map[string]any) string {
	keys := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, f := range schema {
		if _, ok := values[f.ID]; ok && !seen[f.ID] {
			keys = append(keys, f.ID)
			seen[f.ID] = true
		}
	}
	var rest []string
	for k := range values {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		text, ok := formatValue(values[k])
		if !ok {
			continue
		}
		lines = append(lines, k+": "+text)
	}
	if len(lines) == 0 {
		return EmptySubmissionSummary
	}
	return strings.Join(lines, "\n")
}

func formatValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		if strings.TrimSpace(val) == "" {
			return "", false
		}
		return val, true
	case []any:
		if len(val) == 0 {
			return "", false
		}
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := formatValue(item); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, ", "), true
	default:
		return fmt.Sprint(val), true
	}
}

// SubmissionInput builds the session input for a form submission.
func SubmissionInput(values map[string]any) (string, error) {
	if values == nil {
		values = map[string]any{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encoding form values: %w", err)
	}
	return FormSubmitPrefix + string(data), nil
}

// UnmarshalJSON accepts either {"label","value"} or a bare string used as both.
func (o *Option) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		o.Label, o.Value = s, s
		return nil
	}
	type plain Option
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = Option(p)
	if o.Label == "" {
		o.Label = fmt.Sprint(o.Value)
	}
	return nil
}

// UnmarshalJSON accepts either an option object or a bare string label.
func (o *InteractiveOption) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		o.Label, o.Value = s, s
		return nil
	}
	type plain InteractiveOption
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = InteractiveOption(p)
	if o.Value == nil {
		o.Value = o.Label
	}
	return nil
}
