// ABOUTME: Built-in text renderers for the components the Otto backend emits
// ABOUTME: kv_table prints aligned key/value rows, product_card a boxed product summary

package registry

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"text/tabwriter"
)

// Builtin component names.
const (
	KVTable     = "kv_table"
	ProductCard = "product_card"
)

// Builtins returns a registry preloaded with the built-in renderers.
func Builtins(logger *slog.Logger) *Registry {
	r := New(logger)
	// Names are constant and distinct; Register cannot fail here.
	_ = r.Register(KVTable, renderKVTable)
	_ = r.Register(ProductCard, renderProductCard)
	return r
}

// renderKVTable accepts either {"rows":[{"key"|"label", "value"}...]} or
// {"data":{k: v}}; an optional "title" is printed first.
func renderKVTable(w io.Writer, props map[string]any) error {
	if title := text(props["title"]); title != "" {
		if _, err := fmt.Fprintln(w, title); err != nil {
			return err
		}
	}

	type row struct{ key, value string }
	var rows []row

	if list, ok := props["rows"].([]any); ok {
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			key := text(m["key"])
			if key == "" {
				key = text(m["label"])
			}
			rows = append(rows, row{key, text(m["value"])})
		}
	} else if data, ok := props["data"].(map[string]any); ok {
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rows = append(rows, row{k, text(data[k])})
		}
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "  (vazio)")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range rows {
		fmt.Fprintf(tw, "  %s\t%s\n", r.key, r.value)
	}
	return tw.Flush()
}

func renderProductCard(w io.Writer, props map[string]any) error {
	name := text(props["name"])
	if name == "" {
		name = "(sem nome)"
	}

	lines := []string{name}
	if sku := text(props["sku"]); sku != "" {
		lines = append(lines, "SKU: "+sku)
	}
	if price := text(props["price"]); price != "" {
		if currency := text(props["currency"]); currency != "" {
			price = currency + " " + price
		}
		lines = append(lines, "Preço: "+price)
	}
	if stock := text(props["stock"]); stock != "" {
		lines = append(lines, "Estoque: "+stock)
	}
	if desc := text(props["description"]); desc != "" {
		lines = append(lines, desc)
	}

	width := 0
	for _, l := range lines {
		width = max(width, len([]rune(l)))
	}
	border := "+" + strings.Repeat("-", width+2) + "+"

	var b strings.Builder
	b.WriteString(border + "\n")
	for _, l := range lines {
		pad := width - len([]rune(l))
		b.WriteString("| " + l + strings.Repeat(" ", pad) + " |\n")
	}
	b.WriteString(border + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// text formats a decoded JSON value for display. Whole numbers lose their
// trailing ".0".
func text(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case bool:
		if val {
			return "sim"
		}
		return "não"
	default:
		return fmt.Sprint(val)
	}
}
