// ABOUTME: Incremental parser for the Otto event stream framing
// ABOUTME: Buffers partial frames across chunks and decodes data: payloads as JSON objects

package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

const (
	// dataPrefix marks the payload line of a frame.
	dataPrefix = "data:"
	// frameSeparator ends a frame once line endings are normalised.
	frameSeparator = "\n\n"
)

// Event is one decoded frame payload. Keys are kept as sent by the backend.
type Event map[string]any

// Has reports whether key is present, even with a null value.
func (e Event) Has(key string) bool {
	_, ok := e[key]
	return ok
}

// String returns the value for key when it is a string.
func (e Event) String(key string) (string, bool) {
	s, ok := e[key].(string)
	return s, ok
}

// Bool returns true only when key holds the JSON literal true.
func (e Event) Bool(key string) bool {
	b, _ := e[key].(bool)
	return b
}

// Map returns the value for key when it is a JSON object.
func (e Event) Map(key string) (map[string]any, bool) {
	m, ok := e[key].(map[string]any)
	return m, ok
}

// Parser splits a chunked byte stream into frames. It is not safe for
// concurrent use; one Parser belongs to one stream.
type Parser struct {
	pending []byte
	logger  *slog.Logger
}

// NewParser creates a parser. Pass nil logger for default.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger.With("component", "sse")}
}

// Feed appends chunk to the buffered remainder and returns the events of
// every frame that is now complete, in stream order.
func (p *Parser) Feed(chunk []byte) []Event {
	if len(chunk) == 0 {
		return nil
	}

	buf := make([]byte, 0, len(p.pending)+len(chunk))
	buf = append(buf, p.pending...)
	buf = append(buf, chunk...)
	buf = bytes.ReplaceAll(buf, []byte("\r\n"), []byte("\n"))

	var events []Event
	for {
		idx := bytes.Index(buf, []byte(frameSeparator))
		if idx < 0 {
			break
		}
		frame := string(buf[:idx])
		buf = buf[idx+len(frameSeparator):]

		if ev, ok := p.decode(frame); ok {
			events = append(events, ev)
		}
	}

	p.pending = append(p.pending[:0], buf...)
	return events
}

// Pending returns the buffered bytes of the unterminated frame.
func (p *Parser) Pending() []byte {
	return p.pending
}

// Reset discards any buffered partial frame.
func (p *Parser) Reset() {
	p.pending = p.pending[:0]
}

// decode extracts and parses the payload of one complete frame.
func (p *Parser) decode(frame string) (Event, bool) {
	var dataLines []string
	for _, line := range strings.Split(frame, "\n") {
		if !strings.HasPrefix(line, dataPrefix) {
			// Comments, event:, id:, retry: and stray lines carry nothing we use
			continue
		}
		value := strings.TrimPrefix(line, dataPrefix)
		value = strings.TrimPrefix(value, " ")
		dataLines = append(dataLines, value)
	}
	if len(dataLines) == 0 {
		return nil, false
	}

	payload := strings.Join(dataLines, "\n")
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev == nil {
		p.logger.Debug("dropped malformed frame",
			"error", err,
			"payload", truncate(payload, 120))
		return nil, false
	}
	return ev, true
}

// Encode renders v as a single frame.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	out := make([]byte, 0, len(data)+len(dataPrefix)+3)
	out = append(out, dataPrefix...)
	out = append(out, ' ')
	out = append(out, data...)
	out = append(out, frameSeparator...)
	return out, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
