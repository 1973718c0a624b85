// Package sse decodes the Otto event stream.
//
// # Framing
//
// The backend writes one JSON object per frame:
//
//	data: {"role":"tool","tool_name":"classify_ncm","done":false}
//
// Frames end at a blank line. A Parser is fed raw transport chunks in
// arrival order and returns every frame completed by that chunk; the
// unterminated tail is held until more bytes arrive. Frames whose payload is
// not a JSON object are dropped.
//
// # Usage
//
//	p := sse.NewParser(logger)
//	for {
//		n, err := body.Read(buf)
//		for _, ev := range p.Feed(buf[:n]) {
//			handle(ev)
//		}
//		...
//	}
//
// The package knows nothing about conversation semantics; Event is an open
// map and callers pick the keys they care about.
package sse
