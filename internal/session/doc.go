// Package session runs the network side of one Otto turn.
//
// # Overview
//
// A Controller owns at most one live stream. Begin cancels whatever stream
// is running, resolves a token, posts the request and reads the response in
// a goroutine:
//
//	bytes -> sse.Parser -> transcript.Reducer -> Target.Mutate
//
// Every event is applied with its own Mutate call, in arrival order, and
// only while the session is still the current one. The check and the
// mutation happen under the controller lock, so once a newer session has
// begun nothing from the older one reaches the Target.
//
// # Request
//
//	POST {base}/api/otto/stream?token=<bearer>
//	{"input": "...", "page_key": "products" | null, "history": [{"role","content"}...]}
//
// # Endings
//
//   - Terminal event: status from the reducer, connection closed.
//   - EOF without terminal event: streaming flag cleared, status done.
//   - Non-2xx status, read error or missing token: status error with a
//     readable message; the transcript is left as it was.
//   - Cancel: connection aborted, state untouched.
package session
