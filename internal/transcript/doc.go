// Package transcript holds the conversation data model and the reducer that
// folds stream events into it.
//
// # Reducer
//
// Reducer.Reduce is a pure step function:
//
//	next, cursor, outcome := r.Reduce(messages, cursor, event)
//
// The Cursor carries the id of the assistant message currently receiving
// streamed text. It is threaded through successive calls by the caller and
// never stored anywhere else, so a superseded stream cannot leak its cursor
// into a new one.
//
// Dispatch follows event role in this order: form, component, tool, system,
// interactive, then the assistant text path. Outcome.Terminal reports that
// the turn is over even if the connection stays open.
//
// # Invariants
//
//   - Message ids are unique and creation-ordered.
//   - Transcript order is append order.
//   - At most one message has Streaming set.
//   - The input slice is never modified; changed messages are copied.
package transcript
