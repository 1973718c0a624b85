// Package fakebackend is a scripted stand-in for the Otto backend, used for
// local development and end-to-end tests.
//
// # Endpoints
//
//	POST /api/otto/stream?token=T   body {"input", "page_key", "history"}
//	GET  /api/otto/stream?token=T&input=...&page_key=...
//	GET  /health
//
// Both stream endpoints answer with text/event-stream frames produced by a
// Responder. When none is configured, DefaultResponder picks a script from
// keywords in the input, so every event role can be exercised by hand:
//
//	formulário, cadastr   form (ends the turn)
//	[FORM_SUBMIT]...      tool call echoing the values, then a reply
//	tabela, produto       kv_table and product_card components
//	confirm               confirm prompt
//	erro                  system error
//	limite                tool calls until the iteration limit
//	anything else         thinking, tool call, streamed answer
//
// With Config.ReplayWindow set, a form submission repeated by the same
// token within the window gets ReplayedSubmission instead of being saved
// again.
//
// # Authentication
//
// A request without a token is always rejected with 401. With Config.Token
// set the token must match it exactly; with Config.Verifier set it must
// verify. Otherwise any non-empty token is accepted.
package fakebackend
