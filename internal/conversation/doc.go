// Package conversation is the façade presentation layers use to drive an
// Otto conversation.
//
// # Overview
//
// An Engine owns the transcript, status and error of one conversation. It
// accepts commands, delegates the network side of each turn to a
// session.Controller, and publishes every state change to subscribers:
//
//	eng, err := conversation.New(conversation.Config{
//	    BaseURL:     "https://otto.example.com",
//	    Credentials: auth.EnvFileToken{},
//	})
//	updates := eng.Subscribe(ctx)
//	eng.Send("cadastre um produto", "products")
//
// # Commands
//
//   - Send(input, pageKey): appends the user message, then starts a turn
//   - SubmitForm(id, values): marks the form submitted, adds a summary user
//     message and starts a turn with input "[FORM_SUBMIT]{...}"
//   - RespondInteractive(id, value): records the first answer only; no turn
//   - Reset(): aborts the turn and clears everything
//   - Cancel(): aborts the turn, status back to idle
//
// Starting a turn always aborts the previous one. Nothing from an aborted
// turn is applied afterwards.
//
// # Status
//
//	idle --Send/SubmitForm--> streaming --terminal event or EOF--> done
//	streaming --transport failure--> error
//	streaming --Cancel--> idle
//	any --Reset--> idle
//
// # Broadcasting
//
// Subscribe returns a channel seeded with the current state. Publishing
// never blocks; a subscriber that falls behind loses intermediate
// snapshots but always receives the latest one.
package conversation
