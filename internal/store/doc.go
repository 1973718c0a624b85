// Package store persists otto conversations using SQLite.
//
// # Architecture
//
// Store is the interface the CLI saves through after each finished turn and
// loads from when resuming. SQLiteStore implements it on modernc.org/sqlite
// (pure Go, no cgo); MockStore implements it in memory for tests.
//
// # Data Model
//
//   - conversations: one row per conversation key with its title (first
//     user message), status, error and timestamps
//   - messages: the transcript in order, one row per message, with the full
//     message JSON in payload and role/content broken out for inspection
//
// Saving replaces the whole transcript in one transaction, so a reader
// never sees a half-written conversation. Messages that were still
// streaming are stored as finished.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("~/.local/share/otto/otto.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	err = s.SaveConversation(ctx, "default", eng.State())
//	st, err := s.LoadConversation(ctx, "default")
package store
