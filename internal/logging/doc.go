// Package logging builds the slog loggers used by the otto commands: a
// colorized single-line handler for terminals and JSON for everything else.
package logging
