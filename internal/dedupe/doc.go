// Package dedupe detects repeated keys within a sliding time window. The
// fake backend uses it to answer replayed form submissions without saving
// them twice.
package dedupe
