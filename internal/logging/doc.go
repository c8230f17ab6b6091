// Package logging assembles structured slog loggers and formatting helpers used
// across the media library commands.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context helpers so ingest and crawl runs tag their
// lines with a run identifier. NewNop is provided for tests and wiring code
// that has no logger to hand.
package logging
