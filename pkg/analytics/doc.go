// Package analytics implements the event telemetry pipeline for the
// ShellQuest learning game: anonymized event ingestion into a buffered
// in-memory queue, per-session aggregation, batched persistence with a
// background flush worker, derived per-player insights, global
// aggregates, and time-based retention cleanup.
//
// The package is an embedded library. The game's web layer constructs
// one Engine at process start and calls Track/StartSession/EndSession
// from its request handlers; nothing here exposes a wire protocol of
// its own. Raw player identifiers never leave the ingestion call: they
// are replaced by a salted one-way hash before an event is buffered,
// persisted, or returned.
package analytics
