// Package npstore provides storage implementations for persisting
// NPipeline node checkpoints and dead-letter records (spec §4.14,
// §6 "StateManager"/"DeadLetterSink").
//
// # Core concepts
//
// A StateCheckpoint captures one node's resumable progress — the replay
// cursor a ResilientWithReplay node would restore on restart, or a keyed
// aggregate's window state — keyed by an opaque ID within a pipeline run.
// A DeadLetterRecord is the durable record an error handler's DeadLetter
// decision produces for one failed item.
//
// Both are reached through the Store interface; npipeline never talks to
// a concrete backend directly, matching spec §1's treatment of
// persistence as an external collaborator.
//
// # Implementations
//
//   - npstore/memory: in-process map-backed store.
//   - npstore/sqlite: github.com/mattn/go-sqlite3-backed, for
//     single-process deployments needing a durable file.
//   - npstore/postgres: github.com/jackc/pgx/v5-backed, for production
//     deployments; DBPool is a narrow interface so pgxmock can stand in
//     for tests.
//   - npstore/redis: github.com/redis/go-redis/v9-backed with optional
//     TTL, for shared high-throughput deployments.
//   - npstore/file: append-only JSON-lines file store, useful as a
//     dead-letter sink in examples/tests where a database is
//     unavailable.
//
// # Type-tagged serialization
//
// TypeRegistry lets callers register the concrete Go types flowing
// through their accumulators and replay buffers so a SaveState/LoadState
// round trip recovers the original type instead of a generic
// map[string]any. Registration is optional: unregistered types still
// round-trip through plain JSON, just without type recovery on load.
package npstore
