// Package storage is the durable repository behind the in-process
// cache. It keeps the usage history cost aggregates are computed from,
// provider endpoints with their health state, provider cost rules and
// notification settings.
//
// Two backends implement the same interface: SQLiteBackend persists to
// disk through WAL-mode SQLite for single-instance deployments, and
// MemoryBackend keeps everything in process memory for tests and
// ephemeral runs. A RetentionScheduler prunes usage history past the
// retention horizon on a cron schedule.
package storage
