// Package checkpoint contains implementations of core.CheckpointStore.
//
// Every store persists a thread's ordered message log as plain data and
// replaces it atomically on Put: after a failed Put the previously committed
// log is still the one returned by Get. Stores validate the log before
// writing and never share slices with callers.
//
// Available backends: InMemoryStore (tests, single process), SQLStore
// (SQLite or MySQL, one row per message) and RedisStore (one JSON value per
// thread). Open selects a backend from a Config.
package checkpoint
