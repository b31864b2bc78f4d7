// Package reconciler rebuilds a live, deduplicated transcript from a run's
// event stream on the consumer side.
//
// A Transcript holds the closed messages of a thread plus at most one open
// message that is still receiving chunks. Chunks are a discardable preview:
// the final message of an invocation replaces the open message verbatim.
// Messages are matched by id, so replaying events never duplicates entries.
//
// System messages and messages without content (tool-call-only assistant
// turns) are never surfaced. When a run fails, a message still open is
// discarded and a single synthetic error message is appended. Messages the
// failed run surfaced after its last checkpoint commit stay visible but are
// marked Uncommitted in Entries.
package reconciler
