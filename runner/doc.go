// Package runner turns the control loop into a run service: Submit starts a
// run against a thread and returns its event stream.
//
// # Responsibilities
//   - Single writer per thread: a second submit on a busy thread is rejected
//     with core.ErrThreadBusy or queued, depending on the BusyPolicy
//   - Cancellation by run id or thread id; a cancelled run ends with
//     run_failed(CANCELLED) and persists nothing for the interrupted transition
//   - Fan-out of every event to optional sinks (e.g. an AMQP publisher)
//
// The event channel returned by Submit is closed after the terminal event.
// Callers must drain it: the loop blocks on a full channel.
package runner
