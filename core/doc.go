// Package core provides the foundational domain types and contracts shared by
// every other package of the agentic chat runtime:
//
//   - Messages, tool calls and threads (the conversation log)
//   - Events (the typed protocol emitted while a run progresses)
//   - The error taxonomy and its wire representation
//   - Checkpoint and artifact store contracts
//   - ToolContext (the scoped surface handed to tool implementations)
//
// The package deliberately contains no orchestration or persistence logic;
// those live in flow, runner, checkpoint and artifact.
package core
