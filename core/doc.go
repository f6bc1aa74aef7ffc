// Package core provides the foundational domain types, interfaces and
// execution contexts used by DentalDesk. It defines the core abstractions for:
//
//   - Patients, conversations and the durable per-conversation message log
//   - Transcript events (immutable typed records mirroring the log)
//   - Checkpoints (rebuildable in-memory working state per conversation)
//   - ToolContext (scoped execution context handed to tools)
//   - Pluggable stores for durable state and checkpoints, and the outbound
//     message channel
//
// The package intentionally keeps implementation concerns (persistence,
// orchestration, concrete planners) out of scope, exposing small interfaces
// to enable custom backends and extensions.
package core
