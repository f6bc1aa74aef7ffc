// Package dentaldesk is the root of the DentalDesk module, a WhatsApp
// assistant for a dental clinic. The module is organized as:
//
//   - core: shared domain types (events, parts, checkpoints, store and
//     sender interfaces)
//   - engine: the inbound queue, the single-worker turn loop and the idle
//     conversation sweep
//   - model, model/openai, model/anthropic: the planner abstraction and
//     provider adapters
//   - tool, clinic: the tool runtime and the clinic's toolset and persona
//   - store: the SQLite-backed durable store
//   - whatsapp: Graph API sender and webhook payload handling
//   - config, logging: YAML/env configuration and structured logging
//
// The runnable entrypoint lives in cmd/dentaldesk; examples/console runs
// the same pipeline against a terminal.
package dentaldesk
