// Package engine implements the conversation orchestration loop: webhook
// intake feeds an unbounded FIFO queue, a single worker drains it one turn at
// a time, and each turn runs the plan/execute cycle against the model and the
// tool registry. A background sweep closes conversations that have gone idle.
//
// Durability model: the per-conversation message log is the sole source of
// truth. In-memory checkpoints are a rebuildable cache; losing one only costs
// a rehydration pass over the log.
package engine
