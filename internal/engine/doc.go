// Package engine implements the highlight synchronization engine: a
// single-writer event loop that projects annotation-surface events into
// durable outline nodes and answers with protocol messages.
//
// Thread-safety model:
//   - Attach, Detach, SetActive, Handle, EnqueueTask: safe from any
//     goroutine; they enqueue work.
//   - Run: must be called from exactly one goroutine; every store
//     mutation happens inside it.
//
// The outline store provides linearizable single-node operations only.
// The engine performs unguarded multi-node sequences on top of it (page
// creation, record creation); an interruption mid-sequence can leave a
// partial shape, which is accepted and tolerated on read, not rolled
// back.
package engine
