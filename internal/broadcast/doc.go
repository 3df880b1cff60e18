// Package broadcast implements repeating broadcast jobs.
//
// A job is one independently configured unit of repeating work: an interval,
// an ordered list of message variants, an optional button layout, and a set of
// destination chats. The Registry owns every live job: it assigns identifiers,
// spawns the per-job event loop, serves summary listings, and signals
// cancellation on removal.
//
// Concurrency model
//
// Each job runs as a single goroutine that exclusively owns its state. The only
// way in is the bounded edit queue (append a message variant) and the
// cancellation context; the only way out is the Sender collaborator. On every
// tick the loop fans deliveries out to all destinations concurrently and waits
// for the whole round to finish before it goes back to waiting.
//
// Delivery semantics
//
// Best-effort. A failed send is logged and never aborts the round or the job.
// Jobs are memory-resident for the process lifetime; nothing is persisted.
package broadcast
