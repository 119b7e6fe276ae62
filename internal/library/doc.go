// Package library is the capture library engine's entry point.
//
// A Worker owns the SQLite database and the asset tree and executes every
// read and write on a single goroutine, in submission order. Library wraps
// the worker with two bounded admission queues:
//
//   - general (capacity 8): captures, edits, deletes, queries, cleanup
//   - indexing (capacity 2): OCR work, including background reindexing
//
// A request that finds its queue full is dropped immediately and reported as
// not enqueued. Library converts failures into logged empty results; callers
// that need the error taxonomy use the Worker directly.
//
// Successful writes publish an Event on the worker's Broadcaster. Bulk
// operations (cleanup, reindex, legacy import) suppress per-item events and
// publish one at the end.
package library
