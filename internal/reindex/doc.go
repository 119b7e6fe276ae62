// Package reindex re-runs OCR when the configured recognition languages
// change, without blocking interactive use of the library.
//
// A pass walks items whose stored OCR language label differs from the target
// key, newest first, in batches. Items already recognized with the same
// language set only get their label rewritten; the rest are re-recognized
// from their best available image. The pass persists a (createdAt, id) cursor
// after every item so an interrupted pass resumes where it stopped, and marks
// the key applied when no candidates remain.
//
// Passes are cooperative: each checks, before every batch and every item,
// that its context is live and that no newer target has superseded it.
package reindex
