// Package cleanup keeps the capture library within its retention, item-count
// and byte budgets. Pinned items are never deleted or stripped.
//
// A pass applies three policies in order, each only when its threshold is
// positive and currently exceeded:
//
//  1. Retention: delete unpinned items older than RetentionDays.
//  2. Count: delete the oldest unpinned items until at most MaxItems remain.
//  3. Bytes: strip previews from unpinned items oldest first, then delete
//     whole unpinned items oldest first, until at most MaxBytes are held.
//
// Stats are re-read between phases. Individual writes suppress the library
// changed notification; the pass sends one at the end if anything changed.
//
// Scheduler runs passes on a cron schedule.
package cleanup
