/*
Package workers sizes and runs the small goroutine pools the library uses for
parallel image decoding, such as the legacy history import.

Counts are derived from runtime.GOMAXPROCS rather than runtime.NumCPU so a
process confined by cgroup CPU limits does not oversubscribe:

	n := workers.ForCPU(8) // one per available CPU, at most 8

The CAPTURE_IMPORT_WORKERS environment variable overrides the calculation
(still capped by the limit argument):

	CAPTURE_IMPORT_WORKERS=2 capturectl import history.json

Each runs a bounded fan-out over an index range on top of errgroup:

	err := workers.Each(ctx, n, len(entries), func(ctx context.Context, i int) error {
		decoded[i] = decode(entries[i])
		return nil
	})
*/
package workers
