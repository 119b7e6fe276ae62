// Package filesystem wraps the file reads the library depends on with retry
// logic for stale file handle errors (ESTALE).
//
// Capture libraries and the screenshot folders they import from often live
// on network or sync-client mounts, where a file being replaced briefly
// reports a stale handle. Open and ReadFile retry those errors with capped
// exponential backoff and return every other error immediately:
//
//	data, err := filesystem.ReadFile(path, filesystem.DefaultRetryConfig())
//
// Retries are counted in capture_library_filesystem_stale_errors_total and
// capture_library_filesystem_retries_total.
package filesystem
