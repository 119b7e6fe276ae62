package filesystem

import (
	"errors"
	"os"
	"syscall"
	"time"

	"capture-library/internal/logging"
	"capture-library/internal/metrics"
)

// RetryConfig configures retry behavior for filesystem operations
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the defaults used for library and import reads.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

// isStaleError reports whether err is a stale file handle error, which
// network and synced folders return while a file is being replaced.
func isStaleError(err error) bool {
	if err == nil {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ESTALE
	}
	return false
}

// Open performs os.Open, retrying stale file handle errors.
func Open(path string, config RetryConfig) (*os.File, error) {
	return withRetry("open", path, config, func() (*os.File, error) { return os.Open(path) })
}

// ReadFile performs os.ReadFile, retrying stale file handle errors.
func ReadFile(path string, config RetryConfig) ([]byte, error) {
	return withRetry("read", path, config, func() ([]byte, error) { return os.ReadFile(path) })
}

func withRetry[T any](op, path string, config RetryConfig, fn func() (T, error)) (T, error) {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		v, err := fn()
		if err == nil {
			if attempt > 0 {
				logging.Info("%s succeeded on retry %d for %s", op, attempt, path)
				metrics.FilesystemRetriesTotal.WithLabelValues(op, "success").Inc()
			}
			return v, nil
		}

		lastErr = err
		if !isStaleError(err) {
			var zero T
			return zero, err
		}
		metrics.FilesystemStaleErrors.WithLabelValues(op).Inc()

		// Don't sleep after the last attempt
		if attempt < config.MaxRetries {
			logging.Debug("Stale file handle on %s of %s, retrying in %v (attempt %d/%d)",
				op, path, backoff, attempt+1, config.MaxRetries)
			time.Sleep(backoff)

			backoff *= 2
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	logging.Warn("%s failed after %d retries for %s: %v", op, config.MaxRetries, path, lastErr)
	metrics.FilesystemRetriesTotal.WithLabelValues(op, "failure").Inc()
	var zero T
	return zero, lastErr
}
