package assets

import (
	"errors"
	"fmt"
)

// ErrEmptyImage is returned when a source bitmap has zero area.
var ErrEmptyImage = errors.New("source image has zero area")

// IOError is a failed scale, encode or write of an asset.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("asset %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("asset %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
