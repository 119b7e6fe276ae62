package database

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the metadata store.
type ErrorKind int

const (
	// KindStatement is a prepare/step/commit failure inside the engine.
	KindStatement ErrorKind = iota
	// KindUnavailable means the connection or asset root is not open.
	KindUnavailable
	// KindNotFound means the addressed item does not exist.
	KindNotFound
	// KindAssetIO is a derived image write, scale or encode failure.
	KindAssetIO
)

func (k ErrorKind) String() string {
	switch k {
	case KindStatement:
		return "statement error"
	case KindUnavailable:
		return "store unavailable"
	case KindNotFound:
		return "not found"
	case KindAssetIO:
		return "asset io error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	// ErrStoreUnavailable is returned when the store is closed or never opened.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned when an item id has no row.
	ErrNotFound = errors.New("capture item not found")
	// ErrNoThumbnail is returned when an insert carries no thumbnail path.
	ErrNoThumbnail = errors.New("capture item has no thumbnail asset")
)

// StoreError carries the failing operation and the underlying engine message.
type StoreError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is (or wraps) a StoreError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

func statementError(op string, err error) error {
	return &StoreError{Op: op, Kind: KindStatement, Err: err}
}

func notFound(op, id string) error {
	return &StoreError{Op: op, Kind: KindNotFound, Err: fmt.Errorf("%w: %s", ErrNotFound, id)}
}
