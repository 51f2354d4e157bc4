package volumes

import "errors"

var (
	// ErrNotFound is returned when a named volume does not exist.
	ErrNotFound = errors.New("volume not found")
	// ErrSnapshotFailed marks a failed snapshot. It is fatal to the
	// enclosing bundle operation: no partial bundle is ever emitted.
	ErrSnapshotFailed = errors.New("volume snapshot failed")
)
