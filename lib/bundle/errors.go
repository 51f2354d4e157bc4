package bundle

import "errors"

var (
	// ErrMalformedBundle is returned when a supplied bundle lacks the
	// expected inner structure. It is always detected before any volume is
	// mutated.
	ErrMalformedBundle = errors.New("malformed bundle")

	// ErrRestoreInterrupted marks a volume replay that failed partway.
	// The affected volume is left in an undefined partial state, with no
	// rollback, and must be treated as untrustworthy until a fresh
	// restore succeeds.
	ErrRestoreInterrupted = errors.New("volume restore interrupted")
)
