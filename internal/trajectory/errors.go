package trajectory

import "errors"

// Error taxonomy shared by the builder, detector and formatter.
// Callers match with errors.Is; the wrapped message carries the detail.
var (
	// ErrValidation reports malformed or inconsistent input
	ErrValidation = errors.New("validation error")
	// ErrOutOfRange reports a lookup outside a trajectory's time range
	ErrOutOfRange = errors.New("out of range")
)
