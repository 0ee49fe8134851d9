package pool

import "errors"

// Sentinel errors shared by every pool implementation.
var (
	// ErrPoolClosed reports an operation against a pool after Close.
	ErrPoolClosed = errors.New("parameter pool is closed")

	// ErrValueNotFound reports a lookup for a value the pool does not hold.
	ErrValueNotFound = errors.New("value not found in pool")

	// ErrInvalidSemanticType reports an empty or malformed semantic type.
	ErrInvalidSemanticType = errors.New("invalid semantic type")
)
