package engine

import "errors"

// Request-fatal errors. Everything else the engine absorbs: decode failures
// degrade to "no data from this tier", and side-effect failures are logged
// and dropped.
var (
	// ErrNoLinkedItems means the user has no linked bank items; paid tiers
	// are never invoked.
	ErrNoLinkedItems = errors.New("no linked bank items")

	// ErrPolicyBlocked means the request content was rejected before any
	// tier ran.
	ErrPolicyBlocked = errors.New("request blocked by content policy")
)
