package linesource

import (
	"errors"
)

var (
	// ErrNotFound is returned for an index outside the resource.
	ErrNotFound = errors.New("line not found")
	// ErrLookupTimeout is returned when a lookup did not finish in time.
	ErrLookupTimeout = errors.New("lookup timed out")
)
