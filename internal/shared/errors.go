package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")
	ErrInvalidRule   = fmt.Errorf("invalid cache rule")

	// Network errors
	ErrNetwork = fmt.Errorf("network request failed")
	ErrTimeout = fmt.Errorf("operation timed out")

	// Cache errors
	ErrCacheMiss          = fmt.Errorf("no cached response")
	ErrBucketNotFound     = fmt.Errorf("bucket not found")
	ErrUnsupportedBackend = fmt.Errorf("unsupported cache backend")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
