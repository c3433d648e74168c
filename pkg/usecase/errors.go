package usecase

import "errors"

// Sentinel errors for use case layer
var (
	// ErrItemPanicked marks a batch item whose processing panicked
	ErrItemPanicked = errors.New("batch item panicked")
)

// Context keys for error values
const (
	StageKey = "stage"
	QueryKey = "query"
	LimitKey = "limit"
)
